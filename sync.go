package fieldsync

import (
	"context"
	"errors"
	"regexp"

	"github.com/sirupsen/logrus"
)

// DefaultRetryCeiling is the number of failed replay attempts after which a
// mutation is parked as failed and excluded from further drains until an
// explicit reset.
const DefaultRetryCeiling = 3

var jobEndpointPattern = regexp.MustCompile(`^/jobs/([^/]+)`)

// ============================================================================
// Engine
// ============================================================================

// Engine drains the queued mutations and attachments against the gateway.
// Safe to invoke repeatedly: each pass re-reads only pending-status items,
// so a concurrent second pass sees in-flight items as syncing and skips
// them.
type Engine struct {
	store        *Store
	client       *Client
	oracle       Oracle
	log          *logrus.Logger
	retryCeiling int

	unsubscribe func()
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRetryCeiling overrides the per-mutation retry ceiling.
func WithRetryCeiling(n int) EngineOption {
	return func(e *Engine) { e.retryCeiling = n }
}

// WithEngineLogger overrides the engine's logger.
func WithEngineLogger(log *logrus.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates a sync engine over the given store, gateway and oracle.
func NewEngine(store *Store, client *Client, oracle Oracle, opts ...EngineOption) *Engine {
	e := &Engine{
		store:        store,
		client:       client,
		oracle:       oracle,
		log:          logrus.StandardLogger(),
		retryCeiling: DefaultRetryCeiling,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start subscribes the engine to connectivity transitions: every
// offline-to-online edge triggers a full sync in the background.
func (e *Engine) Start() {
	if e.unsubscribe != nil {
		return
	}
	e.unsubscribe = e.oracle.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, err := e.PerformFullSync(context.Background()); err != nil {
				e.log.WithError(err).Warn("auto sync aborted")
			}
		}()
	})
}

// Stop detaches the engine from connectivity transitions.
func (e *Engine) Stop() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// ============================================================================
// Mutation drain
// ============================================================================

// SyncMutations replays all pending mutations in createdAt order. Per item:
// success removes it; a retryable failure returns it to pending with its
// retry count incremented, parking it as failed at the ceiling; a 401 that
// survives refresh returns the item to pending and aborts the whole run,
// since every subsequent replay would fail the same way and re-attempting
// in order preserves the replay sequence. Cached query results for every
// resource type that synced at least one mutation are invalidated
// afterwards, along with per-job detail caches.
func (e *Engine) SyncMutations(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if !e.oracle.Online() {
		return report, nil
	}

	pending, err := e.store.ListMutations(ctx, MutationPending)
	if err != nil {
		return report, err
	}

	touched := make(map[ResourceType]bool)
	jobIDs := make(map[string]bool)
	var abort error

	for _, m := range pending {
		if err := e.store.SetMutationStatus(ctx, m.ID, MutationSyncing, nil); err != nil {
			return report, err
		}

		endpoint := NormalizeEndpoint(m.Endpoint)
		_, sendErr := e.client.Send(ctx, m.Method, endpoint, bodyArg(m.Payload))

		if sendErr == nil {
			if err := e.store.RemoveMutation(ctx, m.ID); err != nil {
				return report, err
			}
			report.Synced++
			touched[m.ResourceType] = true
			if m.ResourceType == ResourceJob {
				if match := jobEndpointPattern.FindStringSubmatch(endpoint); len(match) > 1 {
					jobIDs[match[1]] = true
				}
			}
			continue
		}

		if errors.Is(sendErr, ErrUnauthorized) {
			// Dead credential: put the item back and stop the run.
			if err := e.store.SetMutationStatus(ctx, m.ID, MutationPending, nil); err != nil {
				return report, err
			}
			e.log.WithField("id", m.ID).Warn("credential rejected, aborting drain")
			abort = sendErr
			break
		}

		retries := m.RetryCount + 1
		if retries >= e.retryCeiling {
			if err := e.store.SetMutationStatus(ctx, m.ID, MutationFailed, &retries); err != nil {
				return report, err
			}
			report.Failed++
			e.log.WithFields(logrus.Fields{
				"id": m.ID, "resource": m.ResourceType, "retries": retries,
			}).Warn("mutation parked as failed")
			continue
		}

		if err := e.store.SetMutationStatus(ctx, m.ID, MutationPending, &retries); err != nil {
			return report, err
		}
		e.log.WithFields(logrus.Fields{
			"id": m.ID, "retries": retries,
		}).WithError(sendErr).Info("replay failed, will retry")
	}

	if err := e.invalidate(ctx, touched, jobIDs); err != nil {
		return report, err
	}
	return report, abort
}

// invalidate drops cached query results so the UI re-fetches authoritative
// data. Keys follow the "<resourceType>:" prefix scheme plus per-entity
// "job:<id>" detail keys.
func (e *Engine) invalidate(ctx context.Context, touched map[ResourceType]bool, jobIDs map[string]bool) error {
	for rt := range touched {
		if err := e.store.RemoveCachePrefix(ctx, string(rt)+":"); err != nil {
			return err
		}
	}
	for id := range jobIDs {
		if err := e.store.RemoveCache(ctx, "job:"+id); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Attachment drain
// ============================================================================

// SyncAttachments uploads all pending attachments. A failed upload is
// parked as failed immediately; there is no retry ceiling because retrying
// requires explicit user action. A 401 surviving refresh returns the item
// to pending and aborts, same as the mutation drain.
func (e *Engine) SyncAttachments(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if !e.oracle.Online() {
		return report, nil
	}

	atts, err := e.store.ListAttachments(ctx, "")
	if err != nil {
		return report, err
	}

	for _, a := range atts {
		if err := e.store.SetAttachmentStatus(ctx, a.ID, AttachmentUploading); err != nil {
			return report, err
		}

		endpoint := "/jobs/" + a.ParentID + "/photos"
		_, sendErr := e.client.SendMultipart(ctx, endpoint, "photo", a.ID+".jpg", a.Blob,
			map[string]string{"slot": string(a.Slot)})

		if sendErr == nil {
			if err := e.store.RemoveAttachment(ctx, a.ID); err != nil {
				return report, err
			}
			if err := e.store.RemoveCache(ctx, "job:"+a.ParentID); err != nil {
				return report, err
			}
			report.Synced++
			continue
		}

		if errors.Is(sendErr, ErrUnauthorized) {
			if err := e.store.SetAttachmentStatus(ctx, a.ID, AttachmentPending); err != nil {
				return report, err
			}
			e.log.WithField("id", a.ID).Warn("credential rejected, aborting attachment drain")
			return report, sendErr
		}

		if err := e.store.SetAttachmentStatus(ctx, a.ID, AttachmentFailed); err != nil {
			return report, err
		}
		report.Failed++
		e.log.WithFields(logrus.Fields{"id": a.ID, "parent": a.ParentID}).
			WithError(sendErr).Warn("attachment upload failed")
	}

	return report, nil
}

// ============================================================================
// Full sync
// ============================================================================

// PerformFullSync drains mutations, then attachments. Mutations go first so
// a queued job creation lands before any photo that depends on it. An auth
// abort in the mutation drain skips the attachment drain entirely.
func (e *Engine) PerformFullSync(ctx context.Context) (SyncReport, error) {
	mrep, err := e.SyncMutations(ctx)
	if err != nil {
		return mrep, err
	}
	arep, err := e.SyncAttachments(ctx)
	return SyncReport{
		Synced: mrep.Synced + arep.Synced,
		Failed: mrep.Failed + arep.Failed,
	}, err
}
