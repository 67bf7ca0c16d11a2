package fieldsync

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// Manager
// ============================================================================

// Manager decides, per write, whether to attempt it immediately or to defer
// it, and guarantees the caller always gets a usable result: either the real
// response or the supplied optimistic stand-in.
type Manager struct {
	store  *Store
	client *Client
	oracle Oracle
	log    *logrus.Logger

	Jobs       *JobsAPI
	Orders     *OrdersAPI
	Materials  *MaterialsAPI
	Activities *ActivitiesAPI
	Seals      *SealsAPI
	Users      *UsersAPI
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger overrides the manager's logger.
func WithManagerLogger(log *logrus.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// NewManager wires the queue manager and its per-resource sub-APIs.
func NewManager(store *Store, client *Client, oracle Oracle, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		client: client,
		oracle: oracle,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Jobs = &JobsAPI{m: m}
	m.Orders = &OrdersAPI{m: m}
	m.Materials = &MaterialsAPI{m: m}
	m.Activities = &ActivitiesAPI{m: m}
	m.Seals = &SealsAPI{m: m}
	m.Users = &UsersAPI{m: m}
	return m
}

// Mutate performs one write against the API, or defers it.
//
// Offline, the mutation is queued and OptimisticData returned without any
// network attempt. Online, the request is sent; a network failure is
// swallowed into a queued mutation (again returning OptimisticData), while
// an application failure propagates unmodified and is never queued —
// replaying a validation error later would fail identically and corrupt
// sync state. A store failure while enqueueing propagates: a write that
// cannot even be queued is never silently dropped.
func (m *Manager) Mutate(ctx context.Context, method, endpoint string, body any, opts WriteOptions) (json.RawMessage, error) {
	payload, err := toRawMessage(body)
	if err != nil {
		return nil, err
	}

	if !m.oracle.Online() {
		if err := m.enqueue(ctx, method, endpoint, payload, opts); err != nil {
			return nil, err
		}
		return opts.OptimisticData, nil
	}

	result, err := m.client.Send(ctx, method, endpoint, bodyArg(payload))
	if err == nil {
		return result, nil
	}
	if !IsNetworkError(err) {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"resource": opts.ResourceType,
		"action":   opts.Action,
		"endpoint": endpoint,
	}).Info("network failure, deferring write to queue")

	if err := m.enqueue(ctx, method, endpoint, payload, opts); err != nil {
		return nil, err
	}
	return opts.OptimisticData, nil
}

func (m *Manager) enqueue(ctx context.Context, method, endpoint string, payload json.RawMessage, opts WriteOptions) error {
	_, err := m.store.EnqueueMutation(ctx, MutationSpec{
		ResourceType:   opts.ResourceType,
		Action:         opts.Action,
		Payload:        payload,
		Endpoint:       endpoint,
		Method:         method,
		OptimisticData: opts.OptimisticData,
	})
	return err
}

// QueueAttachment stores a binary attachment for later upload. Adding one
// for an already occupied (parent, slot) pair is a caller-level
// precondition.
func (m *Manager) QueueAttachment(ctx context.Context, parentID string, slot AttachmentSlot, blob []byte) (string, error) {
	return m.store.EnqueueAttachment(ctx, AttachmentSpec{ParentID: parentID, Slot: slot, Blob: blob})
}

// ============================================================================
// Pending inspection
// ============================================================================

// Pending returns all queued mutations awaiting replay, oldest first.
func (m *Manager) Pending(ctx context.Context) ([]QueuedMutation, error) {
	return m.store.ListMutations(ctx, MutationPending)
}

// PendingByType returns every queued mutation for one resource type,
// regardless of status. Backs per-resource "pending sync" badges.
func (m *Manager) PendingByType(ctx context.Context, rt ResourceType) ([]QueuedMutation, error) {
	return m.store.ListMutationsByType(ctx, rt)
}

// PendingCount returns the number of mutations awaiting replay.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Pending, nil
}

// ============================================================================
// Helpers
// ============================================================================

// toRawMessage serializes body once, so the bytes sent immediately are the
// bytes persisted in the queue and replayed later.
func toRawMessage(body any) (json.RawMessage, error) {
	if body == nil {
		return nil, nil
	}
	if rm, ok := body.(json.RawMessage); ok {
		return rm, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// bodyArg keeps bodyless actions bodyless: a nil RawMessage must reach the
// gateway as a nil interface, not a typed nil.
func bodyArg(payload json.RawMessage) any {
	if payload == nil {
		return nil
	}
	return payload
}
