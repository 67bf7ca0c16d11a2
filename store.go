package fieldsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ============================================================================
// Store
// ============================================================================

// Store is the crash-durable on-device store for queued mutations, queued
// attachments and the response cache. It exclusively owns the on-disk
// representation; every other component goes through these accessors.
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger overrides the store's logger.
func WithStoreLogger(log *logrus.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// OpenStore opens (creating if needed) the SQLite-backed store in dataDir.
// The database is opened in WAL mode with a single writer connection, the
// way a single-client offline store wants it.
func OpenStore(dataDir string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, storageErr("open", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "fieldsync.db"))
	if err != nil {
		return nil, storageErr("open", err)
	}

	// SQLite supports one writer; funnel everything through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, storageErr("open", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, storageErr("open", err)
	}

	s := &Store{db: db, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// Schema migrations
// ============================================================================

// migrations restructure one collection at a time; an upgrade must never
// destroy sibling collections, so each step is additive or rewrites only
// the table it names.
var migrations = []struct {
	version     int
	description string
	stmts       []string
}{
	{
		version:     1,
		description: "mutations and cache collections",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS mutations (
				id TEXT PRIMARY KEY,
				resource_type TEXT NOT NULL,
				action TEXT NOT NULL,
				payload BLOB,
				endpoint TEXT NOT NULL,
				method TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'pending',
				optimistic BLOB
			);`,
			`CREATE INDEX IF NOT EXISTS idx_mutations_status ON mutations(status);`,
			`CREATE TABLE IF NOT EXISTS cache (
				key TEXT PRIMARY KEY,
				value BLOB,
				updated_at INTEGER NOT NULL
			);`,
		},
	},
	{
		version:     2,
		description: "attachments collection",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS attachments (
				id TEXT PRIMARY KEY,
				parent_id TEXT NOT NULL,
				slot TEXT NOT NULL,
				blob BLOB NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				created_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_attachments_parent ON attachments(parent_id, status);`,
		},
	},
	{
		version:     3,
		description: "composite drain index on mutations",
		stmts: []string{
			`DROP INDEX IF EXISTS idx_mutations_status;`,
			`CREATE INDEX IF NOT EXISTS idx_mutations_status_created ON mutations(status, created_at);`,
		},
	},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL,
		description TEXT NOT NULL
	);`); err != nil {
		return storageErr("migrate", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return storageErr("migrate", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return storageErr("migrate", err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return storageErr(fmt.Sprintf("migrate v%d", m.version), err)
			}
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, applied_at, description) VALUES (?, ?, ?)",
			m.version, time.Now().Unix(), m.description,
		); err != nil {
			tx.Rollback()
			return storageErr(fmt.Sprintf("migrate v%d", m.version), err)
		}
		if err := tx.Commit(); err != nil {
			return storageErr(fmt.Sprintf("migrate v%d", m.version), err)
		}
		s.log.WithFields(logrus.Fields{"version": m.version, "description": m.description}).
			Info("store schema upgraded")
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	return v, storageErr("schemaVersion", err)
}

// ============================================================================
// Mutations
// ============================================================================

const mutationColumns = "id, resource_type, action, payload, endpoint, method, created_at, retry_count, status, optimistic"

// EnqueueMutation persists a new mutation with status pending and retry
// count zero, and returns its assigned id. The endpoint is normalized to a
// relative path before it is written.
func (s *Store) EnqueueMutation(ctx context.Context, spec MutationSpec) (string, error) {
	id := uuid.New().String()
	now := time.Now()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO mutations ("+mutationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)",
		id, string(spec.ResourceType), string(spec.Action), []byte(spec.Payload),
		NormalizeEndpoint(spec.Endpoint), spec.Method, now.UnixNano(),
		string(MutationPending), []byte(spec.OptimisticData),
	)
	if err != nil {
		return "", storageErr("enqueueMutation", err)
	}

	s.log.WithFields(logrus.Fields{
		"id":       id,
		"resource": spec.ResourceType,
		"action":   spec.Action,
		"endpoint": spec.Endpoint,
	}).Debug("mutation enqueued")
	return id, nil
}

func scanMutations(rows *sql.Rows) ([]QueuedMutation, error) {
	var out []QueuedMutation
	for rows.Next() {
		var (
			m         QueuedMutation
			payload   []byte
			optim     []byte
			createdNs int64
		)
		if err := rows.Scan(&m.ID, &m.ResourceType, &m.Action, &payload, &m.Endpoint,
			&m.Method, &createdNs, &m.RetryCount, &m.Status, &optim); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			m.Payload = json.RawMessage(payload)
		}
		if len(optim) > 0 {
			m.OptimisticData = json.RawMessage(optim)
		}
		m.CreatedAt = time.Unix(0, createdNs)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMutations returns every queued mutation, oldest first. When status is
// non-empty only mutations in that state are returned. The ascending order
// governs replay order during a drain.
func (s *Store) ListMutations(ctx context.Context, status MutationStatus) ([]QueuedMutation, error) {
	query := "SELECT " + mutationColumns + " FROM mutations ORDER BY created_at ASC"
	args := []any{}
	if status != "" {
		query = "SELECT " + mutationColumns + " FROM mutations WHERE status = ? ORDER BY created_at ASC"
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("listMutations", err)
	}
	defer rows.Close()

	out, err := scanMutations(rows)
	if err != nil {
		return nil, storageErr("listMutations", err)
	}
	return out, nil
}

// ListMutationsByType returns every queued mutation for one resource type,
// oldest first, regardless of status. Used to render pending-sync badges.
func (s *Store) ListMutationsByType(ctx context.Context, rt ResourceType) ([]QueuedMutation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+mutationColumns+" FROM mutations WHERE resource_type = ? ORDER BY created_at ASC",
		string(rt))
	if err != nil {
		return nil, storageErr("listMutationsByType", err)
	}
	defer rows.Close()

	out, err := scanMutations(rows)
	if err != nil {
		return nil, storageErr("listMutationsByType", err)
	}
	return out, nil
}

// SetMutationStatus updates a mutation's status, and its retry count when
// retryCount is non-nil. A missing id is a no-op: the mutation was already
// synced and removed by a concurrent pass.
func (s *Store) SetMutationStatus(ctx context.Context, id string, status MutationStatus, retryCount *int) error {
	var err error
	if retryCount != nil {
		_, err = s.db.ExecContext(ctx,
			"UPDATE mutations SET status = ?, retry_count = ? WHERE id = ?",
			string(status), *retryCount, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE mutations SET status = ? WHERE id = ?", string(status), id)
	}
	return storageErr("setMutationStatus", err)
}

// RemoveMutation deletes a mutation after a successful replay.
func (s *Store) RemoveMutation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM mutations WHERE id = ?", id)
	return storageErr("removeMutation", err)
}

// ResetMutationForRetry returns a failed mutation to pending with its retry
// count cleared. This is the only way out of the failed state.
func (s *Store) ResetMutationForRetry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE mutations SET status = ?, retry_count = 0 WHERE id = ?",
		string(MutationPending), id)
	return storageErr("resetMutationForRetry", err)
}

// PurgeNonPending deletes every mutation whose status is not pending and
// returns the number removed. Manual cleanup only; the sync engine never
// calls this, so failed mutations stay visible for intervention.
func (s *Store) PurgeNonPending(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM mutations WHERE status != ?", string(MutationPending))
	if err != nil {
		return 0, storageErr("purgeNonPending", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats summarizes the mutation queue by status.
func (s *Store) Stats(ctx context.Context) (MutationStats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM mutations GROUP BY status")
	if err != nil {
		return MutationStats{}, storageErr("stats", err)
	}
	defer rows.Close()

	var st MutationStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return MutationStats{}, storageErr("stats", err)
		}
		st.Total += n
		switch MutationStatus(status) {
		case MutationPending:
			st.Pending = n
		case MutationSyncing:
			st.Syncing = n
		case MutationFailed:
			st.Failed = n
		}
	}
	return st, storageErr("stats", rows.Err())
}

// ============================================================================
// Attachments
// ============================================================================

const attachmentColumns = "id, parent_id, slot, blob, status, created_at"

// EnqueueAttachment persists a new pending attachment and returns its id.
func (s *Store) EnqueueAttachment(ctx context.Context, spec AttachmentSpec) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO attachments ("+attachmentColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		id, spec.ParentID, string(spec.Slot), spec.Blob,
		string(AttachmentPending), time.Now().UnixNano())
	if err != nil {
		return "", storageErr("enqueueAttachment", err)
	}

	s.log.WithFields(logrus.Fields{"id": id, "parent": spec.ParentID, "slot": spec.Slot}).
		Debug("attachment enqueued")
	return id, nil
}

// ListAttachments returns all pending attachments when parentID is empty,
// or every attachment for that parent regardless of status otherwise.
func (s *Store) ListAttachments(ctx context.Context, parentID string) ([]QueuedAttachment, error) {
	query := "SELECT " + attachmentColumns + " FROM attachments WHERE status = ? ORDER BY created_at ASC"
	args := []any{string(AttachmentPending)}
	if parentID != "" {
		query = "SELECT " + attachmentColumns + " FROM attachments WHERE parent_id = ? ORDER BY created_at ASC"
		args = []any{parentID}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("listAttachments", err)
	}
	defer rows.Close()

	var out []QueuedAttachment
	for rows.Next() {
		var (
			a         QueuedAttachment
			createdNs int64
		)
		if err := rows.Scan(&a.ID, &a.ParentID, &a.Slot, &a.Blob, &a.Status, &createdNs); err != nil {
			return nil, storageErr("listAttachments", err)
		}
		a.CreatedAt = time.Unix(0, createdNs)
		out = append(out, a)
	}
	return out, storageErr("listAttachments", rows.Err())
}

// SetAttachmentStatus updates an attachment's status. Missing ids are a no-op.
func (s *Store) SetAttachmentStatus(ctx context.Context, id string, status AttachmentStatus) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE attachments SET status = ? WHERE id = ?", string(status), id)
	return storageErr("setAttachmentStatus", err)
}

// RemoveAttachment deletes an attachment after a successful upload.
func (s *Store) RemoveAttachment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM attachments WHERE id = ?", id)
	return storageErr("removeAttachment", err)
}

// ============================================================================
// Response cache
// ============================================================================

// GetCache returns the cached value for key, or ok=false when absent.
func (s *Store) GetCache(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("getCache", err)
	}
	return json.RawMessage(value), true, nil
}

// SetCache stores (or replaces) a cached value.
func (s *Store) SetCache(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, []byte(value), time.Now().Unix())
	return storageErr("setCache", err)
}

// RemoveCache deletes one cached value.
func (s *Store) RemoveCache(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
	return storageErr("removeCache", err)
}

// RemoveCachePrefix deletes every cached value whose key starts with prefix.
// Backs the sync engine's per-resource invalidation.
func (s *Store) RemoveCachePrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key LIKE ? || '%'", prefix)
	return storageErr("removeCachePrefix", err)
}
