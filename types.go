package fieldsync

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Resource and action enums
// ============================================================================

// ResourceType identifies which domain entity a mutation affects. It is used
// after a successful sync to decide which cached query results to invalidate.
type ResourceType string

const (
	ResourceJob      ResourceType = "job"
	ResourceOrder    ResourceType = "order"
	ResourceMaterial ResourceType = "material"
	ResourceActivity ResourceType = "activity"
	ResourceSeal     ResourceType = "seal"
	ResourceUser     ResourceType = "user"
	ResourcePhoto    ResourceType = "photo"
)

// Action is the kind of write a queued mutation represents.
type Action string

const (
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionToggleActive Action = "toggle-active"
)

// MutationStatus is the lifecycle state of a queued mutation.
type MutationStatus string

const (
	MutationPending MutationStatus = "pending"
	MutationSyncing MutationStatus = "syncing"
	MutationFailed  MutationStatus = "failed"
)

// AttachmentStatus is the lifecycle state of a queued attachment.
type AttachmentStatus string

const (
	AttachmentPending   AttachmentStatus = "pending"
	AttachmentUploading AttachmentStatus = "uploading"
	AttachmentFailed    AttachmentStatus = "failed"
)

// AttachmentSlot names the position an attachment occupies on its parent.
// At most one queued attachment per (parent, slot) pair may exist at a time;
// that is a caller-level precondition, not enforced by the store.
type AttachmentSlot string

const (
	SlotBefore AttachmentSlot = "before"
	SlotAfter  AttachmentSlot = "after"
)

// ============================================================================
// Queued records
// ============================================================================

// QueuedMutation is a persisted record of a write that could not be sent
// immediately and must be replayed later.
//
// Endpoint is always stored relative to the API root, never as an absolute
// URL, so replay is agnostic to base-URL configuration changes between
// enqueue and replay. NormalizeEndpoint strips any legacy absolute prefix
// found in previously persisted records.
type QueuedMutation struct {
	ID             string          `json:"id"`
	ResourceType   ResourceType    `json:"resourceType"`
	Action         Action          `json:"action"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Endpoint       string          `json:"endpoint"`
	Method         string          `json:"method"`
	CreatedAt      time.Time       `json:"createdAt"`
	RetryCount     int             `json:"retryCount"`
	Status         MutationStatus  `json:"status"`
	OptimisticData json.RawMessage `json:"optimisticData,omitempty"`
}

// MutationSpec is the caller-supplied part of a mutation to enqueue.
// The store assigns ID, CreatedAt, RetryCount and Status.
type MutationSpec struct {
	ResourceType   ResourceType
	Action         Action
	Payload        json.RawMessage
	Endpoint       string
	Method         string
	OptimisticData json.RawMessage
}

// QueuedAttachment is a persisted binary attachment (photo) awaiting upload.
type QueuedAttachment struct {
	ID        string           `json:"id"`
	ParentID  string           `json:"parentId"`
	Blob      []byte           `json:"-"`
	Slot      AttachmentSlot   `json:"slot"`
	Status    AttachmentStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

// AttachmentSpec is the caller-supplied part of an attachment to enqueue.
type AttachmentSpec struct {
	ParentID string
	Slot     AttachmentSlot
	Blob     []byte
}

// CacheEntry is an opportunistic response-cache record. No consistency
// guarantee, purely a stale-while-revalidate aid.
type CacheEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ============================================================================
// Sync results
// ============================================================================

// SyncReport counts the outcome of one drain pass.
type SyncReport struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// WriteOptions carries the queueing metadata for Manager.Mutate.
type WriteOptions struct {
	ResourceType ResourceType
	Action       Action

	// OptimisticData is returned to the caller in place of the real server
	// response whenever the write is deferred to the queue.
	OptimisticData json.RawMessage
}

// MutationStats summarizes the mutation queue by status.
type MutationStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
}
