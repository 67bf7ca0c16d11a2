package fieldsync

import (
	"context"
	"encoding/json"
	"net/http"
)

// Per-resource convenience wrappers. Each is a thin caller of Manager.Mutate
// that fixes the endpoint, verb and queueing metadata for one domain entity;
// all queue/refresh/retry logic lives in the manager and gateway.

// ============================================================================
// Jobs
// ============================================================================

// JobsAPI wraps job writes.
type JobsAPI struct{ m *Manager }

func (j *JobsAPI) Create(ctx context.Context, body any, optimistic json.RawMessage) (json.RawMessage, error) {
	return j.m.Mutate(ctx, http.MethodPost, "/jobs", body, WriteOptions{
		ResourceType: ResourceJob, Action: ActionCreate, OptimisticData: optimistic,
	})
}

func (j *JobsAPI) Update(ctx context.Context, jobID string, body any, optimistic json.RawMessage) (json.RawMessage, error) {
	return j.m.Mutate(ctx, http.MethodPut, "/jobs/"+jobID, body, WriteOptions{
		ResourceType: ResourceJob, Action: ActionUpdate, OptimisticData: optimistic,
	})
}

func (j *JobsAPI) Delete(ctx context.Context, jobID string, optimistic json.RawMessage) (json.RawMessage, error) {
	return j.m.Mutate(ctx, http.MethodDelete, "/jobs/"+jobID, nil, WriteOptions{
		ResourceType: ResourceJob, Action: ActionDelete, OptimisticData: optimistic,
	})
}

func (j *JobsAPI) ToggleActive(ctx context.Context, jobID string, optimistic json.RawMessage) (json.RawMessage, error) {
	return j.m.Mutate(ctx, http.MethodPatch, "/jobs/"+jobID+"/active", nil, WriteOptions{
		ResourceType: ResourceJob, Action: ActionToggleActive, OptimisticData: optimistic,
	})
}

// AttachPhoto queues a photo for the job. Photos are uploaded by the sync
// engine, never inline.
func (j *JobsAPI) AttachPhoto(ctx context.Context, jobID string, slot AttachmentSlot, blob []byte) (string, error) {
	return j.m.QueueAttachment(ctx, jobID, slot, blob)
}

// ============================================================================
// Orders
// ============================================================================

// OrdersAPI wraps order writes.
type OrdersAPI struct{ m *Manager }

func (o *OrdersAPI) Create(ctx context.Context, body any, optimistic json.RawMessage) (json.RawMessage, error) {
	return o.m.Mutate(ctx, http.MethodPost, "/orders", body, WriteOptions{
		ResourceType: ResourceOrder, Action: ActionCreate, OptimisticData: optimistic,
	})
}

func (o *OrdersAPI) Update(ctx context.Context, orderID string, body any, optimistic json.RawMessage) (json.RawMessage, error) {
	return o.m.Mutate(ctx, http.MethodPut, "/orders/"+orderID, body, WriteOptions{
		ResourceType: ResourceOrder, Action: ActionUpdate, OptimisticData: optimistic,
	})
}

func (o *OrdersAPI) Delete(ctx context.Context, orderID string, optimistic json.RawMessage) (json.RawMessage, error) {
	return o.m.Mutate(ctx, http.MethodDelete, "/orders/"+orderID, nil, WriteOptions{
		ResourceType: ResourceOrder, Action: ActionDelete, OptimisticData: optimistic,
	})
}

// ImportPreview uploads an order import file and returns the server's
// preview. Imports are interactive and online-only, so this goes straight
// to the gateway and is never queued.
func (o *OrdersAPI) ImportPreview(ctx context.Context, filename string, blob []byte) (json.RawMessage, error) {
	return o.m.client.SendMultipart(ctx, "/orders/import/preview", "file", filename, blob, nil)
}

// ============================================================================
// Materials
// ============================================================================

// MaterialsAPI wraps job-material writes.
type MaterialsAPI struct{ m *Manager }

func (mt *MaterialsAPI) Add(ctx context.Context, jobID string, body any, optimistic json.RawMessage) (json.RawMessage, error) {
	return mt.m.Mutate(ctx, http.MethodPost, "/jobs/"+jobID+"/materials", body, WriteOptions{
		ResourceType: ResourceMaterial, Action: ActionCreate, OptimisticData: optimistic,
	})
}

func (mt *MaterialsAPI) Update(ctx context.Context, jobID, materialID string, body any, optimistic json.RawMessage) (json.RawMessage, error) {
	return mt.m.Mutate(ctx, http.MethodPut, "/jobs/"+jobID+"/materials/"+materialID, body, WriteOptions{
		ResourceType: ResourceMaterial, Action: ActionUpdate, OptimisticData: optimistic,
	})
}

func (mt *MaterialsAPI) Remove(ctx context.Context, jobID, materialID string, optimistic json.RawMessage) (json.RawMessage, error) {
	return mt.m.Mutate(ctx, http.MethodDelete, "/jobs/"+jobID+"/materials/"+materialID, nil, WriteOptions{
		ResourceType: ResourceMaterial, Action: ActionDelete, OptimisticData: optimistic,
	})
}

// ============================================================================
// Activities
// ============================================================================

// ActivitiesAPI wraps job-activity writes.
type ActivitiesAPI struct{ m *Manager }

func (a *ActivitiesAPI) Create(ctx context.Context, jobID string, body any, optimistic json.RawMessage) (json.RawMessage, error) {
	return a.m.Mutate(ctx, http.MethodPost, "/jobs/"+jobID+"/activities", body, WriteOptions{
		ResourceType: ResourceActivity, Action: ActionCreate, OptimisticData: optimistic,
	})
}

func (a *ActivitiesAPI) Update(ctx context.Context, jobID, activityID string, body any, optimistic json.RawMessage) (json.RawMessage, error) {
	return a.m.Mutate(ctx, http.MethodPut, "/jobs/"+jobID+"/activities/"+activityID, body, WriteOptions{
		ResourceType: ResourceActivity, Action: ActionUpdate, OptimisticData: optimistic,
	})
}

// ============================================================================
// Seals
// ============================================================================

// SealsAPI wraps seal writes.
type SealsAPI struct{ m *Manager }

func (s *SealsAPI) Create(ctx context.Context, body any, optimistic json.RawMessage) (json.RawMessage, error) {
	return s.m.Mutate(ctx, http.MethodPost, "/seals", body, WriteOptions{
		ResourceType: ResourceSeal, Action: ActionCreate, OptimisticData: optimistic,
	})
}

func (s *SealsAPI) Delete(ctx context.Context, sealID string, optimistic json.RawMessage) (json.RawMessage, error) {
	return s.m.Mutate(ctx, http.MethodDelete, "/seals/"+sealID, nil, WriteOptions{
		ResourceType: ResourceSeal, Action: ActionDelete, OptimisticData: optimistic,
	})
}

// ============================================================================
// Users
// ============================================================================

// UsersAPI wraps technician/user writes.
type UsersAPI struct{ m *Manager }

func (u *UsersAPI) Update(ctx context.Context, userID string, body any, optimistic json.RawMessage) (json.RawMessage, error) {
	return u.m.Mutate(ctx, http.MethodPut, "/users/"+userID, body, WriteOptions{
		ResourceType: ResourceUser, Action: ActionUpdate, OptimisticData: optimistic,
	})
}

func (u *UsersAPI) ToggleActive(ctx context.Context, userID string, optimistic json.RawMessage) (json.RawMessage, error) {
	return u.m.Mutate(ctx, http.MethodPatch, "/users/"+userID+"/active", nil, WriteOptions{
		ResourceType: ResourceUser, Action: ActionToggleActive, OptimisticData: optimistic,
	})
}
