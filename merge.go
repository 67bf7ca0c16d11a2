package fieldsync

import (
	"encoding/json"
	"strings"
)

// ============================================================================
// Optimistic merge
// ============================================================================

// MergePending splices pending mutations into a server-fetched list so the
// UI reflects deferred writes immediately. Pure function over
// resource-filtered pending mutations, applied in queue order: creates
// append their optimistic data, updates and toggles replace the matching
// element by id, deletes remove it. Mutations without a resolvable target
// are skipped.
func MergePending(serverList []json.RawMessage, pending []QueuedMutation) []json.RawMessage {
	out := make([]json.RawMessage, len(serverList))
	copy(out, serverList)

	for _, m := range pending {
		switch m.Action {
		case ActionCreate:
			if m.OptimisticData != nil {
				out = append(out, m.OptimisticData)
			}

		case ActionUpdate, ActionToggleActive:
			id := mutationTargetID(m)
			if id == "" || m.OptimisticData == nil {
				continue
			}
			for i, item := range out {
				if itemID(item) == id {
					out[i] = m.OptimisticData
				}
			}

		case ActionDelete:
			id := mutationTargetID(m)
			if id == "" {
				continue
			}
			kept := out[:0]
			for _, item := range out {
				if itemID(item) != id {
					kept = append(kept, item)
				}
			}
			out = kept
		}
	}
	return out
}

// mutationTargetID resolves the entity a mutation targets: the optimistic
// data's id when present, otherwise the last endpoint path segment.
func mutationTargetID(m QueuedMutation) string {
	if id := itemID(m.OptimisticData); id != "" {
		return id
	}
	endpoint := NormalizeEndpoint(m.Endpoint)
	if i := strings.LastIndex(endpoint, "/"); i >= 0 && i+1 < len(endpoint) {
		return endpoint[i+1:]
	}
	return ""
}

// itemID extracts the "id" field from a JSON object, accepting both string
// and numeric ids.
func itemID(item json.RawMessage) string {
	if item == nil {
		return ""
	}
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(item, &probe); err != nil || probe.ID == nil {
		return ""
	}
	return strings.Trim(string(probe.ID), `"`)
}
