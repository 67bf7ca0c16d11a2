package fieldsync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rawList(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, s := range items {
		out[i] = json.RawMessage(s)
	}
	return out
}

func TestMergePending(t *testing.T) {
	server := rawList(
		`{"id":"1","title":"Inspect boiler"}`,
		`{"id":"2","title":"Replace valve"}`,
	)

	t.Run("creates append optimistic data", func(t *testing.T) {
		merged := MergePending(server, []QueuedMutation{{
			Action:         ActionCreate,
			OptimisticData: json.RawMessage(`{"id":"tmp-1","title":"New job"}`),
		}})
		assert.Len(t, merged, 3)
		assert.JSONEq(t, `{"id":"tmp-1","title":"New job"}`, string(merged[2]))
	})

	t.Run("updates replace the matching element", func(t *testing.T) {
		merged := MergePending(server, []QueuedMutation{{
			Action:         ActionUpdate,
			Endpoint:       "/jobs/2",
			OptimisticData: json.RawMessage(`{"id":"2","title":"Replace valve urgently"}`),
		}})
		assert.Len(t, merged, 2)
		assert.JSONEq(t, `{"id":"2","title":"Replace valve urgently"}`, string(merged[1]))
		assert.JSONEq(t, `{"id":"1","title":"Inspect boiler"}`, string(merged[0]))
	})

	t.Run("toggles behave like updates", func(t *testing.T) {
		merged := MergePending(server, []QueuedMutation{{
			Action:         ActionToggleActive,
			Endpoint:       "/jobs/1/active",
			OptimisticData: json.RawMessage(`{"id":"1","active":false}`),
		}})
		assert.JSONEq(t, `{"id":"1","active":false}`, string(merged[0]))
	})

	t.Run("deletes remove the matching element", func(t *testing.T) {
		merged := MergePending(server, []QueuedMutation{{
			Action:   ActionDelete,
			Endpoint: "/jobs/1",
		}})
		assert.Len(t, merged, 1)
		assert.JSONEq(t, `{"id":"2","title":"Replace valve"}`, string(merged[0]))
	})

	t.Run("queue order applies cumulatively", func(t *testing.T) {
		merged := MergePending(server, []QueuedMutation{
			{Action: ActionCreate, OptimisticData: json.RawMessage(`{"id":"tmp-1","title":"New"}`)},
			{Action: ActionUpdate, OptimisticData: json.RawMessage(`{"id":"tmp-1","title":"Renamed"}`)},
			{Action: ActionDelete, Endpoint: "/jobs/2"},
		})
		assert.Len(t, merged, 2)
		assert.JSONEq(t, `{"id":"1","title":"Inspect boiler"}`, string(merged[0]))
		assert.JSONEq(t, `{"id":"tmp-1","title":"Renamed"}`, string(merged[1]))
	})

	t.Run("numeric ids match string path segments", func(t *testing.T) {
		numeric := rawList(`{"id":7,"title":"Old"}`)
		merged := MergePending(numeric, []QueuedMutation{{
			Action:         ActionUpdate,
			Endpoint:       "/jobs/7",
			OptimisticData: json.RawMessage(`{"id":7,"title":"New"}`),
		}})
		assert.JSONEq(t, `{"id":7,"title":"New"}`, string(merged[0]))
	})

	t.Run("mutations without a target are skipped", func(t *testing.T) {
		merged := MergePending(server, []QueuedMutation{{
			Action:   ActionUpdate,
			Endpoint: "/",
		}})
		assert.Equal(t, server, merged)
	})

	t.Run("does not mutate the input slice", func(t *testing.T) {
		before := string(server[0])
		MergePending(server, []QueuedMutation{
			{Action: ActionDelete, Endpoint: "/jobs/1"},
			{Action: ActionCreate, OptimisticData: json.RawMessage(`{"id":"x"}`)},
		})
		assert.Equal(t, before, string(server[0]))
	})
}
