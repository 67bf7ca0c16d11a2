package fieldsync

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestManualOracle(t *testing.T) {
	t.Run("reports the initial state", func(t *testing.T) {
		assert.True(t, NewManualOracle(true).Online())
		assert.False(t, NewManualOracle(false).Online())
	})

	t.Run("notifies only on transitions", func(t *testing.T) {
		o := NewManualOracle(false)
		var got []bool
		o.Subscribe(func(online bool) { got = append(got, online) })

		o.SetOnline(false)
		o.SetOnline(true)
		o.SetOnline(true)
		o.SetOnline(false)

		assert.Equal(t, []bool{true, false}, got)
	})

	t.Run("unsubscribe is idempotent and scoped", func(t *testing.T) {
		o := NewManualOracle(false)
		var first, second int
		unsub := o.Subscribe(func(bool) { first++ })
		o.Subscribe(func(bool) { second++ })

		o.SetOnline(true)
		unsub()
		unsub()
		o.SetOnline(false)

		assert.Equal(t, 1, first)
		assert.Equal(t, 2, second)
	})
}

func TestReconnectorBackoff(t *testing.T) {
	r := &reconnector{baseDelay: 100 * time.Millisecond, maxDelay: time.Second}

	d0 := r.nextDelay()
	d1 := r.nextDelay()
	d2 := r.nextDelay()
	assert.GreaterOrEqual(t, d0, 100*time.Millisecond)
	assert.Less(t, d0, 200*time.Millisecond)
	assert.GreaterOrEqual(t, d1, 200*time.Millisecond)
	assert.Less(t, d1, 300*time.Millisecond)
	assert.GreaterOrEqual(t, d2, 400*time.Millisecond)
	assert.Less(t, d2, 500*time.Millisecond)

	t.Run("caps at the max delay", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			r.nextDelay()
		}
		assert.Equal(t, time.Second, r.nextDelay())
	})

	t.Run("resets after a stable connection", func(t *testing.T) {
		r.connectedAt = time.Now().Add(-2 * time.Minute)
		d := r.nextDelay()
		assert.Less(t, d, 200*time.Millisecond)
	})
}

func TestLinkMonitor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		<-r.Context().Done()
	}))
	defer srv.Close()

	monitor := NewLinkMonitor(LinkMonitorConfig{
		URL:                "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
		Logger:             testLogger(),
	})

	var mu sync.Mutex
	var transitions []bool
	monitor.Subscribe(func(online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})

	assert.False(t, monitor.Online(), "offline until the first successful dial")

	monitor.Start()
	defer monitor.Stop()

	require.Eventually(t, monitor.Online, 5*time.Second, 10*time.Millisecond,
		"heartbeat dial should flip the link online")

	srv.CloseClientConnections()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, online := range transitions {
			if !online {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "a dropped socket should flip the link offline")
}
