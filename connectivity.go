package fieldsync

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

// ============================================================================
// Oracle
// ============================================================================

// Oracle is the single source of truth for "can we currently reach the
// network". It reports link state, not API reachability: Online may return
// true while the API is still unreachable, which downstream components
// handle as a network error at the gateway.
type Oracle interface {
	// Online returns the last known link state.
	Online() bool

	// Subscribe registers a callback invoked on every online/offline
	// transition and returns an idempotent unsubscribe function.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// ============================================================================
// ManualOracle
// ============================================================================

// ManualOracle is an Oracle whose state is driven by explicit SetOnline
// calls, for platforms that surface their own link-state signal and for
// tests.
type ManualOracle struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

// NewManualOracle creates a ManualOracle with the given initial state.
func NewManualOracle(online bool) *ManualOracle {
	return &ManualOracle{online: online, subs: make(map[int]func(bool))}
}

func (o *ManualOracle) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// SetOnline updates the link state, notifying subscribers on transitions.
func (o *ManualOracle) SetOnline(online bool) {
	o.mu.Lock()
	if o.online == online {
		o.mu.Unlock()
		return
	}
	o.online = online
	subs := make([]func(bool), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

func (o *ManualOracle) Subscribe(fn func(online bool)) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

// ============================================================================
// Link monitor
// ============================================================================

// LinkMonitorConfig configures a LinkMonitor.
type LinkMonitorConfig struct {
	// URL is the ws:// or wss:// heartbeat endpoint.
	URL string

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	Logger             *logrus.Logger
}

func (c *LinkMonitorConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// reconnector computes exponential backoff with jitter between dial
// attempts, resetting after a stable connection.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// LinkMonitor derives link state from a lightweight heartbeat WebSocket:
// while the socket is up the link is online, and a drop flips it offline
// until the next successful dial. The monitor embeds a ManualOracle, so it
// satisfies Oracle and tests can still drive it directly.
type LinkMonitor struct {
	ManualOracle
	cfg    LinkMonitorConfig
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLinkMonitor creates a stopped LinkMonitor. The link is considered
// offline until the first successful dial.
func NewLinkMonitor(cfg LinkMonitorConfig) *LinkMonitor {
	cfg.defaults()
	return &LinkMonitor{
		ManualOracle: ManualOracle{subs: make(map[int]func(bool))},
		cfg:          cfg,
	}
}

// Start begins watching the link in the background.
func (m *LinkMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.watch(ctx)
}

// Stop tears down the monitor and waits for the watch loop to exit.
func (m *LinkMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *LinkMonitor) watch(ctx context.Context) {
	defer close(m.done)
	recon := &reconnector{baseDelay: m.cfg.ReconnectBaseDelay, maxDelay: m.cfg.ReconnectMaxDelay}

	for {
		conn, _, err := websocket.Dial(ctx, m.cfg.URL, nil)
		if err != nil {
			m.SetOnline(false)
			select {
			case <-ctx.Done():
				return
			case <-time.After(recon.nextDelay()):
				continue
			}
		}

		recon.markConnected()
		m.cfg.Logger.WithField("url", m.cfg.URL).Debug("link up")
		m.SetOnline(true)

		// Block until the socket drops; reads only, the heartbeat
		// endpoint pushes pings.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				break
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")

		select {
		case <-ctx.Done():
			return
		default:
		}

		m.cfg.Logger.Debug("link down")
		m.SetOnline(false)
	}
}
