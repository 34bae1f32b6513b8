package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/azanium/cryptoindex/internal/metrics"
)

// Manager is the registry of clients by exchange id, per spec.md §4.2. It
// exclusively owns exchange clients for their lifetime and drives the
// reconnect/heartbeat supervision loops.
type Manager struct {
	mu      sync.RWMutex
	clients map[ID]*Client
	metrics *metrics.Metrics

	heartbeatPeriod time.Duration
	reconnectPeriod time.Duration
}

// NewManager creates an empty manager with the given supervisor periods.
func NewManager(heartbeatPeriod, reconnectPeriod time.Duration) *Manager {
	return &Manager{
		clients:         make(map[ID]*Client),
		heartbeatPeriod: heartbeatPeriod,
		reconnectPeriod: reconnectPeriod,
	}
}

// AddExchange connects the client then inserts it; insertion is by id,
// last-write-wins.
func (m *Manager) AddExchange(ctx context.Context, id ID, client *Client, initialSymbols []NativeSymbol) error {
	err := client.Connect(ctx, initialSymbols)
	if err != nil {
		log.Warn().Str("exchange", id.String()).Err(err).Msg("initial connect failed, reconnect supervisor will retry")
	}
	m.Register(id, client)
	return err
}

// SetMetrics attaches the metrics instance the reconnect supervisor
// reports attempted reconnects to. Optional: nil skips instrumentation.
func (m *Manager) SetMetrics(mtr *metrics.Metrics) {
	m.mu.Lock()
	m.metrics = mtr
	m.mu.Unlock()
}

// Register inserts client into the registry under id without connecting
// it, by id, last-write-wins. AddExchange is the usual entrypoint;
// Register is exposed directly for callers that manage connection
// timing themselves.
func (m *Manager) Register(id ID, client *Client) {
	m.mu.Lock()
	m.clients[id] = client
	m.mu.Unlock()
}

// GetClient returns a shared handle to the client registered for id.
func (m *Manager) GetClient(id ID) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok
}

// All returns every registered (id, client) pair.
func (m *Manager) All() map[ID]*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[ID]*Client, len(m.clients))
	for id, c := range m.clients {
		out[id] = c
	}
	return out
}

// RunHeartbeatSupervisor dispatches send_ping as an independent task for
// each currently connected client every heartbeatPeriod, so one stuck
// client cannot block others (spec.md §4.2, scenario E6).
func (m *Manager) RunHeartbeatSupervisor(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range m.All() {
				if !c.IsConnected() {
					continue
				}
				go func(c *Client) {
					if err := c.Send([]byte(c.PingMsg())); err != nil {
						log.Debug().Str("exchange", c.ExchangeName()).Err(err).Msg("supervisor heartbeat send failed")
					}
				}(c)
			}
		}
	}
}

// RunReconnectSupervisor dispatches connect(nil) as an independent task
// for every client whose connected flag is false, every reconnectPeriod.
// The client's own Connect guards against concurrent reconnect attempts.
func (m *Manager) RunReconnectSupervisor(ctx context.Context) {
	ticker := time.NewTicker(m.reconnectPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			mtr := m.metrics
			m.mu.RUnlock()
			for id, c := range m.All() {
				if c.IsConnected() {
					continue
				}
				if mtr != nil {
					mtr.ReconnectAttempts.WithLabelValues(id.String()).Inc()
				}
				go func(id ID, c *Client) {
					if err := c.Connect(ctx, nil); err != nil {
						log.Debug().Str("exchange", id.String()).Err(err).Msg("reconnect attempt failed")
					}
				}(id, c)
			}
		}
	}
}
