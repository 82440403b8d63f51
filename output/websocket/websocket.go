package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/metric"
	"github.com/c360/twinbridge/pkg/timestamp"
	"github.com/c360/twinbridge/twinstore"
)

// TypeTwinChanged marks envelopes carrying twin store change feed events.
const TypeTwinChanged = "twin_changed"

// Defaults for Config.
const (
	DefaultPort         = 8765
	DefaultPath         = "/ws"
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultSendBuffer   = 64
)

// Config configures a Hub.
type Config struct {
	Port         int
	Path         string
	PingInterval time.Duration
	WriteTimeout time.Duration
	// SendBuffer is how many envelopes may wait for one client before it
	// is considered slow and dropped.
	SendBuffer int
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
}

// MessageEnvelope is the frame every observer receives.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	GridID    string          `json:"gridId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Hub is a WebSocket server broadcasting reconciled state to dashboard
// observers. Delivery is best effort: there are no acknowledgements and a
// client that cannot keep up is disconnected.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	core     *metric.Metrics
	metrics  *hubMetrics

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewHub creates a Hub. registry may be nil.
func NewHub(cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Hub, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newHubMetrics(registry)
	if err != nil {
		return nil, errors.Wrap(err, "websocket", "NewHub", "register metrics")
	}

	h := &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "observer-hub"),
		metrics: metrics,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards are served from their own origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if registry != nil {
		h.core = registry.CoreMetrics()
	}
	return h, nil
}

// Handler returns the HTTP handler serving the observer endpoint.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(h.cfg.Path, h.handleWebSocket)
	return mux
}

// Start listens on the configured port and serves until ctx is cancelled
// or Stop is called.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.server != nil {
		h.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("hub already running"), "websocket", "Start", "start observer server")
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.cfg.Port))
	if err != nil {
		h.mu.Unlock()
		return errors.WrapFatal(err, "websocket", "Start", fmt.Sprintf("listen on port %d", h.cfg.Port))
	}
	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.server = srv
	h.listener = ln
	h.mu.Unlock()

	h.logger.Info("Observer hub listening", "addr", ln.Addr().String(), "path", h.cfg.Path)

	stop := context.AfterFunc(ctx, func() { _ = h.Stop() })
	defer stop()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "websocket", "Start", "serve observers")
	}
	return nil
}

// Stop disconnects every observer and closes the listener.
func (h *Hub) Stop() error {
	h.mu.Lock()
	srv := h.server
	h.server = nil
	h.listener = nil
	h.mu.Unlock()

	for _, c := range h.snapshot() {
		c.shutdown(h)
	}
	h.wg.Wait()

	if srv == nil {
		return nil
	}
	if err := srv.Close(); err != nil {
		return errors.WrapTransient(err, "websocket", "Stop", "close observer server")
	}
	return nil
}

// Addr returns the listening address while the hub is running.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Publish broadcasts payload to every observer. It never blocks; observers
// whose send buffer is full are dropped.
func (h *Hub) Publish(msgType, gridID string, payload any) {
	data, err := h.envelope(msgType, gridID, payload)
	if err != nil {
		h.logger.Error("Failed to encode observer message", "type", msgType, "grid_id", gridID, "error", err)
		h.metrics.recordError("encode")
		return
	}

	if h.core != nil {
		h.core.RecordBroadcast(msgType)
	}
	h.metrics.observeSize(msgType, len(data))

	for _, c := range h.snapshot() {
		select {
		case c.send <- data:
		case <-c.done:
		default:
			h.logger.Warn("Dropping slow observer", "remote", c.remote)
			c.close(h, "slow")
		}
	}
}

// ForwardChanges publishes every change of the feed as a twin_changed
// message until the sequence ends.
func (h *Hub) ForwardChanges(ctx context.Context, changes iter.Seq[twinstore.Change]) error {
	for change := range changes {
		gridID, _ := twinstore.GridID(change.ThingID)
		h.Publish(TypeTwinChanged, gridID, change)
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

func (h *Hub) envelope(msgType, gridID string, payload any) ([]byte, error) {
	env := MessageEnvelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: timestamp.Now(),
		GridID:    gridID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.recordError("upgrade")
		return
	}

	c := newClient(conn, h.cfg.SendBuffer)
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.recordClients(count)
	h.metrics.recordConnect()
	h.logger.Debug("Observer connected", "remote", c.remote, "clients", count)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump(h)
	}()
	go func() {
		defer h.wg.Done()
		c.readPump(h)
	}()
}

func (h *Hub) remove(c *client, reason string) {
	h.clientsMu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.recordClients(count)
	h.metrics.recordDisconnect(reason)
	h.logger.Debug("Observer disconnected", "remote", c.remote, "reason", reason, "clients", count)
}

func (h *Hub) snapshot() []*client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) recordClients(n int) {
	if h.core != nil {
		h.core.RecordObservers(n)
	}
}
