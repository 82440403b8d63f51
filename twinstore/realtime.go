package twinstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/link"
	"github.com/c360/twinbridge/metric"
)

// FeedLinkName identifies the change feed link in logs, metrics and health.
const FeedLinkName = "twin-feed"

const (
	startSendEvents    = "START-SEND-EVENTS"
	startSendEventsAck = "START-SEND-EVENTS:ACK"
)

// Change is one twin event from the store change feed.
type Change struct {
	ThingID   string          `json:"thingId"`
	Action    string          `json:"action"`
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value,omitempty"`
	Revision  int64           `json:"revision,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// protocolMessage is a store protocol envelope as sent on the feed.
type protocolMessage struct {
	Topic     string          `json:"topic"`
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value"`
	Revision  int64           `json:"revision"`
	Timestamp string          `json:"timestamp"`
}

// parseChange decodes a twin event. ok is false for anything that is not a
// twin event, such as acknowledgements and errors.
func parseChange(data []byte) (Change, bool) {
	var msg protocolMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Topic == "" {
		return Change{}, false
	}

	// <namespace>/<name>/things/twin/events/<action>
	parts := strings.Split(msg.Topic, "/")
	if len(parts) != 6 || parts[2] != "things" || parts[3] != "twin" || parts[4] != "events" {
		return Change{}, false
	}

	return Change{
		ThingID:   parts[0] + ":" + parts[1],
		Action:    parts[5],
		Path:      msg.Path,
		Value:     msg.Value,
		Revision:  msg.Revision,
		Timestamp: msg.Timestamp,
	}, true
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	Store Config

	ReconnectDelay time.Duration
	MaxAttempts    int
	ConnectTimeout time.Duration

	// Buffer bounds changes read ahead of the consumer.
	Buffer int

	OnStateChange func(from, to link.State)
}

// Feed follows the store change feed of one namespace. It reconnects under
// the same policy as the broker link and is independent of the HTTP client.
type Feed struct {
	cfg    FeedConfig
	url    string
	link   *link.Link
	logger *slog.Logger

	changes chan Change
	closed  chan struct{}
	once    sync.Once
}

// NewFeed validates cfg. metrics may be nil.
func NewFeed(cfg FeedConfig, logger *slog.Logger, metrics *metric.Metrics) (*Feed, error) {
	wsURL, err := feedURL(cfg.Store)
	if err != nil {
		return nil, errors.WrapInvalid(err, "twinstore", "NewFeed", "build feed URL")
	}
	if cfg.Store.Namespace == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "twinstore", "NewFeed", "validate namespace")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &Feed{
		cfg:     cfg,
		url:     wsURL,
		logger:  logger.With("component", "twin-feed"),
		changes: make(chan Change, cfg.Buffer),
		closed:  make(chan struct{}),
	}

	l, err := link.New(link.Config{
		Name:           FeedLinkName,
		Connect:        f.dial,
		Subscribe:      f.subscribe,
		Teardown:       f.teardown,
		ReconnectDelay: cfg.ReconnectDelay,
		MaxAttempts:    cfg.MaxAttempts,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         f.logger,
		Metrics:        metrics,
		OnStateChange:  cfg.OnStateChange,
	})
	if err != nil {
		return nil, err
	}
	f.link = l
	return f, nil
}

// feedURL maps http(s)://host:port to ws(s)://host:port/ws/<version>.
func feedURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: endpoint %q", errors.ErrInvalidConfig, cfg.Endpoint)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	version := cfg.APIVersion
	if version == 0 {
		version = 2
	}
	u.Path = fmt.Sprintf("/ws/%d", version)
	return u.String(), nil
}

// Connect makes one bounded connection attempt and starts the event
// subscription.
func (f *Feed) Connect(ctx context.Context) error {
	return f.link.Connect(ctx)
}

// Run supervises the feed link. It returns an error wrapping
// errors.ErrLinkExhausted once the reconnect budget is spent.
func (f *Feed) Run(ctx context.Context) error {
	return f.link.Run(ctx)
}

// State returns the feed link state.
func (f *Feed) State() link.State {
	return f.link.State()
}

// Close stops the feed. It is idempotent.
func (f *Feed) Close() error {
	f.once.Do(func() {
		close(f.closed)
		_ = f.link.Close()
	})
	return nil
}

// Changes returns a pull sequence of twin changes. Breaking out of the loop
// leaves later changes for the next range.
func (f *Feed) Changes(ctx context.Context) iter.Seq[Change] {
	return func(yield func(Change) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.closed:
				return
			case c := <-f.changes:
				if !yield(c) {
					return
				}
			}
		}
	}
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// feedConn is one WebSocket session of the feed.
type feedConn struct {
	*link.Session
	ws *websocket.Conn
}

func (f *Feed) dial(ctx context.Context) (link.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 45 * time.Second,
		TLSClientConfig:  f.cfg.Store.TLS,
	}
	header := http.Header{}
	header.Set("Authorization", basicAuth(f.cfg.Store.Username, f.cfg.Store.Password))

	ws, resp, err := dialer.DialContext(ctx, f.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: HTTP %d", statusSentinel(resp.StatusCode), f.url, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, f.url, err)
	}
	return &feedConn{Session: link.NewSession(), ws: ws}, nil
}

// subscribe requests twin events for the namespace, waits for the
// acknowledgement and starts the reader.
func (f *Feed) subscribe(ctx context.Context, conn link.Conn) error {
	fc := conn.(*feedConn)
	ns := f.cfg.Store.Namespace

	query := url.Values{}
	query.Set("namespaces", ns)
	query.Set("filter", fmt.Sprintf(`like(thingId,"%s:*")`, ns))
	request := startSendEvents + "?" + query.Encode()

	if deadline, ok := ctx.Deadline(); ok {
		_ = fc.ws.SetWriteDeadline(deadline)
		_ = fc.ws.SetReadDeadline(deadline)
	}
	if err := fc.ws.WriteMessage(websocket.TextMessage, []byte(request)); err != nil {
		return fmt.Errorf("send %s: %w", startSendEvents, err)
	}

	for {
		_, data, err := fc.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("await %s: %w", startSendEventsAck, err)
		}
		if strings.TrimSpace(string(data)) == startSendEventsAck {
			break
		}
		f.logger.Debug("Ignoring message before subscription ack", "message", truncate(data, 128))
	}

	_ = fc.ws.SetWriteDeadline(time.Time{})
	_ = fc.ws.SetReadDeadline(time.Time{})

	go f.read(fc)
	f.logger.Info("Subscribed to twin changes", "url", f.url, "namespace", ns)
	return nil
}

// read forwards twin events until the connection fails.
func (f *Feed) read(fc *feedConn) {
	for {
		_, data, err := fc.ws.ReadMessage()
		if err != nil {
			fc.Lost(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err))
			return
		}

		change, ok := parseChange(data)
		if !ok {
			f.logger.Debug("Ignoring non-event feed message", "message", truncate(data, 128))
			continue
		}

		select {
		case f.changes <- change:
		case <-fc.Done():
			return
		case <-f.closed:
			return
		}
	}
}

func (f *Feed) teardown(conn link.Conn) {
	fc := conn.(*feedConn)
	_ = fc.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = fc.ws.Close()
	fc.Lost(errors.ErrLinkClosed)
}
