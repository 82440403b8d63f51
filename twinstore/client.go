// Package twinstore talks to the digital twin store: things, features,
// policies and inbox messages over its HTTP API, and the change feed over
// its WebSocket endpoint.
package twinstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/metric"
)

// Config locates and authenticates against the twin store.
type Config struct {
	// Endpoint is the scheme, host and port, e.g. "http://localhost:8080".
	Endpoint   string
	APIVersion int
	Username   string
	Password   string
	Namespace  string

	RequestTimeout time.Duration
	// MessageTimeout is passed as ?timeout= on inbox messages; 0 means
	// fire and forget.
	MessageTimeout time.Duration

	TLS *tls.Config
}

// Endpoint builds an http:// or https:// endpoint.
func Endpoint(host string, port int, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	base    string
	http    *http.Client
	logger  *slog.Logger
	metrics *metric.Metrics

	ensure singleflight.Group
	now    func() time.Time
}

// NewClient validates cfg and applies defaults. metrics may be nil.
func NewClient(cfg Config, logger *slog.Logger, metrics *metric.Metrics) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "twinstore", "NewClient", "validate endpoint")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: endpoint %q", errors.ErrInvalidConfig, cfg.Endpoint),
			"twinstore", "NewClient", "parse endpoint")
	}
	if cfg.Namespace == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "twinstore", "NewClient", "validate namespace")
	}
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 2
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	if cfg.TLS != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: cfg.TLS}
	}

	return &Client{
		cfg:     cfg,
		base:    strings.TrimRight(cfg.Endpoint, "/") + fmt.Sprintf("/api/%d", cfg.APIVersion),
		http:    httpClient,
		logger:  logger.With("component", "twinstore"),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Namespace returns the namespace twins are created in.
func (c *Client) Namespace() string {
	return c.cfg.Namespace
}

// request is one HTTP exchange with the store.
type request struct {
	operation string
	method    string
	path      string
	query     url.Values
	header    http.Header
	body      any
	// contentType defaults to application/json when body is set.
	contentType string
	// out receives the decoded response body when non-nil and the
	// response has one.
	out any
}

// do performs r and maps the response onto the store errors. The returned
// error is not yet wrapped with operation context.
func (c *Client) do(ctx context.Context, r request) (int, error) {
	start := time.Now()
	ctx, span := startSpan(ctx, r.operation+".http",
		attribute.String("http.method", r.method),
		attribute.String("url.path", r.path))

	status, err := c.exchange(ctx, r)

	span.SetAttributes(attribute.Int("http.status_code", status))
	endSpan(span, err)
	if c.metrics != nil {
		c.metrics.RecordStoreRequest(r.operation, outcome(err), time.Since(start))
	}
	return status, err
}

func (c *Client) exchange(ctx context.Context, r request) (int, error) {
	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return 0, fmt.Errorf("%w: encode request: %v", ErrMalformed, err)
		}
		body = bytes.NewReader(data)
	}

	u := c.base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrMalformed, err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		contentType := r.contentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, statusError(resp.StatusCode, data)
	}

	if r.out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, r.out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode body: %v", ErrMalformed, err)
		}
	}
	return resp.StatusCode, nil
}

func thingPath(thingID string) string {
	return "/things/" + url.PathEscape(thingID)
}

func featurePath(thingID, featureID string) string {
	return thingPath(thingID) + "/features/" + url.PathEscape(featureID)
}

func policyPath(policyID string) string {
	return "/policies/" + url.PathEscape(policyID)
}

const mergePatchJSON = "application/merge-patch+json"

var (
	ifMatchAny     = http.Header{"If-Match": {"*"}}
	ifNoneMatchAny = http.Header{"If-None-Match": {"*"}}
)
