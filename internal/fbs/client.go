// ============================================================================
// FBS Client - SIP2 over HTTP
// ============================================================================
//
// Package: internal/fbs
// File: client.go
//
// Every operation runs the same cycle:
//   1. probe the endpoint (short TCP check)      → *OfflineError, no HTTP
//   2. build the SIP2 line and wrap it in XML
//   3. POST it                                   → *TransportError on non-200
//   4. parse the answer                          → *ProtocolError on <error>
//   5. return the response; OK() carries the business outcome
//
// Each HTTP attempt publishes logger.debug with the request XML, then
// logger.debug with the response body or logger.error with the error.
// Nothing is retried here.
//
// ============================================================================

package fbs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ChuLiYu/fbs-kiosk/internal/bus"
	"github.com/ChuLiYu/fbs-kiosk/internal/metrics"
	"github.com/ChuLiYu/fbs-kiosk/internal/prober"
	"github.com/ChuLiYu/fbs-kiosk/internal/sip2"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

var log = slog.Default()

const (
	defaultRequestTimeout = 10 * time.Second
	defaultUserAgent      = "fbs-kiosk/1.0"
	maxResponseBytes      = 1 << 20
)

// Operation names used for metrics, spans and audit events.
const (
	OpLogin             = "login"
	OpPatronStatus      = "patronStatus"
	OpPatronInformation = "patronInformation"
	OpCheckout          = "checkout"
	OpCheckin           = "checkin"
	OpRenew             = "renew"
	OpRenewAll          = "renewAll"
	OpEndSession        = "endSession"
	OpLibraryStatus     = "libraryStatus"
)

// ProbeFunc checks reachability of the endpoint.
type ProbeFunc func(ctx context.Context, rawURL string, timeout time.Duration) error

// Doer is the part of *http.Client the client uses.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one FBS endpoint. It is safe for concurrent use.
type Client struct {
	endpoint       types.Endpoint
	http           Doer
	probe          ProbeFunc
	probeTimeout   time.Duration
	requestTimeout time.Duration
	userAgent      string
	bus            bus.Bus
	metrics        *metrics.Collector
	tracer         trace.Tracer
	report         func(online bool)
	now            func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithProbe replaces the TCP prober.
func WithProbe(p ProbeFunc) Option {
	return func(c *Client) { c.probe = p }
}

// WithProbeTimeout bounds the pre-flight probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) { c.probeTimeout = d }
}

// WithRequestTimeout bounds the HTTP call.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithBus enables the logger.* audit events.
func WithBus(b bus.Bus) Option {
	return func(c *Client) { c.bus = b }
}

// WithMetrics records request counts and durations.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithConnectivityReport passes every pre-flight probe result to fn,
// usually (*Watcher).Report.
func WithConnectivityReport(fn func(online bool)) Option {
	return func(c *Client) { c.report = fn }
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// NewClient creates a client for ep. The endpoint is copied and never
// changes afterwards.
func NewClient(ep types.Endpoint, opts ...Option) *Client {
	c := &Client{
		endpoint:       ep,
		http:           &http.Client{},
		probe:          prober.IsOnline,
		probeTimeout:   prober.DefaultTimeout,
		requestTimeout: defaultRequestTimeout,
		userAgent:      defaultUserAgent,
		tracer:         otel.Tracer("github.com/ChuLiYu/fbs-kiosk/internal/fbs"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the endpoint the client was built with.
func (c *Client) Endpoint() types.Endpoint {
	return c.endpoint
}

// ============================================================================
// Operations
// ============================================================================

func (c *Client) request(p types.Payload) sip2.Request {
	return sip2.Request{
		Agency:         c.endpoint.Agency,
		Location:       c.endpoint.Location,
		PatronID:       p.PatronID,
		PatronPassword: p.PatronPassword,
		ItemIdentifier: p.ItemIdentifier,
		NoBlock:        p.NoBlock,
		Time:           c.transactionTime(p),
	}
}

func (c *Client) transactionTime(p types.Payload) time.Time {
	if p.Timestamp == 0 {
		return c.now()
	}
	return p.TransactionTime()
}

func (c *Client) patron(patronID, password string) sip2.Request {
	return c.request(types.Payload{PatronID: patronID, PatronPassword: password})
}

// Login validates a patron with a patron status request. A response with
// BL or CQ not set to Y returns ErrInvalidLogin together with the response.
func (c *Client) Login(ctx context.Context, patronID, password string) (*sip2.Response, error) {
	resp, err := c.do(ctx, OpLogin, sip2.PatronStatus(c.patron(patronID, password)))
	if err != nil {
		return nil, err
	}
	if !resp.ValidPatron() || !resp.ValidPatronPassword() {
		return resp, ErrInvalidLogin
	}
	return resp, nil
}

// PatronStatus sends message 23.
func (c *Client) PatronStatus(ctx context.Context, patronID, password string) (*sip2.Response, error) {
	return c.do(ctx, OpPatronStatus, sip2.PatronStatus(c.patron(patronID, password)))
}

// PatronInformation sends message 63 with every summary requested.
func (c *Client) PatronInformation(ctx context.Context, patronID, password string) (*sip2.Response, error) {
	return c.do(ctx, OpPatronInformation, sip2.PatronInformation(c.patron(patronID, password)))
}

// Checkout sends message 11.
func (c *Client) Checkout(ctx context.Context, p types.Payload) (*sip2.Response, error) {
	return c.do(ctx, OpCheckout, sip2.Checkout(c.request(p)))
}

// Checkin sends message 09.
func (c *Client) Checkin(ctx context.Context, p types.Payload) (*sip2.Response, error) {
	return c.do(ctx, OpCheckin, sip2.Checkin(c.request(p)))
}

// Renew sends message 29.
func (c *Client) Renew(ctx context.Context, p types.Payload) (*sip2.Response, error) {
	return c.do(ctx, OpRenew, sip2.Renew(c.request(p)))
}

// RenewAll sends message 65.
func (c *Client) RenewAll(ctx context.Context, patronID, password string) (*sip2.Response, error) {
	return c.do(ctx, OpRenewAll, sip2.RenewAll(c.patron(patronID, password)))
}

// EndSession sends message 35.
func (c *Client) EndSession(ctx context.Context, patronID, password string) (*sip2.Response, error) {
	return c.do(ctx, OpEndSession, sip2.EndSession(c.patron(patronID, password)))
}

// LibraryStatus sends the SC status message and returns the ACS status.
func (c *Client) LibraryStatus(ctx context.Context) (*sip2.Response, error) {
	return c.do(ctx, OpLibraryStatus, sip2.LibraryStatus())
}

// ============================================================================
// Request cycle
// ============================================================================

func (c *Client) do(ctx context.Context, op, line string) (*sip2.Response, error) {
	ctx, span := c.tracer.Start(ctx, "fbs."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("fbs.operation", op),
			attribute.String("sip2.message", line[:2]),
		))
	defer span.End()

	start := time.Now()
	resp, err := c.roundTrip(ctx, op, line)
	outcome := classify(resp, err)
	c.metrics.RecordFBSRequest(op, outcome, time.Since(start))

	span.SetAttributes(attribute.String("fbs.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug("FBS call failed", "op", op, "outcome", outcome, "error", err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, op, line string) (*sip2.Response, error) {
	err := c.probe(ctx, c.endpoint.Endpoint, c.probeTimeout)
	if c.report != nil && ctx.Err() == nil {
		c.report(err == nil)
	}
	if err != nil {
		return nil, &OfflineError{Cause: err}
	}

	body, err := sip2.Wrap(line, c.endpoint.Username, c.endpoint.Password)
	if err != nil {
		return nil, fmt.Errorf("fbs: %s: wrap: %w", op, err)
	}
	c.audit("logger.debug", op, "request", string(body))

	respBody, err := c.post(ctx, op, body)
	if err != nil {
		c.audit("logger.error", op, "error", err.Error())
		return nil, err
	}
	c.audit("logger.debug", op, "response", string(respBody))

	resp, err := sip2.Parse(respBody, sip2.FirstFieldCode)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.HasError() {
		return nil, &ProtocolError{Op: op, Message: resp.Error()}
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, op string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/xml")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if res.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: op, StatusCode: res.StatusCode, Err: errors.New(string(bytes.TrimSpace(respBody)))}
	}
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return respBody, nil
}

func (c *Client) audit(event, op, kind, text string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(event, map[string]any{
		"type":    "fbs",
		"op":      op,
		"kind":    kind,
		"message": text,
	})
}

// classify maps a call result to the metrics outcome label.
func classify(resp *sip2.Response, err error) string {
	var (
		te *TransportError
		pe *ProtocolError
	)
	switch {
	case err == nil && resp.OK():
		return "ok"
	case err == nil:
		return "rejected"
	case errors.Is(err, ErrOffline):
		return "offline"
	case errors.Is(err, ErrInvalidLogin):
		return "rejected"
	case errors.As(err, &pe):
		return "protocol"
	case errors.As(err, &te):
		return "transport"
	default:
		return "error"
	}
}
