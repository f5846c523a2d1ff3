// Package client is the Go SDK for reporting traces and spans to a
// spanlight gateway. Enqueue calls never block: payloads accumulate in
// memory and a background loop ships them in batches.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultHeader        = "X-Spanlight-Key"
	defaultFlushInterval = 5 * time.Second
	defaultFlushAt       = 100
	defaultHTTPTimeout   = 10 * time.Second

	tracesPath = "/api/ingest/traces"
	spansPath  = "/api/ingest/spans"
)

// Config configures a Client. BaseURL and APIKey are required.
type Config struct {
	BaseURL string
	APIKey  string
	// Header overrides the API key header name.
	Header string
	// FlushInterval is the cadence of background flushes.
	FlushInterval time.Duration
	// FlushAt triggers an early flush once this many spans are buffered.
	FlushAt int
	// OnError receives delivery failures from background flushes. Payloads
	// that fail to deliver are dropped, not retried.
	OnError    func(error)
	HTTPClient *http.Client
}

// Client buffers trace writes and spans and delivers them to the gateway.
type Client struct {
	baseURL       string
	apiKey        string
	header        string
	flushInterval time.Duration
	flushAt       int
	onError       func(error)
	http          *http.Client

	mu     sync.Mutex
	traces []*Trace
	spans  []*Span

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New validates the configuration and starts the background flush loop.
// Callers must Shutdown the client to deliver buffered payloads.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("client: api key is required")
	}

	header := strings.TrimSpace(cfg.Header)
	if header == "" {
		header = defaultHeader
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	flushAt := cfg.FlushAt
	if flushAt <= 0 {
		flushAt = defaultFlushAt
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	c := &Client{
		baseURL:       baseURL,
		apiKey:        cfg.APIKey,
		header:        header,
		flushInterval: flushInterval,
		flushAt:       flushAt,
		onError:       cfg.OnError,
		http:          httpClient,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c, nil
}

// EnqueueTrace buffers one trace write (open or close). It never blocks.
// Trace writes ride the next interval or explicit flush; only span volume
// triggers an early one, so paired open/close writes keep their order.
func (c *Client) EnqueueTrace(trace *Trace) {
	if trace == nil {
		return
	}
	c.mu.Lock()
	c.traces = append(c.traces, trace)
	c.mu.Unlock()
}

// EnqueueSpan buffers one completed span. It never blocks.
func (c *Client) EnqueueSpan(span *Span) {
	if span == nil {
		return
	}
	c.EnqueueSpans([]*Span{span})
}

// EnqueueSpans buffers completed spans. It never blocks.
func (c *Client) EnqueueSpans(spans []*Span) {
	if len(spans) == 0 {
		return
	}
	c.mu.Lock()
	for _, span := range spans {
		if span != nil {
			c.spans = append(c.spans, span)
		}
	}
	pending := len(c.spans)
	c.mu.Unlock()

	if pending >= c.flushAt {
		c.signalFlush()
	}
}

// Flush delivers everything currently buffered. Spans go out as one batched
// request; trace writes are delivered individually so one malformed write
// cannot reject its neighbors. All delivery errors are joined and returned.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	traces := c.traces
	spans := c.spans
	c.traces = nil
	c.spans = nil
	c.mu.Unlock()

	var errs []error
	for _, trace := range traces {
		if err := c.post(ctx, tracesPath, trace); err != nil {
			errs = append(errs, fmt.Errorf("deliver trace %s: %w", trace.TraceID, err))
		}
	}
	if len(spans) > 0 {
		if err := c.post(ctx, spansPath, spans); err != nil {
			errs = append(errs, fmt.Errorf("deliver %d spans: %w", len(spans), err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops the background loop and delivers anything still buffered.
// It is safe to call more than once.
func (c *Client) Shutdown(ctx context.Context) error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.closeErr = c.Flush(ctx)
	})
	return c.closeErr
}

func (c *Client) signalFlush() {
	select {
	case c.flushCh <- struct{}{}:
	default:
	}
}

func (c *Client) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.backgroundFlush()
		case <-c.flushCh:
			c.backgroundFlush()
		}
	}
}

func (c *Client) backgroundFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultHTTPTimeout)
	defer cancel()
	if err := c.Flush(ctx); err != nil && c.onError != nil {
		c.onError(err)
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.header, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	message, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(message))}
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}
