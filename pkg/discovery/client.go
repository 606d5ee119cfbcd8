package discovery

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://api.prospect-discovery.example/v1"
	maxLineBytes   = 4 << 20
)

// ErrStreamClosed is reported when the stream ends without a done event.
var ErrStreamClosed = eris.New("discovery: stream closed before terminal event")

// Client talks to the discovery and enrichment provider.
type Client interface {
	Search(ctx context.Context, req Request) (<-chan Event, error)
	Enrich(ctx context.Context, req EnrichRequest) (*EnrichResponse, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a discovery provider client. The HTTP client carries no
// overall timeout because search streams are long-lived; cancel ctx instead.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search opens a result stream. A non-nil error means the connection could
// not be established; transport failures after that arrive as an
// EventError on the channel, which is closed when the stream ends.
func (c *httpClient) Search(ctx context.Context, req Request) (<-chan Event, error) {
	resp, err := c.post(ctx, "/search", req, "application/x-ndjson")
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close() //nolint:errcheck
		readStream(ctx, resp.Body, events)
	}()
	return events, nil
}

// Enrich submits leads for asynchronous contact enrichment.
func (c *httpClient) Enrich(ctx context.Context, req EnrichRequest) (*EnrichResponse, error) {
	resp, err := c.post(ctx, "/enrich", req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	var out EnrichResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, eris.Wrap(err, "discovery: decode enrich response")
	}
	return &out, nil
}

func (c *httpClient) post(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "discovery: rate limit wait")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "discovery: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "discovery: send request"), 0)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		defer resp.Body.Close() //nolint:errcheck
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := eris.Errorf("discovery: unexpected status %d: %s", resp.StatusCode, string(msg))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	return resp, nil
}

// readStream decodes NDJSON events from r until a done event, EOF, or ctx
// cancellation. EOF without a done event is reported as ErrStreamClosed.
func readStream(ctx context.Context, r io.Reader, out chan<- Event) {
	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			zap.L().Warn("discovery: skipping malformed event", zap.Error(err))
			continue
		}
		if ev.Kind == EventError {
			ev.Err = eris.Errorf("discovery: provider error: %s", ev.Message)
		}
		if !send(ev) {
			return
		}
		if ev.Kind == EventDone || ev.Kind == EventError {
			return
		}
	}

	err := scanner.Err()
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = ErrStreamClosed
	} else {
		err = resilience.NewTransientError(eris.Wrap(err, "discovery: read stream"), 0)
	}
	send(Event{Kind: EventError, Err: err})
}
