// Package ingest consumes a streaming discovery search and feeds coalesced
// lead batches into a sink that owns the resident lead set.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/lead"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/pkg/discovery"
)

// ErrNoResults is reported when a stream ends without yielding any lead.
var ErrNoResults = eris.New("ingest: search returned no results")

// Provider opens a discovery result stream.
type Provider interface {
	Search(ctx context.Context, req discovery.Request) (<-chan discovery.Event, error)
}

// Sink receives coalesced batches for one generation. Flush and Finish return
// false when the generation has been superseded.
type Sink interface {
	Flush(generation uint64, leads []model.Lead) bool
	Finish(generation uint64, sc model.SearchContext) (count int, ok bool)
}

// ConnStatus is the user-visible connection state of a run.
type ConnStatus string

const (
	StatusVerifying ConnStatus = "verifying"
	StatusRetrying  ConnStatus = "retrying"
	StatusConnected ConnStatus = "connected"
	StatusFailed    ConnStatus = "failed"
)

// UpdateKind identifies an Update.
type UpdateKind string

const (
	UpdateStatus   UpdateKind = "status"
	UpdateProgress UpdateKind = "progress"
	UpdateBatch    UpdateKind = "batch"
	UpdateResult   UpdateKind = "result"
)

// Update is an incremental notification about a run.
type Update struct {
	Kind     UpdateKind          `json:"kind"`
	Status   ConnStatus          `json:"status,omitempty"`
	Attempt  int                 `json:"attempt,omitempty"`
	Percent  float64             `json:"percent"`
	Coverage *discovery.Coverage `json:"coverage,omitempty"`
	Received int                 `json:"received"`
	Result   *Result             `json:"result,omitempty"`
}

// Request describes one ingestion run.
type Request struct {
	Context    model.SearchContext
	Mode       model.SearchMode
	Generation uint64
}

// Result is the final outcome of a run.
type Result struct {
	Outcome    model.OutcomeKind   `json:"outcome"`
	Generation uint64              `json:"generation"`
	Mode       model.SearchMode    `json:"mode"`
	Count      int                 `json:"count"`
	Requested  int                 `json:"requested"`
	Received   int                 `json:"received"`
	Attempts   int                 `json:"attempts"`
	Percent    float64             `json:"percent"`
	Coverage   *discovery.Coverage `json:"coverage,omitempty"`
	Err        error               `json:"-"`
	Message    string              `json:"message,omitempty"`
}

// Config tunes the controller.
type Config struct {
	FlushInterval       time.Duration
	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	PartialThresholdPct int
	UpdateBuffer        int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval:       DefaultFlushInterval,
		MaxAttempts:         3,
		InitialBackoff:      500 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		PartialThresholdPct: 95,
		UpdateBuffer:        64,
	}
}

// Controller runs discovery searches against a provider.
type Controller struct {
	provider Provider
	cfg      Config
}

// NewController creates a controller. Zero config fields take defaults.
func NewController(p Provider, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.PartialThresholdPct <= 0 || cfg.PartialThresholdPct > 100 {
		cfg.PartialThresholdPct = def.PartialThresholdPct
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = def.UpdateBuffer
	}
	return &Controller{provider: p, cfg: cfg}
}

// Start runs the search in a goroutine. The returned channel carries
// intermediate updates (dropped if the reader lags) and ends with a single
// UpdateResult before it is closed.
func (c *Controller) Start(ctx context.Context, req Request, sink Sink) <-chan Update {
	out := make(chan Update, c.cfg.UpdateBuffer)
	go func() {
		defer close(out)
		res := c.Run(ctx, req, sink, out)
		out <- Update{Kind: UpdateResult, Percent: res.Percent, Received: res.Received, Result: &res}
	}()
	return out
}

// Run executes the search synchronously. updates may be nil.
func (c *Controller) Run(ctx context.Context, req Request, sink Sink, updates chan<- Update) Result {
	r := &run{
		ctl:     c,
		req:     req,
		sink:    sink,
		updates: updates,
		log: zap.L().With(
			zap.Uint64("generation", req.Generation),
			zap.String("query", req.Context.Query),
			zap.String("mode", string(req.Mode)),
		),
	}
	return r.execute(ctx)
}

// IsPartial reports whether count falls short of the partial threshold.
func IsPartial(count, requested, thresholdPct int) bool {
	if requested <= 0 {
		return false
	}
	return count*100 < requested*thresholdPct
}

type run struct {
	ctl     *Controller
	req     Request
	sink    Sink
	updates chan<- Update
	log     *zap.Logger

	stale    atomic.Bool
	received atomic.Int64
	attempts int
	percent  float64
	coverage *discovery.Coverage
	terminal discovery.TerminalStatus
}

func (r *run) execute(parent context.Context) Result {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	co := NewCoalescer(r.ctl.cfg.FlushInterval, func(batch []model.Lead) {
		if !r.sink.Flush(r.req.Generation, batch) {
			r.stale.Store(true)
			cancel()
		}
	})
	defer co.Stop()

	retry := resilience.RetryConfig{
		MaxAttempts:    r.ctl.cfg.MaxAttempts,
		InitialBackoff: r.ctl.cfg.InitialBackoff,
		MaxBackoff:     r.ctl.cfg.MaxBackoff,
		JitterFraction: 0.1,
		ShouldRetry: func(err error) bool {
			return r.received.Load() == 0 && resilience.IsTransient(err)
		},
		OnAttempt: func(attempt int) {
			r.attempts = attempt
			status := StatusVerifying
			if attempt > 1 {
				status = StatusRetrying
			}
			r.emit(Update{Kind: UpdateStatus, Status: status, Attempt: attempt})
		},
		OnRetry: resilience.RetryLogger("discovery", "search"),
	}

	dreq := toDiscoveryRequest(r.req.Context)
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		events, err := r.ctl.provider.Search(ctx, dreq)
		if err != nil {
			return err
		}
		r.emit(Update{Kind: UpdateStatus, Status: StatusConnected, Attempt: r.attempts})
		return r.consume(ctx, events, co)
	})

	co.Drain()

	res := Result{
		Generation: r.req.Generation,
		Mode:       r.req.Mode,
		Requested:  r.req.Context.RequestedCount,
		Received:   int(r.received.Load()),
		Attempts:   r.attempts,
		Percent:    r.percent,
		Coverage:   r.coverage,
	}

	if r.stale.Load() || parent.Err() != nil {
		r.log.Info("ingest: run superseded")
		res.Outcome = model.OutcomeStale
		return res
	}

	if res.Received == 0 {
		if err == nil {
			err = ErrNoResults
		}
		r.emit(Update{Kind: UpdateStatus, Status: StatusFailed, Attempt: r.attempts})
		r.log.Warn("ingest: search failed", zap.Int("attempts", r.attempts), zap.Error(err))
		res.Outcome = model.OutcomeFailed
		res.Err = err
		res.Message = err.Error()
		return res
	}

	count, ok := r.sink.Finish(r.req.Generation, r.req.Context)
	if !ok {
		res.Outcome = model.OutcomeStale
		return res
	}
	res.Count = count

	switch {
	case err != nil:
		res.Outcome = model.OutcomeInterrupted
		res.Err = err
		res.Message = fmt.Sprintf("stream interrupted after %d results", res.Received)
		r.log.Warn("ingest: stream interrupted", zap.Int("received", res.Received), zap.Error(err))
	case IsPartial(count, res.Requested, r.ctl.cfg.PartialThresholdPct):
		res.Outcome = model.OutcomePartial
		res.Message = fmt.Sprintf("found %d of %d requested", count, res.Requested)
	default:
		res.Outcome = model.OutcomeComplete
	}

	if r.terminal == discovery.TerminalPartial {
		r.log.Info("ingest: provider reported partial coverage", zap.Int("count", count))
	}
	r.log.Info("ingest: run finished",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("count", count),
		zap.Int("requested", res.Requested),
		zap.Int("received", res.Received),
	)
	return res
}

// consume reads one stream until a terminal event. A nil return means the
// provider finished the search.
func (r *run) consume(ctx context.Context, events <-chan discovery.Event, co *Coalescer[model.Lead]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return discovery.ErrStreamClosed
			}
			switch ev.Kind {
			case discovery.EventBatch:
				leads := toLeads(ev.Records)
				if len(leads) == 0 {
					continue
				}
				co.Add(leads...)
				n := r.received.Add(int64(len(leads)))
				r.emit(Update{Kind: UpdateBatch, Received: int(n), Percent: r.percent})
			case discovery.EventProgress:
				r.advance(ev.Percent, ev.Coverage)
				r.emit(Update{Kind: UpdateProgress, Percent: r.percent, Coverage: r.coverage, Received: int(r.received.Load())})
			case discovery.EventDone:
				r.terminal = ev.Status
				if ev.Status == discovery.TerminalFailure {
					msg := ev.Message
					if msg == "" {
						msg = "no detail"
					}
					return eris.Errorf("ingest: provider reported failure: %s", msg)
				}
				r.advance(100, ev.Coverage)
				return nil
			case discovery.EventError:
				if ev.Err != nil {
					return ev.Err
				}
				return eris.Errorf("ingest: provider error: %s", ev.Message)
			}
		}
	}
}

// advance moves progress forward. Progress never decreases and stays within
// [0, 100]; coverage keeps the latest non-nil report.
func (r *run) advance(pct float64, cov *discovery.Coverage) {
	if pct > 100 {
		pct = 100
	}
	if pct > r.percent {
		r.percent = pct
	}
	if cov != nil {
		r.coverage = cov
	}
}

func (r *run) emit(u Update) {
	if r.updates == nil {
		return
	}
	select {
	case r.updates <- u:
	default:
	}
}

func toDiscoveryRequest(sc model.SearchContext) discovery.Request {
	req := discovery.Request{
		Query:      sc.Query,
		Location:   sc.Location,
		SearchType: string(sc.SearchType),
		Limit:      sc.RequestedCount,
	}
	f := sc.Filters
	if f.RequirePhone {
		req.Filters = append(req.Filters, "has_phone")
	}
	if f.RequireWebsite {
		req.Filters = append(req.Filters, "has_website")
	}
	if f.RequireEmail {
		req.Filters = append(req.Filters, "has_email")
	}
	if f.MinRating > 0 {
		req.Filters = append(req.Filters, fmt.Sprintf("min_rating:%.1f", f.MinRating))
	}
	return req
}

// toLeads converts raw provider records. Records without a name are dropped.
func toLeads(records []discovery.Record) []model.Lead {
	out := make([]model.Lead, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.Name) == "" {
			continue
		}
		l := model.Lead{
			ID:               uuid.NewString(),
			Name:             rec.Name,
			Address:          rec.Address,
			Phone:            rec.Phone,
			Website:          rec.Website,
			Email:            rec.Email,
			Rating:           rec.Rating,
			SourceID:         rec.ID,
			EnrichmentStatus: model.EnrichmentPending,
		}
		if len(rec.Emails) > 0 {
			l.Enrichment = &model.Enrichment{Emails: rec.Emails, Sources: []string{"discovery"}}
		}
		out = append(out, lead.Normalize(l))
	}
	return out
}
