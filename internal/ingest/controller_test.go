package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/lead"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/pkg/discovery"
)

// scriptedProvider replays one event script per attempt. A nil script makes
// the attempt fail to connect with connectErr.
type scriptedProvider struct {
	mu         sync.Mutex
	scripts    [][]discovery.Event
	connectErr error
	calls      int
	lastReq    discovery.Request
}

func (p *scriptedProvider) Search(ctx context.Context, req discovery.Request) (<-chan discovery.Event, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.lastReq = req
	p.mu.Unlock()

	if idx >= len(p.scripts) || p.scripts[idx] == nil {
		return nil, p.connectErr
	}
	script := p.scripts[idx]
	ch := make(chan discovery.Event)
	go func() {
		defer close(ch)
		for _, ev := range script {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// setSink accumulates flushed leads into a lead.Set the way the pipeline
// does.
type setSink struct {
	mu        sync.Mutex
	set       *lead.Set
	flushes   int
	finished  bool
	staleAt   int
	current   atomic.Uint64
	finishGen uint64
}

func newSetSink(gen uint64) *setSink {
	s := &setSink{set: lead.NewSet()}
	s.current.Store(gen)
	return s
}

func (s *setSink) Flush(gen uint64, leads []model.Lead) bool {
	if gen != s.current.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	s.set.UpsertBatch(leads)
	if s.staleAt > 0 && s.flushes >= s.staleAt {
		s.current.Add(1)
	}
	return true
}

func (s *setSink) Finish(gen uint64, sc model.SearchContext) (int, bool) {
	if gen != s.current.Load() {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.finishGen = gen
	return lead.PostProcess(s.set, sc.Filters, sc.RequestedCount), true
}

func records(prefix string, n int) []discovery.Record {
	out := make([]discovery.Record, n)
	for i := range out {
		out[i] = discovery.Record{
			Name:  fmt.Sprintf("%s %d", prefix, i),
			Phone: fmt.Sprintf("555-%04d", i),
		}
	}
	return out
}

func batch(recs []discovery.Record) discovery.Event {
	return discovery.Event{Kind: discovery.EventBatch, Records: recs}
}

func done() discovery.Event {
	return discovery.Event{Kind: discovery.EventDone, Status: discovery.TerminalSuccess}
}

func testController(p Provider) *Controller {
	return NewController(p, Config{
		FlushInterval:  time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

func searchReq(requested int) Request {
	return Request{
		Context:    model.SearchContext{Query: "plumbers", Location: "Austin, TX", RequestedCount: requested},
		Mode:       model.ModeReplace,
		Generation: 1,
	}
}

func TestRun_Complete(t *testing.T) {
	p := &scriptedProvider{scripts: [][]discovery.Event{{
		batch(records("Biz", 60)),
		{Kind: discovery.EventProgress, Percent: 50},
		batch(records("Other", 40)),
		done(),
	}}}
	sink := newSetSink(1)

	res := testController(p).Run(context.Background(), searchReq(100), sink, nil)

	assert.Equal(t, model.OutcomeComplete, res.Outcome)
	assert.Equal(t, 100, res.Count)
	assert.Equal(t, 100, res.Received)
	assert.Equal(t, 1, res.Attempts)
	assert.InDelta(t, 100.0, res.Percent, 0.001)
	assert.True(t, sink.finished)
	assert.Equal(t, 100, sink.set.Len())
}

func TestRun_PartialThreshold(t *testing.T) {
	tests := []struct {
		name  string
		found int
		want  model.OutcomeKind
	}{
		{"94 of 100 is partial", 94, model.OutcomePartial},
		{"95 of 100 is complete", 95, model.OutcomeComplete},
		{"96 of 100 is complete", 96, model.OutcomeComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{scripts: [][]discovery.Event{{batch(records("Biz", tt.found)), done()}}}
			res := testController(p).Run(context.Background(), searchReq(100), newSetSink(1), nil)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.found, res.Count)
		})
	}
}

func TestIsPartial(t *testing.T) {
	assert.True(t, IsPartial(94, 100, 95))
	assert.False(t, IsPartial(95, 100, 95))
	assert.False(t, IsPartial(0, 0, 95))
	assert.True(t, IsPartial(18, 20, 95))
	assert.False(t, IsPartial(19, 20, 95))
}

func TestRun_FiltersThenTruncates(t *testing.T) {
	recs := records("Biz", 12)
	recs[3].Phone = ""
	recs[7].Phone = ""
	p := &scriptedProvider{scripts: [][]discovery.Event{{batch(recs), done()}}}

	req := searchReq(8)
	req.Context.Filters = model.FilterSet{RequirePhone: true}
	sink := newSetSink(1)

	res := testController(p).Run(context.Background(), req, sink, nil)

	assert.Equal(t, model.OutcomeComplete, res.Outcome)
	assert.Equal(t, 8, res.Count)
	for _, l := range sink.set.Leads() {
		assert.NotEmpty(t, l.Phone)
	}
	assert.Equal(t, []string{"has_phone"}, p.lastReq.Filters)
}

func TestRun_InterruptedAfterBatch(t *testing.T) {
	p := &scriptedProvider{scripts: [][]discovery.Event{{
		batch(records("Biz", 30)),
		{Kind: discovery.EventError, Err: discovery.ErrStreamClosed},
	}}}
	sink := newSetSink(1)

	res := testController(p).Run(context.Background(), searchReq(100), sink, nil)

	assert.Equal(t, model.OutcomeInterrupted, res.Outcome)
	assert.Equal(t, 30, res.Count)
	assert.Error(t, res.Err)
	assert.Equal(t, 1, p.calls, "no reconnect once a batch arrived")
	assert.Equal(t, 30, sink.set.Len())
}

func TestRun_ReconnectsBeforeFirstBatch(t *testing.T) {
	p := &scriptedProvider{
		scripts: [][]discovery.Event{
			nil,
			{{Kind: discovery.EventError, Err: discovery.ErrStreamClosed}},
			{batch(records("Biz", 5)), done()},
		},
		connectErr: resilience.NewTransientError(fmt.Errorf("connection refused"), 0),
	}
	updates := make(chan Update, 64)

	res := testController(p).Run(context.Background(), searchReq(5), newSetSink(1), updates)
	close(updates)

	assert.Equal(t, model.OutcomeComplete, res.Outcome)
	assert.Equal(t, 3, res.Attempts)

	var statuses []ConnStatus
	for u := range updates {
		if u.Kind == UpdateStatus {
			statuses = append(statuses, u.Status)
		}
	}
	assert.Equal(t, []ConnStatus{
		StatusVerifying, StatusRetrying, StatusConnected, StatusRetrying, StatusConnected,
	}, statuses)
}

func TestRun_FailsAfterCap(t *testing.T) {
	p := &scriptedProvider{connectErr: resilience.NewTransientError(fmt.Errorf("503"), 503)}
	sink := newSetSink(1)
	updates := make(chan Update, 64)

	res := testController(p).Run(context.Background(), searchReq(10), sink, updates)
	close(updates)

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Equal(t, 3, p.calls)
	require.Error(t, res.Err)
	assert.False(t, sink.finished, "hard failure never finishes the sink")

	var last Update
	for u := range updates {
		last = u
	}
	assert.Equal(t, StatusFailed, last.Status)
}

func TestRun_PermanentErrorNoRetry(t *testing.T) {
	p := &scriptedProvider{connectErr: fmt.Errorf("unexpected status 401")}
	res := testController(p).Run(context.Background(), searchReq(10), newSetSink(1), nil)

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, p.calls)
}

func TestRun_ZeroResultsFails(t *testing.T) {
	p := &scriptedProvider{scripts: [][]discovery.Event{{done()}}}
	sink := newSetSink(1)

	res := testController(p).Run(context.Background(), searchReq(10), sink, nil)

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNoResults)
	assert.False(t, sink.finished)
}

func TestRun_ProviderTerminalFailure(t *testing.T) {
	p := &scriptedProvider{scripts: [][]discovery.Event{{
		batch(records("Biz", 3)),
		{Kind: discovery.EventDone, Status: discovery.TerminalFailure, Message: "upstream"},
	}}}

	res := testController(p).Run(context.Background(), searchReq(10), newSetSink(1), nil)

	assert.Equal(t, model.OutcomeInterrupted, res.Outcome)
	assert.Contains(t, res.Err.Error(), "upstream")
}

func TestRun_StaleSinkStopsRun(t *testing.T) {
	script := make([]discovery.Event, 0, 50)
	for i := 0; i < 50; i++ {
		script = append(script, batch(records(fmt.Sprintf("B%d", i), 2)))
	}
	script = append(script, done())
	p := &scriptedProvider{scripts: [][]discovery.Event{script}}

	sink := newSetSink(1)
	sink.staleAt = 1

	res := testController(p).Run(context.Background(), searchReq(100), sink, nil)

	assert.Equal(t, model.OutcomeStale, res.Outcome)
	assert.False(t, sink.finished)
}

func TestRun_CancelledContextIsStale(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &scriptedProvider{scripts: [][]discovery.Event{{batch(records("Biz", 3)), done()}}}
	res := testController(p).Run(ctx, searchReq(10), newSetSink(1), nil)

	assert.Equal(t, model.OutcomeStale, res.Outcome)
}

func TestRun_ProgressMonotone(t *testing.T) {
	p := &scriptedProvider{scripts: [][]discovery.Event{{
		{Kind: discovery.EventProgress, Percent: 40},
		{Kind: discovery.EventProgress, Percent: 20},
		{Kind: discovery.EventProgress, Percent: 140},
		batch(records("Biz", 1)),
		done(),
	}}}
	updates := make(chan Update, 64)

	testController(p).Run(context.Background(), searchReq(1), newSetSink(1), updates)
	close(updates)

	var seen []float64
	for u := range updates {
		if u.Kind == UpdateProgress {
			seen = append(seen, u.Percent)
		}
	}
	assert.Equal(t, []float64{40, 40, 100}, seen)
}

func TestRun_DropsNamelessRecords(t *testing.T) {
	p := &scriptedProvider{scripts: [][]discovery.Event{{
		batch([]discovery.Record{{Name: "  "}, {Name: "Acme", ID: "prov-1", Emails: []string{"a@acme.com"}}}),
		done(),
	}}}
	sink := newSetSink(1)

	res := testController(p).Run(context.Background(), searchReq(1), sink, nil)

	assert.Equal(t, 1, res.Received)
	leads := sink.set.Leads()
	require.Len(t, leads, 1)
	assert.Equal(t, "prov-1", leads[0].SourceID)
	assert.NotEqual(t, "prov-1", leads[0].ID)
	assert.Equal(t, model.EnrichmentPending, leads[0].EnrichmentStatus)
	assert.Equal(t, "a@acme.com", leads[0].Email)
}

func TestStart_EndsWithResult(t *testing.T) {
	p := &scriptedProvider{scripts: [][]discovery.Event{{batch(records("Biz", 2)), done()}}}

	var last Update
	for u := range testController(p).Start(context.Background(), searchReq(2), newSetSink(1)) {
		last = u
	}
	require.Equal(t, UpdateResult, last.Kind)
	require.NotNil(t, last.Result)
	assert.Equal(t, model.OutcomeComplete, last.Result.Outcome)
}
