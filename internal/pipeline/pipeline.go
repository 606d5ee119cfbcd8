// Package pipeline owns the resident lead set and coordinates ingestion,
// enrichment, persistence, and workflow state around it.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/ingest"
	"github.com/sells-group/prospect-cli/internal/lead"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/persist"
	"github.com/sells-group/prospect-cli/internal/scorer"
	"github.com/sells-group/prospect-cli/internal/workflow"
	"github.com/sells-group/prospect-cli/pkg/discovery"
)

// ErrInvalidSearch is returned when a search context cannot be run.
var ErrInvalidSearch = eris.New("pipeline: search needs a query and a positive count")

// Searcher starts an ingestion run. *ingest.Controller implements it.
type Searcher interface {
	Start(ctx context.Context, req ingest.Request, sink ingest.Sink) <-chan ingest.Update
}

// Enricher requests out-of-band enrichment for leads.
type Enricher interface {
	Enrich(ctx context.Context, req discovery.EnrichRequest) (*discovery.EnrichResponse, error)
}

// OutcomeRecorder receives the result of every finished search.
type OutcomeRecorder interface {
	RecordOutcome(res ingest.Result)
}

// Deps holds the collaborators of a Pipeline. Enricher, Social, and
// Outcomes are optional.
type Deps struct {
	Searcher Searcher
	Store    *persist.Manager
	Scorer   scorer.Scorer
	Enricher Enricher
	Social   *persist.SocialCache
	Outcomes OutcomeRecorder
}

// Options tunes a Pipeline.
type Options struct {
	DefaultCount      int
	EnrichCallbackURL string
	EnrichBatchSize   int
}

// Pipeline is the single owner of the resident lead set. Every mutation goes
// through mu so ingestion flushes, enrichment callbacks, and user actions
// never interleave.
type Pipeline struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	set     *lead.Set
	sc      *model.SearchContext
	machine *workflow.Machine
	gen     uint64 // bumped by every search, reset, and sign-out
	token   uint64 // enrichment run token, bumped when the set is replaced
	run     *runState
	cancel  context.CancelFunc
	version uint64 // bumped by every mutation
	saved   uint64 // version last backed up

	wg sync.WaitGroup

	nowFunc func() time.Time
}

// runState tracks the search run owning the current generation.
type runState struct {
	gen      uint64
	mode     model.SearchMode
	sc       model.SearchContext
	seeded   bool
	baseline int
}

// New creates a Pipeline with an empty lead set at the search stage.
func New(deps Deps, opts Options) *Pipeline {
	if opts.DefaultCount <= 0 {
		opts.DefaultCount = 50
	}
	if opts.EnrichBatchSize <= 0 {
		opts.EnrichBatchSize = 25
	}
	p := &Pipeline{
		deps:    deps,
		opts:    opts,
		set:     lead.NewSet(),
		nowFunc: time.Now,
	}
	p.machine = workflow.New(p.onWorkflowChange)
	return p
}

// RestoreReport describes what Restore loaded.
type RestoreReport struct {
	Origin      model.SaveOrigin `json:"origin,omitempty"`
	Leads       int              `json:"leads"`
	Stage       model.Stage      `json:"stage"`
	NewIdentity bool             `json:"new_identity"`
}

// Restore loads the account's record from the fastest tier that has one.
// When credential differs from the one recorded on this device, the session
// tier is discarded and the workflow starts over at search.
func (p *Pipeline) Restore(ctx context.Context, credential string) (RestoreReport, error) {
	log := zap.L().With(zap.String("account", p.deps.Store.Account()))

	var report RestoreReport
	if credential != "" {
		changed, err := p.deps.Store.CheckCredential(ctx, credential)
		if err != nil {
			return report, eris.Wrap(err, "pipeline: check credential")
		}
		if changed {
			report.NewIdentity = true
			if err := p.deps.Store.EndSession(ctx); err != nil {
				log.Warn("pipeline: clear session tier", zap.Error(err))
			}
		}
	}

	rec, err := p.deps.Store.Load(ctx)
	if err != nil {
		return report, eris.Wrap(err, "pipeline: load record")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if rec == nil {
		report.Stage = p.machine.Stage()
		log.Info("pipeline: no saved state")
		return report, nil
	}

	p.set = lead.SetOf(rec.Leads)
	if rec.Context != nil {
		sc := *rec.Context
		p.sc = &sc
	}
	wf := rec.Workflow
	if report.NewIdentity {
		wf = model.WorkflowState{Stage: model.StageSearch}
	}
	p.machine.Restore(wf)
	p.machine.Prune(p.set.IDs())
	p.version++
	p.saved = p.version
	if report.NewIdentity {
		p.checkpointLocked(ctx)
	}

	report.Origin = rec.Origin
	report.Leads = p.set.Len()
	report.Stage = p.machine.Stage()
	log.Info("pipeline: restored state",
		zap.String("origin", string(rec.Origin)),
		zap.Int("leads", report.Leads),
		zap.Stringer("stage", report.Stage),
	)
	return report, nil
}

// Leads returns a copy of the resident leads in order.
func (p *Pipeline) Leads() []model.Lead {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set.Leads()
}

// Context returns a copy of the current search context, or nil.
func (p *Pipeline) Context() *model.SearchContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sc == nil {
		return nil
	}
	sc := *p.sc
	return &sc
}

// Workflow returns the current workflow state.
func (p *Pipeline) Workflow() model.WorkflowState {
	return p.machine.State()
}

// Generation returns the current generation.
func (p *Pipeline) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// Token returns the run token enrichment callbacks must carry.
func (p *Pipeline) Token() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// BackupStatus returns the remote backup status.
func (p *Pipeline) BackupStatus() persist.BackupStatus {
	return p.deps.Store.Status()
}

// Goto moves the workflow to stage.
func (p *Pipeline) Goto(stage model.Stage) (workflow.Transition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine.Goto(stage, p.set.Len())
}

// Select replaces the selection. IDs not in the lead set are dropped.
func (p *Pipeline) Select(ids []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := p.set.Get(id); ok {
			kept = append(kept, id)
		}
	}
	p.machine.Select(kept)
	return p.machine.State().SelectedIDs
}

// Targets returns the leads outreach should act on: the selection if any,
// else the whole set.
func (p *Pipeline) Targets() []model.Lead {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.machine.Targets(p.set.IDs())
	out := make([]model.Lead, 0, len(ids))
	for _, id := range ids {
		if l, ok := p.set.Get(id); ok {
			out = append(out, l)
		}
	}
	return out
}

// Wait blocks until background work started by the pipeline has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// onWorkflowChange persists workflow changes. The machine is only driven
// from methods holding mu.
func (p *Pipeline) onWorkflowChange(model.WorkflowState) {
	p.version++
	p.mirrorLocked(context.Background())
}

// recordLocked snapshots the resident state. p.mu must be held.
func (p *Pipeline) recordLocked() model.Record {
	rec := model.Record{
		Leads:    p.set.Leads(),
		Workflow: p.machine.State(),
		SavedAt:  p.nowFunc().UTC(),
	}
	if p.sc != nil {
		sc := *p.sc
		rec.Context = &sc
	}
	return rec
}

// mirrorLocked writes the resident state to the local tiers, or clears them
// when the set is empty. p.mu must be held so snapshots reach the tiers in
// mutation order.
func (p *Pipeline) mirrorLocked(ctx context.Context) {
	var err error
	if p.set.Len() == 0 {
		err = p.deps.Store.Clear(ctx)
	} else {
		err = p.deps.Store.Mirror(ctx, p.recordLocked())
	}
	if err != nil {
		zap.L().Warn("pipeline: mirror to local tiers", zap.Error(err))
	}
}

// checkpointLocked writes local-only state, such as workflow changes the
// remote tier never sees, without marking the backup pending. p.mu must be
// held.
func (p *Pipeline) checkpointLocked(ctx context.Context) {
	if err := p.deps.Store.Checkpoint(ctx, p.recordLocked()); err != nil {
		zap.L().Warn("pipeline: checkpoint local tiers", zap.Error(err))
	}
}
