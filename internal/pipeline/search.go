package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/ingest"
	"github.com/sells-group/prospect-cli/internal/lead"
	"github.com/sells-group/prospect-cli/internal/model"
)

// Search starts a run for sc and returns its update channel and the
// generation it runs under. Any run already in flight is superseded. In
// replace mode the resident set is swapped out on the first batch, so a run
// that yields nothing leaves it untouched. Intermediate updates are dropped
// when the reader lags; the final UpdateResult is always delivered, so
// callers must drain the channel.
func (p *Pipeline) Search(ctx context.Context, sc model.SearchContext, mode model.SearchMode) (<-chan ingest.Update, uint64, error) {
	sc.Query = strings.TrimSpace(sc.Query)
	if sc.RequestedCount == 0 {
		sc.RequestedCount = p.opts.DefaultCount
	}
	if sc.Query == "" || sc.RequestedCount < 0 {
		return nil, 0, ErrInvalidSearch
	}
	if mode != model.ModeAppend {
		mode = model.ModeReplace
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	if mode == model.ModeReplace {
		p.token++
	}
	rs := &runState{gen: p.gen, mode: mode, sc: sc}
	if mode == model.ModeAppend {
		rs.baseline = p.set.Len()
	}
	p.run = rs
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	zap.L().Info("pipeline: search started",
		zap.Uint64("generation", rs.gen),
		zap.String("mode", string(mode)),
		zap.String("query", sc.Query),
		zap.String("location", sc.Location),
		zap.Int("requested", sc.RequestedCount),
	)

	updates := p.deps.Searcher.Start(runCtx, ingest.Request{Context: sc, Mode: mode, Generation: rs.gen}, p)

	out := make(chan ingest.Update, cap(updates)+1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(out)
		defer cancel()
		for u := range updates {
			if u.Kind == ingest.UpdateResult && u.Result != nil {
				p.afterRun(ctx, *u.Result)
				out <- u
				continue
			}
			select {
			case out <- u:
			default:
			}
		}
	}()
	return out, rs.gen, nil
}

// RunSearch runs a search to completion, passing every update to onUpdate,
// and returns the final result.
func (p *Pipeline) RunSearch(ctx context.Context, sc model.SearchContext, mode model.SearchMode, onUpdate func(ingest.Update)) (ingest.Result, error) {
	updates, _, err := p.Search(ctx, sc, mode)
	if err != nil {
		return ingest.Result{}, err
	}
	var res ingest.Result
	for u := range updates {
		if onUpdate != nil {
			onUpdate(u)
		}
		if u.Kind == ingest.UpdateResult && u.Result != nil {
			res = *u.Result
		}
	}
	return res, nil
}

// Flush merges a batch into the resident set. The first batch of a replace
// run swaps in a fresh set. It returns false once gen is superseded.
func (p *Pipeline) Flush(gen uint64, leads []model.Lead) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil || p.run.gen != gen {
		return false
	}
	if !p.run.seeded {
		p.run.seeded = true
		if p.run.mode == model.ModeReplace {
			p.set = lead.NewSet()
		}
		sc := p.run.sc
		p.sc = &sc
	}
	added, merged := p.set.UpsertBatch(leads)
	p.version++
	p.mirrorLocked(context.Background())

	zap.L().Debug("pipeline: batch merged",
		zap.Uint64("generation", gen),
		zap.Int("added", added),
		zap.Int("merged", merged),
		zap.Int("total", p.set.Len()),
	)
	return true
}

// Finish applies filters and truncation, scores the set, and persists it.
// In append mode only leads beyond the pre-run baseline count toward the
// request. A run that yields leads moves the workflow from search to review.
// A set filtered down to nothing clears the local tiers. It returns false
// once gen is superseded.
func (p *Pipeline) Finish(gen uint64, sc model.SearchContext) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil || p.run.gen != gen {
		return 0, false
	}
	rs := p.run
	if !rs.seeded {
		return 0, true
	}

	limit := sc.RequestedCount
	if rs.mode == model.ModeAppend && limit > 0 {
		limit += rs.baseline
	}
	total := lead.PostProcess(p.set, sc.Filters, limit)
	count := total
	if rs.mode == model.ModeAppend {
		count = max(total-rs.baseline, 0)
	}

	if p.deps.Scorer != nil {
		for _, l := range p.deps.Scorer.Score(p.set.Leads()) {
			c := l.Classification
			p.set.Update(l.ID, func(cur model.Lead) model.Lead {
				cur.Classification = c
				return cur
			})
		}
	}

	stored := sc
	p.sc = &stored
	p.version++
	p.machine.Prune(p.set.IDs())
	if count > 0 && p.machine.Stage() == model.StageSearch {
		if _, err := p.machine.Goto(model.StageReview, p.set.Len()); err != nil {
			zap.L().Warn("pipeline: advance to review", zap.Error(err))
		}
	}
	p.mirrorLocked(context.Background())
	return count, true
}

// afterRun logs the outcome and queues enrichment for usable runs.
func (p *Pipeline) afterRun(ctx context.Context, res ingest.Result) {
	log := zap.L().With(
		zap.Uint64("generation", res.Generation),
		zap.String("outcome", string(res.Outcome)),
	)
	p.mu.Lock()
	if p.run != nil && p.run.gen == res.Generation {
		p.run = nil
		p.cancel = nil
	}
	token := p.token
	p.mu.Unlock()

	if p.deps.Outcomes != nil {
		p.deps.Outcomes.RecordOutcome(res)
	}

	switch res.Outcome {
	case model.OutcomeFailed:
		log.Warn("pipeline: search failed", zap.Error(res.Err), zap.Int("attempts", res.Attempts))
		return
	case model.OutcomeStale:
		log.Info("pipeline: search superseded")
		return
	}
	log.Info("pipeline: search finished",
		zap.Int("count", res.Count),
		zap.Int("requested", res.Requested),
		zap.Int("received", res.Received),
	)
	if p.deps.Enricher != nil && res.Outcome.Usable() {
		p.requestEnrichment(context.WithoutCancel(ctx), token)
	}
}
