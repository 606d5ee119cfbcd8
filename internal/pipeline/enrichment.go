package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/lead"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/pkg/discovery"
)

// EnrichmentCallback is one out-of-band enrichment result.
type EnrichmentCallback struct {
	RunToken   uint64           `json:"run_token"`
	LeadID     string           `json:"lead_id"`
	Enrichment model.Enrichment `json:"enrichment"`
}

// OnEnrichment folds a callback into the resident set. Callbacks carrying a
// superseded run token, or naming a lead no longer resident, are dropped and
// reported as false.
func (p *Pipeline) OnEnrichment(ctx context.Context, cb EnrichmentCallback) bool {
	log := zap.L().With(zap.Uint64("run_token", cb.RunToken), zap.String("lead_id", cb.LeadID))

	p.mu.Lock()
	if cb.RunToken != p.token {
		p.mu.Unlock()
		log.Debug("pipeline: stale enrichment dropped")
		return false
	}
	if cb.Enrichment.EnrichedAt.IsZero() {
		cb.Enrichment.EnrichedAt = p.nowFunc().UTC()
	}
	var merged model.Lead
	ok := p.set.Update(cb.LeadID, func(cur model.Lead) model.Lead {
		merged = lead.MergeEnrichment(cur, cb.Enrichment)
		return merged
	})
	if !ok {
		p.mu.Unlock()
		log.Debug("pipeline: enrichment for unknown lead dropped")
		return false
	}
	if p.deps.Scorer != nil {
		merged.Classification = nil
		scored := p.deps.Scorer.Score([]model.Lead{merged})
		if len(scored) == 1 {
			c := scored[0].Classification
			p.set.Update(cb.LeadID, func(cur model.Lead) model.Lead {
				cur.Classification = c
				return cur
			})
		}
	}
	p.version++
	p.mirrorLocked(ctx)
	p.mu.Unlock()

	if p.deps.Social != nil && len(cb.Enrichment.Socials) > 0 {
		if err := p.deps.Social.Put(ctx, cb.LeadID, cb.Enrichment.Socials); err != nil {
			log.Warn("pipeline: cache social profiles", zap.Error(err))
		}
	}
	log.Info("pipeline: enrichment merged",
		zap.Int("emails", len(cb.Enrichment.Emails)),
		zap.Int("phones", len(cb.Enrichment.Phones)),
	)
	return true
}

// EnrichmentSink returns a callback bound to the current run token. Results
// delivered through it after the set is replaced are dropped.
func (p *Pipeline) EnrichmentSink() func(ctx context.Context, leadID string, payload model.Enrichment) bool {
	token := p.Token()
	return func(ctx context.Context, leadID string, payload model.Enrichment) bool {
		return p.OnEnrichment(ctx, EnrichmentCallback{RunToken: token, LeadID: leadID, Enrichment: payload})
	}
}

// requestEnrichment asks the enricher to look up every pending lead. Accepted
// leads move to processing. Rejected leads, and every lead left once a
// request fails, move to failed.
func (p *Pipeline) requestEnrichment(ctx context.Context, token uint64) {
	p.mu.Lock()
	if token != p.token {
		p.mu.Unlock()
		return
	}
	var refs []discovery.EnrichRef
	for _, l := range p.set.Leads() {
		if l.Synthetic || l.EnrichmentStatus != model.EnrichmentPending {
			continue
		}
		refs = append(refs, discovery.EnrichRef{ID: l.ID, Name: l.Name, Website: l.Website, Address: l.Address})
	}
	p.mu.Unlock()

	for start := 0; start < len(refs); start += p.opts.EnrichBatchSize {
		end := min(start+p.opts.EnrichBatchSize, len(refs))
		batch := refs[start:end]

		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		resp, err := p.deps.Enricher.Enrich(reqCtx, discovery.EnrichRequest{
			RunToken:    token,
			CallbackURL: p.opts.EnrichCallbackURL,
			Leads:       batch,
		})
		cancel()
		if err != nil {
			zap.L().Warn("pipeline: enrichment request failed",
				zap.Uint64("run_token", token),
				zap.Int("leads", len(batch)),
				zap.Error(err),
			)
			ids := make([]string, 0, len(refs)-start)
			for _, r := range refs[start:] {
				ids = append(ids, r.ID)
			}
			p.markEnrichment(token, ids, model.EnrichmentFailed)
			return
		}
		p.markEnrichment(token, resp.Accepted, model.EnrichmentProcessing)
		p.markEnrichment(token, resp.Rejected, model.EnrichmentFailed)
	}
}

func (p *Pipeline) markEnrichment(token uint64, ids []string, status model.EnrichmentStatus) {
	if len(ids) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if token != p.token {
		return
	}
	changed := false
	for _, id := range ids {
		changed = p.set.Update(id, func(cur model.Lead) model.Lead {
			if cur.EnrichmentStatus.Rank() < status.Rank() {
				cur.EnrichmentStatus = status
			}
			return cur
		}) || changed
	}
	if changed {
		p.version++
		p.mirrorLocked(context.Background())
	}
}
