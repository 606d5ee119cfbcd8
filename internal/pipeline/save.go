package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/lead"
	"github.com/sells-group/prospect-cli/internal/persist"
)

// SaveReport describes a manual save. Local writes are best effort; Remote
// carries the backup error, if any.
type SaveReport struct {
	Leads   int       `json:"leads"`
	SavedAt time.Time `json:"saved_at,omitempty"`
	Local   error     `json:"-"`
	Remote  error     `json:"-"`
}

// Save mirrors the resident state locally and backs it up remotely.
func (p *Pipeline) Save(ctx context.Context) SaveReport {
	p.mu.Lock()
	rec := p.recordLocked()
	version := p.version
	localErr := p.deps.Store.Mirror(ctx, rec)
	p.mu.Unlock()

	report := SaveReport{Leads: len(rec.Leads), Local: localErr}
	if localErr != nil {
		zap.L().Warn("pipeline: local save failed", zap.Error(localErr))
	}
	if err := p.deps.Store.Backup(ctx, rec); err != nil {
		report.Remote = err
		return report
	}
	report.SavedAt = p.nowFunc().UTC()
	p.markSaved(ctx, version, report.SavedAt)
	return report
}

// RunAutosave backs up the resident state every interval until ctx is done.
// Ticks are skipped when nothing changed since the last backup or when the
// set holds no real leads.
func (p *Pipeline) RunAutosave(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.autosave(ctx)
		}
	}
}

func (p *Pipeline) autosave(ctx context.Context) {
	p.mu.Lock()
	if p.version == p.saved {
		p.mu.Unlock()
		return
	}
	rec := p.recordLocked()
	version := p.version
	p.mu.Unlock()

	if !persist.Eligible(rec) {
		return
	}
	if err := p.deps.Store.Backup(ctx, rec); err != nil {
		zap.L().Debug("pipeline: autosave deferred", zap.Error(err))
		return
	}
	p.markSaved(ctx, version, p.nowFunc().UTC())
	zap.L().Debug("pipeline: autosaved", zap.Int("leads", len(rec.Leads)))
}

// markSaved records a successful backup and writes the save time to the
// local tiers so it survives a reload.
func (p *Pipeline) markSaved(ctx context.Context, version uint64, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if version > p.saved {
		p.saved = version
	}
	p.machine.MarkSaved(at)
	p.checkpointLocked(ctx)
}

// Reset cancels any run, clears the resident state, and deletes the account's
// data from every tier. A remote failure after the local clear wraps
// persist.ErrRemoteDelete.
func (p *Pipeline) Reset(ctx context.Context) error {
	p.mu.Lock()
	p.supersedeLocked()
	p.set = lead.NewSet()
	p.sc = nil
	p.machine.Reset()
	p.version++
	p.saved = p.version
	p.mu.Unlock()

	if err := p.deps.Store.Reset(ctx); err != nil {
		if eris.Is(err, persist.ErrRemoteDelete) {
			zap.L().Warn("pipeline: reset left remote data behind", zap.Error(err))
			return err
		}
		return eris.Wrap(err, "pipeline: reset")
	}
	zap.L().Info("pipeline: state reset")
	return nil
}

// SignOut cancels any run and ends the session. Durable and remote tiers are
// kept for the next sign-in.
func (p *Pipeline) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.supersedeLocked()
	p.mu.Unlock()
	return eris.Wrap(p.deps.Store.EndSession(ctx), "pipeline: sign out")
}

// supersedeLocked invalidates the current run and enrichment token. p.mu must
// be held.
func (p *Pipeline) supersedeLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.run = nil
	p.gen++
	p.token++
}
