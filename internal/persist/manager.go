package persist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// CredentialKey is the device-level durable key that remembers which
// credential the last load ran under.
const CredentialKey = "auth:last_credential"

var (
	// ErrRemoteSave marks a failed remote backup. Local tiers are unaffected.
	ErrRemoteSave = eris.New("persist: remote backup failed")
	// ErrRemoteDelete marks a reset whose local clear succeeded but whose
	// remote delete failed.
	ErrRemoteDelete = eris.New("persist: local data cleared but remote delete failed")
	// ErrNotEligible is returned by Backup when the record has no real leads.
	ErrNotEligible = eris.New("persist: nothing to back up")
)

// Tiers groups the three storage tiers.
type Tiers struct {
	Session KeyValueStore
	Durable KeyValueStore
	Remote  Remote
}

// Options tunes remote access.
type Options struct {
	FetchLimit int
	Retry      resilience.RetryConfig
	Circuit    resilience.CircuitBreakerConfig
}

// BackupStatus reports whether the latest state has reached the remote tier.
type BackupStatus struct {
	LastBackupAt time.Time `json:"last_backup_at,omitempty"`
	Pending      bool      `json:"pending"`
	LastError    string    `json:"last_error,omitempty"`
	Circuit      string    `json:"circuit"`
}

// Manager reads and writes one account's record across the tiers.
type Manager struct {
	account string
	tiers   Tiers
	opts    Options
	breaker *resilience.CircuitBreaker

	mu     sync.Mutex
	status BackupStatus

	nowFunc func() time.Time
}

// NewManager creates a manager for account. A nil remote means no backup
// service.
func NewManager(account string, tiers Tiers, opts Options) *Manager {
	if tiers.Remote == nil {
		tiers.Remote = NopRemote{}
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 1000
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("remote", "backup")
	}
	if opts.Circuit.OnStateChange == nil {
		opts.Circuit.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("persist: remote circuit state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}
	return &Manager{
		account: account,
		tiers:   tiers,
		opts:    opts,
		breaker: resilience.NewCircuitBreaker(opts.Circuit),
		nowFunc: time.Now,
	}
}

// Account returns the account the manager is bound to.
func (m *Manager) Account() string {
	return m.account
}

func (m *Manager) recordKey() string {
	return "record:" + m.account
}

// Load returns the record to restore, or nil when no tier has one. A
// non-empty session or durable record wins outright and the remote tier is
// not consulted. A remote hit is backfilled into the local tiers. An
// unreachable remote is recorded in the backup status and treated as empty.
func (m *Manager) Load(ctx context.Context) (*model.Record, error) {
	log := zap.L().With(zap.String("account", m.account))

	rec, err := getJSON[model.Record](ctx, m.tiers.Session, m.recordKey())
	if err != nil {
		log.Warn("persist: session tier read failed", zap.Error(err))
	} else if !rec.Empty() {
		rec.Origin = model.OriginLocalCache
		log.Debug("persist: loaded from session tier", zap.Int("leads", len(rec.Leads)))
		return rec, nil
	}

	rec, err = getJSON[model.Record](ctx, m.tiers.Durable, m.recordKey())
	if err != nil {
		return nil, eris.Wrap(err, "persist: load durable tier")
	}
	if !rec.Empty() {
		rec.Origin = model.OriginLocalCache
		if err := setJSON(ctx, m.tiers.Session, m.recordKey(), rec); err != nil {
			log.Warn("persist: session backfill failed", zap.Error(err))
		}
		log.Info("persist: loaded from durable tier", zap.Int("leads", len(rec.Leads)))
		return rec, nil
	}

	var snap *RemoteSnapshot
	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		var ferr error
		snap, ferr = m.tiers.Remote.Fetch(ctx, m.account, m.opts.FetchLimit)
		return ferr
	})
	if err != nil {
		m.mu.Lock()
		m.status.LastError = err.Error()
		m.mu.Unlock()
		log.Warn("persist: remote backup unreachable, starting empty", zap.Error(err))
		return nil, nil
	}
	if snap == nil || len(snap.Leads) == 0 {
		log.Debug("persist: no stored record")
		return nil, nil
	}

	rec = &model.Record{
		Leads:    snap.Leads,
		Context:  snap.Context,
		Workflow: model.WorkflowState{Stage: model.StageSearch},
		SavedAt:  snap.SavedAt,
		Origin:   model.OriginRemoteBackup,
	}
	if err := m.Mirror(ctx, *rec); err != nil {
		log.Warn("persist: durable backfill failed", zap.Error(err))
	}
	m.mu.Lock()
	m.status.LastBackupAt = snap.SavedAt
	m.mu.Unlock()

	log.Info("persist: restored from remote backup", zap.Int("leads", len(rec.Leads)))
	return rec, nil
}

// Mirror writes rec to the session and durable tiers and marks the backup
// pending. Empty records are not written.
func (m *Manager) Mirror(ctx context.Context, rec model.Record) error {
	if rec.Empty() {
		return nil
	}
	if err := m.writeLocal(ctx, rec); err != nil {
		return err
	}
	m.mu.Lock()
	m.status.Pending = true
	m.mu.Unlock()
	return nil
}

// Checkpoint writes rec to the local tiers without touching the backup
// status. It records state that never reaches the remote tier, such as the
// workflow's last save time.
func (m *Manager) Checkpoint(ctx context.Context, rec model.Record) error {
	if rec.Empty() {
		return nil
	}
	return m.writeLocal(ctx, rec)
}

// Clear deletes the record from the session and durable tiers. The remote
// tier and the credential marker are kept.
func (m *Manager) Clear(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eris.Wrap(m.tiers.Session.Delete(gctx, m.recordKey()), "persist: clear session tier")
	})
	g.Go(func() error {
		return eris.Wrap(m.tiers.Durable.Delete(gctx, m.recordKey()), "persist: clear durable tier")
	})
	return g.Wait()
}

func (m *Manager) writeLocal(ctx context.Context, rec model.Record) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = m.nowFunc().UTC()
	}
	rec.Origin = model.OriginLocalCache

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eris.Wrap(setJSON(gctx, m.tiers.Session, m.recordKey(), rec), "persist: write session tier")
	})
	g.Go(func() error {
		return eris.Wrap(setJSON(gctx, m.tiers.Durable, m.recordKey(), rec), "persist: write durable tier")
	})
	return g.Wait()
}

// Eligible reports whether rec may be backed up remotely: it must hold at
// least one non-synthetic lead.
func Eligible(rec model.Record) bool {
	for _, l := range rec.Leads {
		if !l.Synthetic {
			return true
		}
	}
	return false
}

// Backup writes rec to the remote tier through the circuit breaker and
// retry policy. Failures leave the status pending and wrap ErrRemoteSave.
func (m *Manager) Backup(ctx context.Context, rec model.Record) error {
	if !Eligible(rec) {
		return ErrNotEligible
	}

	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, m.opts.Retry, func(ctx context.Context) error {
			return m.tiers.Remote.Save(ctx, m.account, rec.Leads, rec.Context)
		})
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.status.Pending = true
		m.status.LastError = err.Error()
		zap.L().Warn("persist: remote backup failed",
			zap.String("account", m.account),
			zap.Int("leads", len(rec.Leads)),
			zap.Error(err),
		)
		return eris.Wrap(err, ErrRemoteSave.Error())
	}
	m.status.Pending = false
	m.status.LastError = ""
	m.status.LastBackupAt = m.nowFunc().UTC()
	return nil
}

// Status returns the current backup status.
func (m *Manager) Status() BackupStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.Circuit = m.breaker.State().String()
	return s
}

// Reset clears every tier for the account. Local tiers are cleared first; a
// remote failure after a successful local clear wraps ErrRemoteDelete.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.Clear(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.status = BackupStatus{}
	m.mu.Unlock()

	err := resilience.Do(ctx, m.opts.Retry, func(ctx context.Context) error {
		return m.tiers.Remote.Delete(ctx, m.account, DeleteCriteria{All: true})
	})
	if err != nil {
		zap.L().Error("persist: remote delete failed after local clear",
			zap.String("account", m.account),
			zap.Error(err),
		)
		return eris.Wrap(err, ErrRemoteDelete.Error())
	}
	return nil
}

// EndSession clears the session tier.
func (m *Manager) EndSession(ctx context.Context) error {
	return eris.Wrap(m.tiers.Session.Delete(ctx, m.recordKey()), "persist: end session")
}

// CheckCredential records cred as the device's latest credential and reports
// whether it differs from the one recorded before. The first credential seen
// on a device is not a change. Only a digest is stored.
func (m *Manager) CheckCredential(ctx context.Context, cred string) (bool, error) {
	sum := sha256.Sum256([]byte(cred))
	digest := hex.EncodeToString(sum[:])

	prev, err := m.tiers.Durable.Get(ctx, CredentialKey)
	if err != nil {
		return false, eris.Wrap(err, "persist: read credential marker")
	}
	changed := prev != nil && string(prev) != digest
	if prev == nil || changed {
		if err := m.tiers.Durable.Set(ctx, CredentialKey, []byte(digest)); err != nil {
			return changed, eris.Wrap(err, "persist: write credential marker")
		}
	}
	return changed, nil
}
