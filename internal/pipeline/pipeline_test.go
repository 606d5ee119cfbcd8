package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/ingest"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/persist"
	"github.com/sells-group/prospect-cli/internal/scorer"
	"github.com/sells-group/prospect-cli/internal/workflow"
	"github.com/sells-group/prospect-cli/pkg/discovery"
)

const account = "acct-1"

type harness struct {
	p        *Pipeline
	session  *persist.MemoryKV
	durable  *persist.MemoryKV
	remote   *mockRemote
	provider *scriptedProvider
	store    *persist.Manager
}

func newHarness(t *testing.T, provider *scriptedProvider, enricher Enricher) *harness {
	t.Helper()
	h := &harness{
		session:  persist.NewMemoryKV(),
		durable:  persist.NewMemoryKV(),
		remote:   &mockRemote{},
		provider: provider,
	}
	h.store = persist.NewManager(account, persist.Tiers{
		Session: h.session,
		Durable: h.durable,
		Remote:  h.remote,
	}, persist.Options{})

	ctl := ingest.NewController(provider, ingest.Config{
		FlushInterval:  time.Millisecond,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	deps := Deps{
		Searcher: ctl,
		Store:    h.store,
		Scorer:   scorer.NewRuleScorer(scorer.DefaultScorerConfig()),
		Social:   persist.NewSocialCache(h.durable, account),
	}
	if enricher != nil {
		deps.Enricher = enricher
	}
	h.p = New(deps, Options{EnrichCallbackURL: "http://localhost/webhook/enrichment"})
	t.Cleanup(h.p.Wait)
	return h
}

func recordsFor(prefix string, n int) []discovery.Record {
	out := make([]discovery.Record, n)
	for i := range out {
		out[i] = discovery.Record{
			ID:    fmt.Sprintf("%s-%d", prefix, i),
			Name:  fmt.Sprintf("%s %d", prefix, i),
			Phone: fmt.Sprintf("512-555-%04d", i),
		}
	}
	return out
}

func batchOf(recs []discovery.Record) discovery.Event {
	return discovery.Event{Kind: discovery.EventBatch, Records: recs}
}

func doneEvent() discovery.Event {
	return discovery.Event{Kind: discovery.EventDone, Status: discovery.TerminalSuccess}
}

func searchCtx(n int) model.SearchContext {
	return model.SearchContext{Query: "plumbers", Location: "Austin, TX", SearchType: model.SearchPlaces, RequestedCount: n}
}

func seedLeads(prefix string, n int) []model.Lead {
	out := make([]model.Lead, n)
	for i := range out {
		out[i] = model.Lead{
			ID:               fmt.Sprintf("%s-id-%d", prefix, i),
			Name:             fmt.Sprintf("%s %d", prefix, i),
			Phone:            fmt.Sprintf("512-555-%04d", i),
			EnrichmentStatus: model.EnrichmentPending,
		}
	}
	return out
}

func writeRecord(t *testing.T, kv persist.KeyValueStore, rec model.Record) {
	t.Helper()
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), "record:"+account, b))
}

func names(leads []model.Lead) []string {
	out := make([]string, len(leads))
	for i, l := range leads {
		out[i] = l.Name
	}
	return out
}

func TestRestore_SessionWinsWithoutRemoteFetch(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	writeRecord(t, h.session, model.Record{Leads: seedLeads("Session", 2), Workflow: model.WorkflowState{Stage: model.StageReview}})
	writeRecord(t, h.durable, model.Record{Leads: seedLeads("Durable", 3)})

	report, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, model.OriginLocalCache, report.Origin)
	assert.Equal(t, 2, report.Leads)
	assert.Equal(t, model.StageReview, report.Stage)
	assert.Equal(t, []string{"Session 0", "Session 1"}, names(h.p.Leads()))
	h.remote.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

func TestRestore_FallsBackToRemote(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	sc := searchCtx(10)
	h.remote.On("Fetch", mock.Anything, account, 1000).Return(&persist.RemoteSnapshot{
		Leads:   seedLeads("Remote", 3),
		Context: &sc,
		SavedAt: time.Now().Add(-time.Hour),
	}, nil)

	report, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, model.OriginRemoteBackup, report.Origin)
	assert.Equal(t, 3, report.Leads)
	assert.Equal(t, model.StageSearch, report.Stage)
	require.NotNil(t, h.p.Context())
	assert.Equal(t, "plumbers", h.p.Context().Query)

	raw, err := h.durable.Get(context.Background(), "record:"+account)
	require.NoError(t, err)
	assert.NotNil(t, raw, "remote hit is backfilled locally")
}

func TestRestore_NothingStored(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	h.remote.On("Fetch", mock.Anything, account, 1000).Return(nil, nil)

	report, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, report.Origin)
	assert.Empty(t, h.p.Leads())
}

func TestRestore_NewCredentialStartsWorkflowOver(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	leads := seedLeads("Biz", 2)
	writeRecord(t, h.durable, model.Record{
		Leads:    leads,
		Workflow: model.WorkflowState{Stage: model.StageOutreachSetup, SelectedIDs: []string{leads[0].ID}},
	})

	first, err := h.p.Restore(context.Background(), "token-a")
	require.NoError(t, err)
	assert.False(t, first.NewIdentity)
	assert.Equal(t, model.StageOutreachSetup, first.Stage)

	again := New(h.p.deps, Options{})
	second, err := again.Restore(context.Background(), "token-b")
	require.NoError(t, err)
	assert.True(t, second.NewIdentity)
	assert.Equal(t, model.StageSearch, second.Stage)
	assert.Empty(t, again.Workflow().SelectedIDs)
	assert.Len(t, again.Leads(), 2, "durable leads survive a credential change")

	h.session.Clear()
	reload := New(h.p.deps, Options{})
	third, err := reload.Restore(context.Background(), "token-b")
	require.NoError(t, err)
	assert.False(t, third.NewIdentity)
	assert.Equal(t, model.StageSearch, third.Stage, "previous user's stage is not restored")
	assert.Empty(t, reload.Workflow().SelectedIDs)
	assert.False(t, h.p.BackupStatus().Pending)
}

func TestRestore_RemoteUnreachableStartsEmpty(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	h.remote.On("Fetch", mock.Anything, account, 1000).Return(nil, errors.New("dial tcp: connection refused"))

	report, err := h.p.Restore(context.Background(), "token-a")
	require.NoError(t, err)
	assert.Empty(t, report.Origin)
	assert.Empty(t, h.p.Leads())
	assert.Equal(t, model.StageSearch, report.Stage)
	assert.Contains(t, h.p.BackupStatus().LastError, "connection refused")
}

func TestSearch_ReplaceSwapsSet(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]discovery.Event{{
		batchOf(recordsFor("New", 2)),
		doneEvent(),
	}}}
	h := newHarness(t, provider, nil)
	writeRecord(t, h.session, model.Record{Leads: seedLeads("Old", 3)})
	_, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)

	res, err := h.p.RunSearch(context.Background(), searchCtx(2), model.ModeReplace, nil)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeComplete, res.Outcome)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []string{"New 0", "New 1"}, names(h.p.Leads()))
	for _, l := range h.p.Leads() {
		require.NotNil(t, l.Classification, "leads are scored on finish")
		assert.Contains(t, l.SourceID, "New-", "provider ID kept as source ID")
		assert.NotEqual(t, l.SourceID, l.ID)
	}
	assert.Equal(t, "plumbers", h.p.Context().Query)
	assert.Equal(t, model.StageReview, h.p.Workflow().Stage, "results move the workflow to review")
}

func TestSearch_FilteredToNothingClearsLocalTiers(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]discovery.Event{{
		batchOf(recordsFor("No Site", 2)),
		doneEvent(),
	}}}
	h := newHarness(t, provider, nil)
	writeRecord(t, h.durable, model.Record{Leads: seedLeads("Old", 3)})
	_, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, h.p.Leads(), 3)

	sc := searchCtx(2)
	sc.Query = "dentists"
	sc.Filters.RequireWebsite = true
	res, err := h.p.RunSearch(context.Background(), sc, model.ModeReplace, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Empty(t, h.p.Leads())
	assert.Equal(t, model.StageSearch, h.p.Workflow().Stage)

	raw, err := h.durable.Get(context.Background(), "record:"+account)
	require.NoError(t, err)
	assert.Nil(t, raw, "unfiltered batches do not linger in the durable tier")

	h.session.Clear()
	h.remote.On("Fetch", mock.Anything, account, 1000).Return(nil, nil)
	reload := New(h.p.deps, Options{})
	_, err = reload.Restore(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, reload.Leads())
}

func TestSearch_HardFailureLeavesSetUntouched(t *testing.T) {
	provider := &scriptedProvider{connectErr: errors.New("bad request")}
	h := newHarness(t, provider, nil)
	writeRecord(t, h.session, model.Record{Leads: seedLeads("Old", 3)})
	_, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)

	res, err := h.p.RunSearch(context.Background(), searchCtx(5), model.ModeReplace, nil)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Equal(t, []string{"Old 0", "Old 1", "Old 2"}, names(h.p.Leads()))
	assert.Nil(t, h.p.Context())
	assert.Equal(t, model.StageSearch, h.p.Workflow().Stage)
}

func TestSearch_AppendCountsOnlyNewLeads(t *testing.T) {
	dup := discovery.Record{Name: "Old 0", Phone: "512-555-0000", Website: "old0.example.com"}
	provider := &scriptedProvider{scripts: [][]discovery.Event{{
		batchOf(append([]discovery.Record{dup}, recordsFor("New", 3)...)),
		doneEvent(),
	}}}
	h := newHarness(t, provider, nil)
	writeRecord(t, h.session, model.Record{Leads: seedLeads("Old", 2)})
	_, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)

	res, err := h.p.RunSearch(context.Background(), searchCtx(2), model.ModeAppend, nil)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeComplete, res.Outcome)
	assert.Equal(t, 2, res.Count)
	leads := h.p.Leads()
	assert.Equal(t, []string{"Old 0", "Old 1", "New 0", "New 1"}, names(leads))
	assert.Equal(t, "old0.example.com", leads[0].Website, "duplicate merged into existing lead")
}

func TestSearch_SupersededRunIsStale(t *testing.T) {
	provider := &scriptedProvider{
		scripts: [][]discovery.Event{
			{batchOf(recordsFor("First", 2))},
			{batchOf(recordsFor("Second", 3)), doneEvent()},
		},
		hold: map[int]bool{0: true},
	}
	h := newHarness(t, provider, nil)

	first, firstGen, err := h.p.Search(context.Background(), searchCtx(5), model.ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), firstGen)
	require.Eventually(t, func() bool { return len(h.p.Leads()) == 2 }, time.Second, time.Millisecond)

	res, err := h.p.RunSearch(context.Background(), searchCtx(3), model.ModeReplace, nil)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeComplete, res.Outcome)

	var firstRes *ingest.Result
	for u := range first {
		if u.Kind == ingest.UpdateResult {
			firstRes = u.Result
		}
	}
	require.NotNil(t, firstRes)
	assert.Equal(t, model.OutcomeStale, firstRes.Outcome)
	assert.Equal(t, []string{"Second 0", "Second 1", "Second 2"}, names(h.p.Leads()))
	assert.Equal(t, uint64(2), h.p.Generation())
}

func TestSearch_RejectsEmptyQuery(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	_, _, err := h.p.Search(context.Background(), model.SearchContext{Query: "  "}, model.ModeReplace)
	assert.ErrorIs(t, err, ErrInvalidSearch)
}

func TestSearch_PrunesSelection(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]discovery.Event{{batchOf(recordsFor("New", 1)), doneEvent()}}}
	h := newHarness(t, provider, nil)
	old := seedLeads("Old", 2)
	writeRecord(t, h.session, model.Record{Leads: old, Workflow: model.WorkflowState{Stage: model.StageSearch, SelectedIDs: []string{old[1].ID}}})
	_, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, []string{old[1].ID}, h.p.Workflow().SelectedIDs)

	_, err = h.p.RunSearch(context.Background(), searchCtx(1), model.ModeReplace, nil)
	require.NoError(t, err)
	assert.Empty(t, h.p.Workflow().SelectedIDs)
}

func TestOnEnrichment_MergesAndDropsStaleTokens(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]discovery.Event{
		{batchOf(recordsFor("Biz", 2)), doneEvent()},
		{batchOf(recordsFor("Next", 1)), doneEvent()},
	}}
	h := newHarness(t, provider, nil)
	_, err := h.p.RunSearch(context.Background(), searchCtx(2), model.ModeReplace, nil)
	require.NoError(t, err)

	target := h.p.Leads()[0]
	sink := h.p.EnrichmentSink()
	ok := sink(context.Background(), target.ID, model.Enrichment{
		Emails:  []string{"owner@biz0.example.com"},
		Socials: map[string]string{"linkedin": "https://linkedin.com/company/biz0"},
	})
	require.True(t, ok)

	got := h.p.Leads()[0]
	assert.Equal(t, model.EnrichmentCompleted, got.EnrichmentStatus)
	assert.Equal(t, "owner@biz0.example.com", got.Email)
	cached, err := h.p.deps.Social.Get(context.Background(), target.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "https://linkedin.com/company/biz0", cached.Profiles["linkedin"])

	assert.False(t, sink(context.Background(), "missing", model.Enrichment{Emails: []string{"x@example.com"}}))

	_, err = h.p.RunSearch(context.Background(), searchCtx(1), model.ModeReplace, nil)
	require.NoError(t, err)
	assert.False(t, sink(context.Background(), h.p.Leads()[0].ID, model.Enrichment{Emails: []string{"late@example.com"}}))
	assert.Empty(t, h.p.Leads()[0].Email)
}

func TestRequestEnrichment_MarksStatuses(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]discovery.Event{{batchOf(recordsFor("Biz", 2)), doneEvent()}}}
	enricher := &mockEnricher{}
	h := newHarness(t, provider, enricher)

	enricher.On("Enrich", mock.Anything, mock.MatchedBy(func(req discovery.EnrichRequest) bool {
		return len(req.Leads) == 2 && req.CallbackURL != ""
	})).Return(func(_ context.Context, req discovery.EnrichRequest) *discovery.EnrichResponse {
		return &discovery.EnrichResponse{Accepted: []string{req.Leads[0].ID}, Rejected: []string{req.Leads[1].ID}}
	}, nil)

	_, err := h.p.RunSearch(context.Background(), searchCtx(2), model.ModeReplace, nil)
	require.NoError(t, err)

	leads := h.p.Leads()
	assert.Equal(t, model.EnrichmentProcessing, leads[0].EnrichmentStatus)
	assert.Equal(t, model.EnrichmentFailed, leads[1].EnrichmentStatus)
	enricher.AssertExpectations(t)
}

func TestSave_SyntheticOnlyNotEligible(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	leads := seedLeads("Demo", 2)
	for i := range leads {
		leads[i].Synthetic = true
	}
	writeRecord(t, h.session, model.Record{Leads: leads})
	_, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)

	report := h.p.Save(context.Background())
	assert.True(t, eris.Is(report.Remote, persist.ErrNotEligible))
	assert.Equal(t, 2, report.Leads)
	h.remote.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSave_RemoteFailureKeepsLocal(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	writeRecord(t, h.session, model.Record{Leads: seedLeads("Biz", 1)})
	_, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)
	h.remote.On("Save", mock.Anything, account, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	report := h.p.Save(context.Background())
	assert.True(t, eris.Is(report.Remote, persist.ErrRemoteSave))
	assert.True(t, h.p.BackupStatus().Pending)

	raw, err := h.durable.Get(context.Background(), "record:"+account)
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestSave_SaveTimeSurvivesReload(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	writeRecord(t, h.session, model.Record{Leads: seedLeads("Biz", 2), Workflow: model.WorkflowState{Stage: model.StageReview}})
	_, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)
	h.remote.On("Save", mock.Anything, account, mock.Anything, mock.Anything).Return(nil).Once()

	report := h.p.Save(context.Background())
	require.NoError(t, report.Remote)
	assert.False(t, h.p.BackupStatus().Pending)

	h.session.Clear()
	reload := New(h.p.deps, Options{})
	_, err = reload.Restore(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, report.SavedAt.Equal(reload.Workflow().LastSavedAt))
	assert.Equal(t, model.StageReview, reload.Workflow().Stage)
}

func TestAutosave_SkipsUnchangedState(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]discovery.Event{{batchOf(recordsFor("Biz", 2)), doneEvent()}}}
	h := newHarness(t, provider, nil)
	h.remote.On("Save", mock.Anything, account, mock.Anything, mock.Anything).Return(nil)

	_, err := h.p.RunSearch(context.Background(), searchCtx(2), model.ModeReplace, nil)
	require.NoError(t, err)

	h.p.autosave(context.Background())
	h.p.autosave(context.Background())
	h.remote.AssertNumberOfCalls(t, "Save", 1)
	assert.False(t, h.p.BackupStatus().Pending)
	assert.False(t, h.p.Workflow().LastSavedAt.IsZero())

	_, err = h.p.Goto(model.StageOutreachSetup)
	require.NoError(t, err)
	h.p.autosave(context.Background())
	h.remote.AssertNumberOfCalls(t, "Save", 2)
}

func TestRunAutosave_StopsWithContext(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.p.RunAutosave(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("autosave loop did not stop")
	}
}

func TestReset_RemoteDeleteFailure(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	writeRecord(t, h.session, model.Record{Leads: seedLeads("Biz", 2), Workflow: model.WorkflowState{Stage: model.StageReview}})
	_, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)
	h.remote.On("Delete", mock.Anything, account, persist.DeleteCriteria{All: true}).Return(errors.New("timeout"))

	err = h.p.Reset(context.Background())
	require.Error(t, err)
	assert.True(t, eris.Is(err, persist.ErrRemoteDelete))

	assert.Empty(t, h.p.Leads())
	assert.Nil(t, h.p.Context())
	assert.Equal(t, model.StageSearch, h.p.Workflow().Stage)
	raw, err := h.session.Get(context.Background(), "record:"+account)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestGoto_ReviewNeedsLeads(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	tr, err := h.p.Goto(model.StageReview)
	assert.ErrorIs(t, err, workflow.ErrEmptyLeadSet)
	assert.True(t, tr.EmptyState)
	assert.Equal(t, model.StageSearch, h.p.Workflow().Stage)
}

func TestSelectAndTargets(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	leads := seedLeads("Biz", 3)
	writeRecord(t, h.session, model.Record{Leads: leads})
	_, err := h.p.Restore(context.Background(), "")
	require.NoError(t, err)

	assert.Len(t, h.p.Targets(), 3)

	kept := h.p.Select([]string{leads[2].ID, "unknown"})
	assert.Equal(t, []string{leads[2].ID}, kept)
	targets := h.p.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, "Biz 2", targets[0].Name)
}

func TestSignOut_ClearsSessionOnly(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	writeRecord(t, h.session, model.Record{Leads: seedLeads("Biz", 1)})
	writeRecord(t, h.durable, model.Record{Leads: seedLeads("Biz", 1)})

	require.NoError(t, h.p.SignOut(context.Background()))

	raw, err := h.session.Get(context.Background(), "record:"+account)
	require.NoError(t, err)
	assert.Nil(t, raw)
	raw, err = h.durable.Get(context.Background(), "record:"+account)
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestSearch_ConcurrentEnrichmentAutosaveAndGoto(t *testing.T) {
	var script []discovery.Event
	for i := 0; i < 20; i++ {
		script = append(script, batchOf(recordsFor(fmt.Sprintf("Batch%02d", i), 5)))
	}
	script = append(script, doneEvent())
	h := newHarness(t, &scriptedProvider{scripts: [][]discovery.Event{script}}, nil)
	h.remote.On("Save", mock.Anything, account, mock.Anything, mock.Anything).Return(nil).Maybe()

	ctx := context.Background()
	updates, _, err := h.p.Search(ctx, searchCtx(100), model.ModeReplace)
	require.NoError(t, err)
	sink := h.p.EnrichmentSink()
	email := func(id string) string { return "owner+" + id + "@example.com" }

	done := make(chan struct{})
	enriched := make(map[string]bool)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, l := range h.p.Leads() {
				if enriched[l.ID] {
					continue
				}
				if sink(ctx, l.ID, model.Enrichment{Emails: []string{email(l.ID)}}) {
					enriched[l.ID] = true
				}
			}
			time.Sleep(50 * time.Microsecond)
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				h.p.autosave(ctx)
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_, _ = h.p.Goto(model.StageReview)
				_, _ = h.p.Goto(model.StageSearch)
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	var res *ingest.Result
	for u := range updates {
		if u.Kind == ingest.UpdateResult {
			res = u.Result
		}
	}
	close(done)
	wg.Wait()

	require.NotNil(t, res)
	assert.Equal(t, model.OutcomeComplete, res.Outcome)
	assert.Equal(t, 100, res.Count)

	leads := h.p.Leads()
	require.Len(t, leads, 100)
	for _, l := range leads {
		if !enriched[l.ID] {
			require.True(t, sink(ctx, l.ID, model.Enrichment{Emails: []string{email(l.ID)}}))
		}
	}
	for _, l := range h.p.Leads() {
		require.NotNil(t, l.Enrichment, l.Name)
		assert.Contains(t, l.Enrichment.Emails, email(l.ID), "enrichment for %s survives later batches", l.Name)
		assert.Equal(t, model.EnrichmentCompleted, l.EnrichmentStatus)
	}
}
