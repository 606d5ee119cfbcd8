// Package workflow implements the four-stage prospecting workflow:
// search, review, outreach setup, calling.
package workflow

import (
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

var (
	// ErrSkipStage is returned for a forward move of more than one stage.
	ErrSkipStage = eris.New("workflow: stages must be entered in order")
	// ErrEmptyLeadSet is returned when review is entered with no leads.
	ErrEmptyLeadSet = eris.New("workflow: no leads to review")
	// ErrInvalidStage is returned for a stage outside 1..4.
	ErrInvalidStage = eris.New("workflow: invalid stage")
)

// Transition describes the result of a Goto call.
type Transition struct {
	From model.Stage `json:"from"`
	To   model.Stage `json:"to"`
	// EmptyState is set when the target stage has no data to show. The
	// machine stays where it was.
	EmptyState bool `json:"empty_state"`
	// Changed is false when the stage did not move.
	Changed bool `json:"changed"`
}

// Machine holds the workflow state. It is safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	state    model.WorkflowState
	onChange func(model.WorkflowState)
	nowFunc  func() time.Time
}

// New returns a machine at the search stage. onChange, if non-nil, is called
// after every state change with a copy of the new state.
func New(onChange func(model.WorkflowState)) *Machine {
	return &Machine{
		state:    model.WorkflowState{Stage: model.StageSearch},
		onChange: onChange,
		nowFunc:  time.Now,
	}
}

// Goto moves to stage. Backward moves are always allowed. Forward moves go
// one stage at a time, and review requires at least one lead. Re-entering the
// current stage only refreshes UpdatedAt.
func (m *Machine) Goto(stage model.Stage, leadCount int) (Transition, error) {
	if !stage.Valid() {
		return Transition{}, eris.Wrapf(ErrInvalidStage, "stage %d", stage)
	}

	m.mu.Lock()
	from := m.state.Stage
	t := Transition{From: from, To: stage}

	switch {
	case stage > from+1:
		m.mu.Unlock()
		return t, eris.Wrapf(ErrSkipStage, "%s to %s", from, stage)
	case stage == model.StageReview && stage != from && leadCount == 0:
		m.mu.Unlock()
		t.To = from
		t.EmptyState = true
		return t, ErrEmptyLeadSet
	}

	t.Changed = stage != from
	m.state.Stage = stage
	m.state.UpdatedAt = m.nowFunc().UTC()
	snap := m.copyState()
	m.mu.Unlock()

	m.notify(snap)
	return t, nil
}

// Select replaces the selected lead IDs.
func (m *Machine) Select(ids []string) {
	m.mu.Lock()
	m.state.SelectedIDs = dedupe(ids)
	m.state.UpdatedAt = m.nowFunc().UTC()
	snap := m.copyState()
	m.mu.Unlock()

	m.notify(snap)
}

// Prune drops selected IDs that are no longer in the lead set.
func (m *Machine) Prune(present []string) {
	m.mu.Lock()
	kept := slices.DeleteFunc(slices.Clone(m.state.SelectedIDs), func(id string) bool {
		return !slices.Contains(present, id)
	})
	if len(kept) == len(m.state.SelectedIDs) {
		m.mu.Unlock()
		return
	}
	m.state.SelectedIDs = kept
	m.state.UpdatedAt = m.nowFunc().UTC()
	snap := m.copyState()
	m.mu.Unlock()

	m.notify(snap)
}

// Targets returns the selected IDs if any, else all.
func (m *Machine) Targets(all []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.state.SelectedIDs) > 0 {
		return slices.Clone(m.state.SelectedIDs)
	}
	return slices.Clone(all)
}

// State returns a copy of the current state.
func (m *Machine) State() model.WorkflowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyState()
}

// Stage returns the current stage.
func (m *Machine) Stage() model.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Stage
}

// Restore replaces the state without notifying. An invalid stage restores
// to search.
func (m *Machine) Restore(s model.WorkflowState) {
	if !s.Stage.Valid() {
		s.Stage = model.StageSearch
	}
	s.SelectedIDs = slices.Clone(s.SelectedIDs)
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// MarkSaved records a successful save time without notifying.
func (m *Machine) MarkSaved(at time.Time) {
	m.mu.Lock()
	m.state.LastSavedAt = at
	m.mu.Unlock()
}

// Reset returns the machine to the search stage with no selection.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.state = model.WorkflowState{Stage: model.StageSearch, UpdatedAt: m.nowFunc().UTC()}
	snap := m.copyState()
	m.mu.Unlock()

	m.notify(snap)
}

func (m *Machine) copyState() model.WorkflowState {
	s := m.state
	s.SelectedIDs = slices.Clone(s.SelectedIDs)
	return s
}

func (m *Machine) notify(s model.WorkflowState) {
	if m.onChange != nil {
		m.onChange(s)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
