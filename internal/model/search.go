package model

import (
	"time"
)

// SearchType selects the kind of discovery query issued to the provider.
type SearchType string

const (
	SearchPlaces    SearchType = "places"
	SearchCompanies SearchType = "companies"
)

// FilterSet holds the client-side filters applied once a stream completes.
type FilterSet struct {
	RequirePhone   bool    `json:"require_phone,omitempty" yaml:"require_phone"`
	RequireWebsite bool    `json:"require_website,omitempty" yaml:"require_website"`
	RequireEmail   bool    `json:"require_email,omitempty" yaml:"require_email"`
	MinRating      float64 `json:"min_rating,omitempty" yaml:"min_rating"`
}

// Active reports whether any filter would exclude a lead.
func (f FilterSet) Active() bool {
	return f.RequirePhone || f.RequireWebsite || f.RequireEmail || f.MinRating > 0
}

// SearchContext is persisted alongside the lead set so a reload can resume
// the same query without re-asking the user.
type SearchContext struct {
	Query          string     `json:"query" yaml:"query"`
	Location       string     `json:"location" yaml:"location"`
	SearchType     SearchType `json:"search_type" yaml:"search_type"`
	Filters        FilterSet  `json:"filters" yaml:"filters"`
	RequestedCount int        `json:"requested_count" yaml:"requested_count"`
}

// SearchMode controls whether a new search discards or extends the prior set.
type SearchMode string

const (
	ModeReplace SearchMode = "replace"
	ModeAppend  SearchMode = "append"
)

// OutcomeKind classifies how an ingestion run ended.
type OutcomeKind string

const (
	OutcomeComplete    OutcomeKind = "complete"
	OutcomePartial     OutcomeKind = "partial"
	OutcomeInterrupted OutcomeKind = "interrupted"
	OutcomeFailed      OutcomeKind = "failed"
	OutcomeStale       OutcomeKind = "stale"
)

// Usable reports whether the outcome left a valid lead set behind.
func (k OutcomeKind) Usable() bool {
	return k == OutcomeComplete || k == OutcomePartial || k == OutcomeInterrupted
}

// Stage is a step of the prospecting workflow.
type Stage int

const (
	StageSearch Stage = iota + 1
	StageReview
	StageOutreachSetup
	StageCalling
)

func (s Stage) String() string {
	switch s {
	case StageSearch:
		return "search"
	case StageReview:
		return "review"
	case StageOutreachSetup:
		return "outreach_setup"
	case StageCalling:
		return "calling"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the four workflow stages.
func (s Stage) Valid() bool {
	return s >= StageSearch && s <= StageCalling
}

// WorkflowState is independent of lead content but causally downstream of it.
type WorkflowState struct {
	Stage       Stage     `json:"stage"`
	SelectedIDs []string  `json:"selected_ids,omitempty"`
	LastSavedAt time.Time `json:"last_saved_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// SaveOrigin records which tier produced a persistence record.
type SaveOrigin string

const (
	OriginLocalCache   SaveOrigin = "local-cache"
	OriginRemoteBackup SaveOrigin = "remote-backup"
)

// Record is the unit written to each persistence tier.
type Record struct {
	Leads    []Lead         `json:"leads"`
	Context  *SearchContext `json:"context,omitempty"`
	Workflow WorkflowState  `json:"workflow"`
	SavedAt  time.Time      `json:"saved_at"`
	Origin   SaveOrigin     `json:"origin"`
}

// Empty reports whether the record holds no leads.
func (r *Record) Empty() bool {
	return r == nil || len(r.Leads) == 0
}
