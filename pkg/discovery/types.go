// Package discovery is a client for the prospect-discovery provider. Search
// results stream back as newline-delimited JSON events.
package discovery

import (
	"time"
)

// Request is a discovery query.
type Request struct {
	Query      string   `json:"query"`
	Location   string   `json:"location,omitempty"`
	SearchType string   `json:"search_type,omitempty"`
	Limit      int      `json:"limit"`
	Filters    []string `json:"filters,omitempty"`
}

// Record is a raw business record returned by the provider.
type Record struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name"`
	Address string   `json:"address,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Website string   `json:"website,omitempty"`
	Email   string   `json:"email,omitempty"`
	Rating  float64  `json:"rating,omitempty"`
	Emails  []string `json:"emails,omitempty"`
}

// Coverage is advisory query-expansion metadata. Any field may be absent.
type Coverage struct {
	QueriesExpanded  *int `json:"queries_expanded,omitempty"`
	QueriesCompleted *int `json:"queries_completed,omitempty"`
	RemainingQueries *int `json:"remaining_queries,omitempty"`
}

// EventKind identifies a stream event.
type EventKind string

const (
	EventBatch    EventKind = "batch"
	EventProgress EventKind = "progress"
	EventDone     EventKind = "done"
	EventError    EventKind = "error"
)

// TerminalStatus is the provider's verdict carried by a done event.
type TerminalStatus string

const (
	TerminalSuccess TerminalStatus = "success"
	TerminalPartial TerminalStatus = "partial"
	TerminalFailure TerminalStatus = "failure"
)

// Event is one element of a search stream. Err is set only on events
// synthesized by the client when the transport fails.
type Event struct {
	Kind     EventKind      `json:"type"`
	Records  []Record       `json:"records,omitempty"`
	Percent  float64        `json:"percent,omitempty"`
	Coverage *Coverage      `json:"coverage,omitempty"`
	Status   TerminalStatus `json:"status,omitempty"`
	Message  string         `json:"message,omitempty"`
	Err      error          `json:"-"`
}

// EnrichRequest asks the enrichment provider to look up contact data for
// previously streamed leads. Results arrive later as callbacks correlated by
// lead ID and run token.
type EnrichRequest struct {
	RunToken    uint64      `json:"run_token"`
	CallbackURL string      `json:"callback_url,omitempty"`
	Leads       []EnrichRef `json:"leads"`
}

// EnrichRef identifies one lead to enrich.
type EnrichRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
	Address string `json:"address,omitempty"`
}

// EnrichResponse acknowledges an enrichment request.
type EnrichResponse struct {
	Accepted []string  `json:"accepted"`
	Rejected []string  `json:"rejected,omitempty"`
	QueuedAt time.Time `json:"queued_at"`
}
