package model

import (
	"time"
)

// EnrichmentStatus tracks where a lead is in the contact enrichment flow.
type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentProcessing EnrichmentStatus = "processing"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// Rank orders statuses by how far along the enrichment flow they are.
// Unknown statuses rank below pending.
func (s EnrichmentStatus) Rank() int {
	switch s {
	case EnrichmentPending:
		return 1
	case EnrichmentProcessing:
		return 2
	case EnrichmentFailed:
		return 3
	case EnrichmentCompleted:
		return 4
	default:
		return 0
	}
}

// Tier is the lead temperature assigned by the scoring service.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Classification is assigned by an external scorer and carried opaquely.
type Classification struct {
	Tier  Tier    `json:"tier" yaml:"tier"`
	Score float64 `json:"score" yaml:"score"`
}

// Enrichment holds contact data discovered after a lead was first ingested.
// All fields are additive: they grow over time and never shrink.
type Enrichment struct {
	Emails         []string          `json:"emails,omitempty"`
	Phones         []string          `json:"phones,omitempty"`
	Socials        map[string]string `json:"socials,omitempty"`
	Sources        []string          `json:"sources,omitempty"`
	CatchAllDomain bool              `json:"catch_all_domain,omitempty"`
	EnrichedAt     time.Time         `json:"enriched_at,omitempty"`
}

// IsZero reports whether the enrichment carries no data at all.
func (e *Enrichment) IsZero() bool {
	if e == nil {
		return true
	}
	return len(e.Emails) == 0 && len(e.Phones) == 0 && len(e.Socials) == 0 &&
		len(e.Sources) == 0 && !e.CatchAllDomain && e.EnrichedAt.IsZero()
}

// Lead is a prospect business surfaced by discovery.
type Lead struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Address          string           `json:"address,omitempty"`
	Phone            string           `json:"phone,omitempty"`
	Website          string           `json:"website,omitempty"`
	Email            string           `json:"email,omitempty"`
	Rating           float64          `json:"rating,omitempty"`
	SourceID         string           `json:"source_id,omitempty"` // provider-issued, not used for identity
	Synthetic        bool             `json:"synthetic,omitempty"` // demo/sample row
	Enrichment       *Enrichment      `json:"enrichment,omitempty"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status,omitempty"`
	Classification   *Classification  `json:"classification,omitempty"`
}

// HasPhone reports whether any phone number is known for the lead.
func (l Lead) HasPhone() bool {
	if l.Phone != "" {
		return true
	}
	return l.Enrichment != nil && len(l.Enrichment.Phones) > 0
}

// HasEmail reports whether any email address is known for the lead.
func (l Lead) HasEmail() bool {
	if l.Email != "" {
		return true
	}
	return l.Enrichment != nil && len(l.Enrichment.Emails) > 0
}
