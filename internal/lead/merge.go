package lead

import (
	"maps"
	"slices"
	"strings"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Merge combines two records that resolve to the same identity. Scalar fields
// keep the existing non-empty value and adopt the incoming one only when the
// existing field is empty. Enrichment sets are unioned, socials are unioned
// with the incoming value winning per platform, and the ID is never changed.
func Merge(existing, incoming model.Lead) model.Lead {
	out := existing

	out.ID = firstNonEmpty(existing.ID, incoming.ID)
	out.Name = firstNonEmpty(existing.Name, incoming.Name)
	out.Address = firstNonEmpty(existing.Address, incoming.Address)
	out.Phone = firstNonEmpty(existing.Phone, incoming.Phone)
	out.Website = firstNonEmpty(existing.Website, incoming.Website)
	out.SourceID = firstNonEmpty(existing.SourceID, incoming.SourceID)
	if out.Rating == 0 {
		out.Rating = incoming.Rating
	}

	out.Email = existing.Email
	if out.Email == "" {
		out.Email = incoming.Email
	}
	if out.Email == "" && incoming.Enrichment != nil && len(incoming.Enrichment.Emails) > 0 {
		out.Email = incoming.Enrichment.Emails[0]
	}

	out.Synthetic = existing.Synthetic && incoming.Synthetic
	out.Enrichment = mergeEnrichment(existing.Enrichment, incoming.Enrichment)

	out.EnrichmentStatus = existing.EnrichmentStatus
	if incoming.EnrichmentStatus.Rank() > out.EnrichmentStatus.Rank() {
		out.EnrichmentStatus = incoming.EnrichmentStatus
	}

	if existing.Classification != nil {
		c := *existing.Classification
		out.Classification = &c
	} else if incoming.Classification != nil {
		c := *incoming.Classification
		out.Classification = &c
	}

	return out
}

// MergeEnrichment folds an out-of-band enrichment payload into an existing
// lead through the same rules Merge applies to ingestion batches, and marks
// the lead's enrichment completed.
func MergeEnrichment(existing model.Lead, payload model.Enrichment) model.Lead {
	p := payload
	out := Merge(existing, model.Lead{
		ID:               existing.ID,
		Enrichment:       &p,
		EnrichmentStatus: model.EnrichmentCompleted,
	})
	out.EnrichmentStatus = model.EnrichmentCompleted
	return out
}

func mergeEnrichment(existing, incoming *model.Enrichment) *model.Enrichment {
	if existing == nil && incoming == nil {
		return nil
	}
	if existing == nil {
		return cloneEnrichment(incoming)
	}
	if incoming == nil {
		return cloneEnrichment(existing)
	}

	out := &model.Enrichment{
		Emails:         union(existing.Emails, incoming.Emails),
		Phones:         union(existing.Phones, incoming.Phones),
		Sources:        union(existing.Sources, incoming.Sources),
		CatchAllDomain: existing.CatchAllDomain || incoming.CatchAllDomain,
		EnrichedAt:     existing.EnrichedAt,
	}
	if incoming.EnrichedAt.After(out.EnrichedAt) {
		out.EnrichedAt = incoming.EnrichedAt
	}
	if len(existing.Socials) > 0 || len(incoming.Socials) > 0 {
		out.Socials = make(map[string]string, len(existing.Socials)+len(incoming.Socials))
		maps.Copy(out.Socials, existing.Socials)
		for platform, url := range incoming.Socials {
			if url != "" {
				out.Socials[platform] = url
			}
		}
	}
	return out
}

func cloneEnrichment(e *model.Enrichment) *model.Enrichment {
	out := *e
	out.Emails = union(e.Emails, nil)
	out.Phones = union(e.Phones, nil)
	out.Sources = union(e.Sources, nil)
	out.Socials = nil
	if len(e.Socials) > 0 {
		out.Socials = maps.Clone(e.Socials)
	}
	return &out
}

// union returns the sorted, de-duplicated union of a and b with blank
// entries dropped. A nil result is returned when both inputs are empty.
func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	for _, s := range b {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Normalize trims scalar fields and canonicalizes enrichment sets so that
// Merge(l, l) == l holds for the result.
func Normalize(l model.Lead) model.Lead {
	l.ID = strings.TrimSpace(l.ID)
	l.Name = strings.TrimSpace(l.Name)
	l.Address = strings.TrimSpace(l.Address)
	l.Phone = strings.TrimSpace(l.Phone)
	l.Website = strings.TrimSpace(l.Website)
	l.Email = strings.TrimSpace(l.Email)
	if l.Enrichment != nil {
		if l.Enrichment.IsZero() {
			l.Enrichment = nil
		} else {
			l.Enrichment = cloneEnrichment(l.Enrichment)
		}
	}
	if l.Email == "" && l.Enrichment != nil && len(l.Enrichment.Emails) > 0 {
		l.Email = l.Enrichment.Emails[0]
	}
	if l.Classification != nil {
		c := *l.Classification
		l.Classification = &c
	}
	return l
}

// Clone returns a deep copy of l.
func Clone(l model.Lead) model.Lead {
	if l.Enrichment != nil {
		l.Enrichment = cloneEnrichment(l.Enrichment)
	}
	if l.Classification != nil {
		c := *l.Classification
		l.Classification = &c
	}
	return l
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
