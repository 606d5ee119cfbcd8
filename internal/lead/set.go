package lead

import (
	"github.com/google/uuid"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Set is the resident collection of leads for the current search, keyed by
// identity and kept in first-seen order. Set is not safe for concurrent use;
// the pipeline serializes access to it.
type Set struct {
	order []string
	byID  map[string]model.Lead
	byKey map[string]string
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{
		byID:  make(map[string]model.Lead),
		byKey: make(map[string]string),
	}
}

// SetOf builds a set from leads, merging duplicates as Upsert would.
func SetOf(leads []model.Lead) *Set {
	s := NewSet()
	s.UpsertBatch(leads)
	return s
}

// Len returns the number of distinct leads.
func (s *Set) Len() int {
	return len(s.order)
}

// Leads returns deep copies of all leads in first-seen order.
func (s *Set) Leads() []model.Lead {
	out := make([]model.Lead, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, Clone(s.byID[id]))
	}
	return out
}

// IDs returns lead IDs in first-seen order.
func (s *Set) IDs() []string {
	return append([]string(nil), s.order...)
}

// Get returns a copy of the lead with the given ID.
func (s *Set) Get(id string) (model.Lead, bool) {
	l, ok := s.byID[id]
	if !ok {
		return model.Lead{}, false
	}
	return Clone(l), true
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	c := &Set{
		order: append([]string(nil), s.order...),
		byID:  make(map[string]model.Lead, len(s.byID)),
		byKey: make(map[string]string, len(s.byKey)),
	}
	for id, l := range s.byID {
		c.byID[id] = Clone(l)
	}
	for k, id := range s.byKey {
		c.byKey[k] = id
	}
	return c
}

// HasReal reports whether the set holds at least one non-synthetic lead.
func (s *Set) HasReal() bool {
	for _, l := range s.byID {
		if !l.Synthetic {
			return true
		}
	}
	return false
}

// Upsert inserts l or merges it into the lead it resolves to. It returns the
// resident lead after the operation and whether it was newly added. Leads
// without a name carry no identity and are ignored.
func (s *Set) Upsert(l model.Lead) (model.Lead, bool) {
	l = Normalize(l)
	key := IdentityKey(l)
	if l.Name == "" || key == "" {
		return model.Lead{}, false
	}

	if id, ok := s.match(l, key); ok {
		merged := Merge(s.byID[id], l)
		s.byID[id] = merged
		s.byKey[IdentityKey(merged)] = id
		s.byKey[key] = id
		return Clone(merged), false
	}

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	s.order = append(s.order, l.ID)
	s.byID[l.ID] = l
	s.byKey[key] = l.ID
	return Clone(l), true
}

// UpsertBatch upserts every lead and reports how many were added and merged.
// Leads Upsert ignores are counted as neither.
func (s *Set) UpsertBatch(leads []model.Lead) (added, merged int) {
	for _, l := range leads {
		res, isNew := s.Upsert(l)
		switch {
		case res.ID == "":
		case isNew:
			added++
		default:
			merged++
		}
	}
	return added, merged
}

// Update applies fn to the lead with the given ID. It returns false when the
// ID is not resident.
func (s *Set) Update(id string, fn func(model.Lead) model.Lead) bool {
	cur, ok := s.byID[id]
	if !ok {
		return false
	}
	next := fn(Clone(cur))
	next.ID = id
	s.byID[id] = next
	if key := IdentityKey(next); key != "" {
		s.byKey[key] = id
	}
	return true
}

// Retain keeps only leads for which keep returns true and reports how many
// were removed.
func (s *Set) Retain(keep func(model.Lead) bool) int {
	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		if keep(s.byID[id]) {
			kept = append(kept, id)
			continue
		}
		delete(s.byID, id)
		removed++
	}
	s.order = kept
	if removed > 0 {
		s.reindex()
	}
	return removed
}

// Truncate drops leads beyond the first n. A non-positive n is a no-op.
func (s *Set) Truncate(n int) int {
	if n <= 0 || len(s.order) <= n {
		return 0
	}
	for _, id := range s.order[n:] {
		delete(s.byID, id)
	}
	dropped := len(s.order) - n
	s.order = s.order[:n]
	s.reindex()
	return dropped
}

func (s *Set) match(l model.Lead, key string) (string, bool) {
	if id, ok := s.byKey[key]; ok {
		return id, true
	}
	if l.ID != "" {
		if _, ok := s.byID[l.ID]; ok {
			return l.ID, true
		}
	}
	for _, id := range s.order {
		if Compatible(s.byID[id], l) {
			return id, true
		}
	}
	return "", false
}

func (s *Set) reindex() {
	s.byKey = make(map[string]string, len(s.order))
	for _, id := range s.order {
		s.byKey[IdentityKey(s.byID[id])] = id
	}
}
