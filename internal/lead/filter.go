package lead

import (
	"github.com/sells-group/prospect-cli/internal/model"
)

// Matches reports whether l passes every active filter.
func Matches(l model.Lead, f model.FilterSet) bool {
	if f.RequirePhone && !l.HasPhone() {
		return false
	}
	if f.RequireEmail && !l.HasEmail() {
		return false
	}
	if f.RequireWebsite && l.Website == "" {
		return false
	}
	if f.MinRating > 0 && l.Rating < f.MinRating {
		return false
	}
	return true
}

// PostProcess applies the client-side filters to the accumulated set and
// then truncates it to the requested count when filtering left a surplus.
// It returns the final size.
func PostProcess(s *Set, f model.FilterSet, requested int) int {
	if f.Active() {
		s.Retain(func(l model.Lead) bool { return Matches(l, f) })
	}
	s.Truncate(requested)
	return s.Len()
}
