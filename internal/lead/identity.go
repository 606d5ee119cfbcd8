// Package lead implements identity resolution, merging, and the resident
// lead set used by the acquisition pipeline.
package lead

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/prospect-cli/internal/model"
)

const keySeparator = "|"

// normalize case-folds s and collapses whitespace runs. cases.Caser is
// stateful, so a fresh one is built per call.
func normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}

type keyPart struct {
	field string
	value string
}

func keyParts(l model.Lead) []keyPart {
	return []keyPart{
		{"name", normalize(l.Name)},
		{"address", normalize(l.Address)},
		{"phone", normalize(l.Phone)},
		{"website", normalize(l.Website)},
	}
}

// IdentityKey computes the composite identity key for a lead from its weak
// natural attributes. Only populated fields participate, so the key is a
// heuristic: chains sharing a name stay apart as long as address or phone
// differ, and lightly varied address strings are treated as distinct.
func IdentityKey(l model.Lead) string {
	var b strings.Builder
	for _, p := range keyParts(l) {
		if p.value == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(keySeparator)
		}
		b.WriteString(p.field)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	return b.String()
}

// Compatible reports whether two leads with different populated field
// subsets describe the same business: names must agree, no field known to
// both may disagree, and at least one of address, phone or website must be
// known to both. A shared name alone never matches.
func Compatible(a, b model.Lead) bool {
	pa, pb := keyParts(a), keyParts(b)
	if pa[0].value == "" || pa[0].value != pb[0].value {
		return false
	}
	corroborated := false
	for i := 1; i < len(pa); i++ {
		va, vb := pa[i].value, pb[i].value
		if va == "" || vb == "" {
			continue
		}
		if va != vb {
			return false
		}
		corroborated = true
	}
	return corroborated
}
