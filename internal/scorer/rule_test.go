package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
)

func TestRuleScorer_Tiers(t *testing.T) {
	s := NewRuleScorer(DefaultScorerConfig())

	full := model.Lead{
		Name:    "Acme Plumbing",
		Phone:   "555-0100",
		Email:   "info@acme.com",
		Website: "acme.com",
		Address: "1 Main St",
		Rating:  5,
		Enrichment: &model.Enrichment{Socials: map[string]string{
			"linkedin": "https://linkedin.com/company/acme",
			"facebook": "https://facebook.com/acme",
		}},
	}
	partial := model.Lead{Name: "Beta Roofing", Phone: "555-0101", Website: "beta.com", Address: "2 Main St", Rating: 4}
	bare := model.Lead{Name: "Gamma"}

	out := s.Score([]model.Lead{full, partial, bare})
	require.Len(t, out, 3)

	assert.Equal(t, model.TierHot, out[0].Classification.Tier)
	assert.InDelta(t, 100.0, out[0].Classification.Score, 0.01)

	assert.Equal(t, model.TierWarm, out[1].Classification.Tier)
	assert.InDelta(t, 67.0, out[1].Classification.Score, 0.01)

	assert.Equal(t, model.TierCold, out[2].Classification.Tier)
	assert.InDelta(t, 7.5, out[2].Classification.Score, 0.01)

	assert.Nil(t, full.Classification, "input is not mutated")
}

func TestRuleScorer_EnrichmentCountsAsContact(t *testing.T) {
	s := NewRuleScorer(DefaultScorerConfig())
	l := model.Lead{Name: "Delta", Enrichment: &model.Enrichment{
		Phones: []string{"555-0199"},
		Emails: []string{"hi@delta.com"},
	}}

	out := s.Score([]model.Lead{l})
	assert.InDelta(t, 62.5, out[0].Classification.Score, 0.01)
}

func TestRuleScorer_NegativeKeywordPenalty(t *testing.T) {
	s := NewRuleScorer(DefaultScorerConfig())
	l := model.Lead{Name: "Closed Diner", Phone: "1", Email: "e", Website: "w", Address: "a", Rating: 5}

	out := s.Score([]model.Lead{l})
	assert.InDelta(t, 70.0, out[0].Classification.Score, 0.01)
}

func TestRuleScorer_KeepsExistingClassification(t *testing.T) {
	s := NewRuleScorer(DefaultScorerConfig())
	l := model.Lead{Name: "Acme", Classification: &model.Classification{Tier: model.TierCold, Score: 1}}

	out := s.Score([]model.Lead{l})
	assert.Equal(t, model.TierCold, out[0].Classification.Tier)
	assert.InDelta(t, 1.0, out[0].Classification.Score, 0.001)
}

func TestNewRuleScorer_InvalidConfigFallsBack(t *testing.T) {
	cfg := DefaultScorerConfig()
	cfg.PhoneWeight = -5
	s := NewRuleScorer(cfg)
	assert.Equal(t, DefaultScorerConfig().PhoneWeight, s.cfg.PhoneWeight)
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(DefaultScorerConfig()))

	cfg := DefaultScorerConfig()
	cfg.EmailWeight = 50
	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights should sum to 100")

	cfg = DefaultScorerConfig()
	cfg.WarmThreshold = 90
	err = ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warm_threshold")

	cfg = DefaultScorerConfig()
	cfg.SocialWeight = -1
	cfg.RatingWeight = 21
	err = ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "social_weight must be >= 0")
}

func TestScoreRating(t *testing.T) {
	assert.InDelta(t, 0.5, scoreRating(0), 0.001)
	assert.InDelta(t, 0.8, scoreRating(4), 0.001)
	assert.InDelta(t, 1.0, scoreRating(7), 0.001)
}

func TestMatchKeywords(t *testing.T) {
	assert.Equal(t, []string{"closed"}, matchKeywords([]string{"closed", "bankrupt"}, "Joe's CLOSED Cafe"))
	assert.Nil(t, matchKeywords([]string{"closed"}))
}
