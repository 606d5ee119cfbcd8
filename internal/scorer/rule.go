package scorer

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/model"
)

// Scorer annotates leads with a classification.
type Scorer interface {
	Score(leads []model.Lead) []model.Lead
}

// RuleScorer scores leads with weighted contactability components.
type RuleScorer struct {
	cfg config.ScorerConfig
}

// NewRuleScorer creates a RuleScorer. An invalid config falls back to
// DefaultScorerConfig.
func NewRuleScorer(cfg config.ScorerConfig) *RuleScorer {
	if err := ValidateConfig(cfg); err != nil {
		zap.L().Warn("scorer: invalid config, using defaults", zap.Error(err))
		cfg = DefaultScorerConfig()
	}
	return &RuleScorer{cfg: cfg}
}

// Score returns copies of leads with Classification set. Leads that already
// carry a classification keep it.
func (s *RuleScorer) Score(leads []model.Lead) []model.Lead {
	out := make([]model.Lead, len(leads))
	scored := 0
	for i, l := range leads {
		if l.Classification == nil {
			c := s.classify(l)
			l.Classification = &c
			scored++
		}
		out[i] = l
	}
	zap.L().Debug("scorer: classified leads", zap.Int("scored", scored), zap.Int("total", len(leads)))
	return out
}

func (s *RuleScorer) classify(l model.Lead) model.Classification {
	score := computeScore(l, s.cfg)
	return model.Classification{Tier: tierFor(score, s.cfg), Score: score}
}

func computeScore(l model.Lead, cfg config.ScorerConfig) float64 {
	components := map[string]float64{
		"phone":   boolScore(l.HasPhone()),
		"email":   boolScore(l.HasEmail()),
		"website": boolScore(l.Website != ""),
		"address": boolScore(l.Address != ""),
		"rating":  scoreRating(l.Rating),
		"social":  scoreSocial(l.Enrichment),
	}

	weights := map[string]float64{
		"phone":   cfg.PhoneWeight,
		"email":   cfg.EmailWeight,
		"website": cfg.WebsiteWeight,
		"address": cfg.AddressWeight,
		"rating":  cfg.RatingWeight,
		"social":  cfg.SocialWeight,
	}

	weightSum := WeightSum(cfg)
	var total float64
	for k, component := range components {
		total += component * weights[k]
	}

	// Normalize to 0-100 scale.
	if weightSum > 0 {
		total = (total / weightSum) * 100
	}

	// Penalty: 25 points per negative keyword hit, capped at 75.
	if hits := matchKeywords(cfg.NegativeKeywords, l.Name); len(hits) > 0 {
		penalty := math.Min(float64(len(hits))*25, 75)
		total = math.Max(0, total-penalty)
	}

	return math.Round(total*10) / 10
}

func tierFor(score float64, cfg config.ScorerConfig) model.Tier {
	switch {
	case score >= cfg.HotThreshold:
		return model.TierHot
	case score >= cfg.WarmThreshold:
		return model.TierWarm
	default:
		return model.TierCold
	}
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// scoreRating maps a 0-5 star rating to 0-1. Unknown ratings score neutral.
func scoreRating(r float64) float64 {
	if r <= 0 {
		return 0.5
	}
	return math.Min(r, 5) / 5
}

func scoreSocial(e *model.Enrichment) float64 {
	if e == nil || len(e.Socials) == 0 {
		return 0
	}
	return math.Min(float64(len(e.Socials))/2, 1)
}

func matchKeywords(keywords []string, texts ...string) []string {
	var combined string
	for _, t := range texts {
		if t != "" {
			combined += " " + strings.ToLower(t)
		}
	}
	if combined == "" {
		return nil
	}

	var matched []string
	for _, kw := range keywords {
		if strings.Contains(combined, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}
