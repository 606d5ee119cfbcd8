// Package scorer assigns a lead temperature from contactability and rating
// signals. Scoring is local and synchronous.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/config"
)

// DefaultScorerConfig returns a config.ScorerConfig with sensible defaults.
// Weights sum to 100.
func DefaultScorerConfig() config.ScorerConfig {
	return config.ScorerConfig{
		// Weights (sum = 100).
		PhoneWeight:   30,
		EmailWeight:   25,
		WebsiteWeight: 15,
		AddressWeight: 10,
		RatingWeight:  15,
		SocialWeight:  5,

		// Tier cut-offs on the 0-100 scale.
		HotThreshold:  70,
		WarmThreshold: 40,

		NegativeKeywords: []string{"permanently closed", "closed", "out of business"},
	}
}

// WeightSum returns the sum of all component weights.
func WeightSum(c config.ScorerConfig) float64 {
	return c.PhoneWeight + c.EmailWeight + c.WebsiteWeight +
		c.AddressWeight + c.RatingWeight + c.SocialWeight
}

// ValidateConfig checks that a ScorerConfig is internally consistent.
func ValidateConfig(c config.ScorerConfig) error {
	var errs []string

	// All weights must be non-negative.
	weights := map[string]float64{
		"phone_weight":   c.PhoneWeight,
		"email_weight":   c.EmailWeight,
		"website_weight": c.WebsiteWeight,
		"address_weight": c.AddressWeight,
		"rating_weight":  c.RatingWeight,
		"social_weight":  c.SocialWeight,
	}
	for name, w := range weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	sum := WeightSum(c)
	if sum <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}

	// Allow tolerance for floating-point.
	if math.Abs(sum-100) > 1 {
		errs = append(errs, fmt.Sprintf("weights should sum to 100, got %.1f", sum))
	}

	if c.HotThreshold < 0 || c.HotThreshold > 100 {
		errs = append(errs, "hot_threshold must be between 0 and 100")
	}
	if c.WarmThreshold < 0 || c.WarmThreshold > c.HotThreshold {
		errs = append(errs, "warm_threshold must be between 0 and hot_threshold")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
