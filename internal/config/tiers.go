package config

import (
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
)

// TierConfig is the closed parameter set of one retrieval profile. Tiers differ
// only in these values; the retrieval pipeline is the same for all of them.
type TierConfig struct {
	// Candidates is how many vector candidates are fetched.
	Candidates int `yaml:"candidates"`
	// Results is the default number of results returned.
	Results int `yaml:"results"`
	// RerankWidth is how many fused candidates are handed to the re-ranker.
	RerankWidth int `yaml:"rerank_width"`
	// MinScore discards candidates whose fused score is below it.
	MinScore float64 `yaml:"min_score"`
	// ContextBudget is the answer context size in characters.
	ContextBudget int  `yaml:"context_budget"`
	Hybrid        bool `yaml:"hybrid"`
	Rerank        bool `yaml:"rerank"`
	Expand        bool `yaml:"expand"`
}

// TiersConfig holds one TierConfig per tier.
type TiersConfig struct {
	Basic         TierConfig `yaml:"basic"`
	Improved      TierConfig `yaml:"improved"`
	Advanced      TierConfig `yaml:"advanced"`
	Comprehensive TierConfig `yaml:"comprehensive"`
}

// Get returns the configuration of tier t.
func (c *TiersConfig) Get(t models.Tier) (*TierConfig, error) {
	switch t {
	case models.TierBasic:
		return &c.Basic, nil
	case models.TierImproved:
		return &c.Improved, nil
	case models.TierAdvanced:
		return &c.Advanced, nil
	case models.TierComprehensive:
		return &c.Comprehensive, nil
	}
	return nil, fmt.Errorf("unknown tier: %q", t)
}

// DefaultTiers returns the built-in tier profiles.
func DefaultTiers() TiersConfig {
	return TiersConfig{
		Basic: TierConfig{
			Candidates: 20, Results: 8, RerankWidth: 20, MinScore: 0,
			ContextBudget: 4000,
		},
		Improved: TierConfig{
			Candidates: 20, Results: 8, RerankWidth: 20, MinScore: 0.5,
			ContextBudget: 4000,
		},
		Advanced: TierConfig{
			Candidates: 30, Results: 8, RerankWidth: 20, MinScore: 0.3,
			ContextBudget: 6000, Hybrid: true, Rerank: true, Expand: true,
		},
		Comprehensive: TierConfig{
			Candidates: 40, Results: 15, RerankWidth: 30, MinScore: 0.25,
			ContextBudget: 12000, Hybrid: true, Rerank: true, Expand: true,
		},
	}
}

func (t *TierConfig) unset() bool {
	return t.Candidates == 0 && t.Results == 0
}

func (t *TierConfig) validate(name string) error {
	if t.Candidates <= 0 {
		return fmt.Errorf("tier %s: candidates must be positive", name)
	}
	if t.Results <= 0 {
		return fmt.Errorf("tier %s: results must be positive", name)
	}
	if t.RerankWidth < t.Results {
		return fmt.Errorf("tier %s: rerank_width (%d) must be at least results (%d)", name, t.RerankWidth, t.Results)
	}
	if t.MinScore < 0 || t.MinScore >= 1 {
		return fmt.Errorf("tier %s: min_score must be in [0,1)", name)
	}
	if t.ContextBudget <= 0 {
		return fmt.Errorf("tier %s: context_budget must be positive", name)
	}
	return nil
}
