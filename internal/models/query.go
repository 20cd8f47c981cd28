package models

import (
	"fmt"
	"strings"
)

// Tier names a retrieval profile.
type Tier string

const (
	TierBasic         Tier = "basic"
	TierImproved      Tier = "improved"
	TierAdvanced      Tier = "advanced"
	TierComprehensive Tier = "comprehensive"
)

// Tiers lists all tiers from cheapest to most thorough.
var Tiers = []Tier{TierBasic, TierImproved, TierAdvanced, TierComprehensive}

// ParseTier returns the tier named s (case-insensitive).
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tiers {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier: %q", s)
}

// MaxResultCount caps the number of results a single search may return.
const MaxResultCount = 50

// SearchQuery represents a search request.
type SearchQuery struct {
	Query       string `json:"query"`
	Tier        Tier   `json:"tier,omitempty"`
	ResultCount int    `json:"result_count,omitempty"`
	// User is recorded for provenance only and never affects ranking.
	User string `json:"user,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty or the tier is unknown. A zero ResultCount
// is left for the tier to fill in; larger values are capped at MaxResultCount.
func (q *SearchQuery) Validate(defaultTier Tier) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Tier == "" {
		q.Tier = defaultTier
	}
	t, err := ParseTier(string(q.Tier))
	if err != nil {
		return err
	}
	q.Tier = t
	if q.ResultCount < 0 {
		q.ResultCount = 0
	}
	if q.ResultCount > MaxResultCount {
		q.ResultCount = MaxResultCount
	}
	return nil
}
