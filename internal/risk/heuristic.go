// Package risk provides the hybrid risk predictor: a rule-based heuristic
// scorer, an online ML scorer, and the weighted ensemble combining them.
package risk

import (
	"math"
	"sort"

	"github.com/verdictlabs/negotiator/pkg/models"
)

// HeuristicResult is the rule-based scorer's output.
type HeuristicResult struct {
	Score      float64
	Confidence float64

	IdentifiedFactors []models.RiskTag

	PredictedErrorRateIncreasePercent  float64
	PredictedLatencyIncreasePercent    float64

	// PatternHits counts individual rule matches (tag and description
	// sources count separately).
	PatternHits int
}

// HeuristicScorer scores deployments from a compiled rule table. It is a
// pure function of the deployment context: no clock, no randomness, no I/O.
type HeuristicScorer struct {
	rules []rule
}

// NewHeuristicScorer compiles the rule table.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{rules: compileRules()}
}

// Score computes the rule-based risk score for a deployment context.
func (s *HeuristicScorer) Score(dctx *models.DeploymentContext) HeuristicResult {
	var (
		patternHits   int
		patternPoints float64
		latencyInc    float64
		errorRateInc  float64
	)
	factors := make(map[models.RiskTag]struct{})

	for _, change := range dctx.Changes {
		for i := range s.rules {
			r := &s.rules[i]

			hits := 0
			if hasTag(change.RiskTags, r.factor) {
				hits++
			}
			if change.Description != "" && r.re.MatchString(change.Description) {
				hits++
			}
			if hits == 0 {
				continue
			}

			patternHits += hits
			patternPoints += float64(hits) * 15 * r.patternWeight

			// Impact contributions apply once per matched change, no
			// matter how many sources hit.
			factors[r.factor] = struct{}{}
			latencyInc += r.latencyIncreasePercent
			errorRateInc += r.errorRateIncreasePercent
		}
	}

	score := float64(len(dctx.Changes))*2 + patternPoints + sizeFactor(dctx.TotalLinesChanged())

	// Changes spanning multiple declared dependencies carry coordination
	// risk on top of their content.
	if len(dctx.Dependencies) >= 2 {
		score += 10
	}

	return HeuristicResult{
		Score:                              clamp(score, 0, 100),
		Confidence:                         clamp(50+10*float64(patternHits), 0, 95),
		IdentifiedFactors:                  sortedFactors(factors),
		PredictedErrorRateIncreasePercent:  clamp(errorRateInc, 0, 100),
		PredictedLatencyIncreasePercent:    clamp(latencyInc, 0, 100),
		PatternHits:                        patternHits,
	}
}

// sizeFactor maps total changed lines to a piecewise score contribution.
func sizeFactor(totalLines int) float64 {
	switch {
	case totalLines <= 50:
		return 0
	case totalLines <= 500:
		return 10
	default:
		return 25
	}
}

func hasTag(tags []models.RiskTag, tag models.RiskTag) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func sortedFactors(set map[models.RiskTag]struct{}) []models.RiskTag {
	factors := make([]models.RiskTag, 0, len(set))
	for f := range set {
		factors = append(factors, f)
	}
	sort.Slice(factors, func(i, j int) bool { return factors[i] < factors[j] })
	return factors
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
