// Package canary generates staged rollout policies from risk assessments.
package canary

import (
	"math"

	"github.com/verdictlabs/negotiator/pkg/models"
)

// Confidence bands for template selection.
const (
	confidenceHigh   = 80.0
	confidenceMedium = 60.0
)

// stageTemplate is one base stage before the duration multiplier.
type stageTemplate struct {
	name            string
	trafficPercent  int
	durationSeconds int
}

var (
	threeStage = []stageTemplate{
		{"smoke", 10, 180},
		{"majority", 50, 300},
		{"full", 100, 300},
	}
	fourStage = []stageTemplate{
		{"smoke", 5, 300},
		{"light", 25, 420},
		{"majority", 50, 420},
		{"full", 100, 300},
	}
	fiveStage = []stageTemplate{
		{"smoke", 5, 300},
		{"light", 10, 420},
		{"half", 25, 600},
		{"majority", 50, 600},
		{"full", 100, 300},
	}
)

// plan selects a template and duration multiplier for a (risk band,
// confidence band) cell.
type plan struct {
	stages     []stageTemplate
	multiplier float64
}

// selectPlan implements the risk-band x confidence-band matrix.
func selectPlan(level models.RiskLevel, confidence float64) plan {
	type band int
	const (
		high band = iota
		medium
		low
	)

	conf := low
	switch {
	case confidence >= confidenceHigh:
		conf = high
	case confidence >= confidenceMedium:
		conf = medium
	}

	switch level {
	case models.RiskLevelLow:
		switch conf {
		case high:
			return plan{threeStage, 0.8}
		case medium:
			return plan{fourStage, 1.0}
		default:
			return plan{fiveStage, 1.2}
		}
	case models.RiskLevelModerate:
		switch conf {
		case high:
			return plan{fourStage, 1.0}
		case medium:
			return plan{fourStage, 1.2}
		default:
			return plan{fiveStage, 1.5}
		}
	case models.RiskLevelHigh:
		switch conf {
		case high:
			return plan{fourStage, 1.2}
		case medium:
			return plan{fiveStage, 1.5}
		default:
			return plan{fiveStage, 1.8}
		}
	default: // critical
		switch conf {
		case high:
			return plan{fiveStage, 1.5}
		case medium:
			return plan{fiveStage, 1.8}
		default:
			return plan{fiveStage, 2.0}
		}
	}
}

// guardrails returns the error-rate and latency thresholds for a risk band.
func guardrails(level models.RiskLevel) (errorRatePercent, latencyMs float64) {
	switch level {
	case models.RiskLevelCritical:
		return 0.2, 200
	case models.RiskLevelHigh:
		return 0.3, 250
	default:
		return 0.5, 500
	}
}

// Generate maps a risk assessment and its deployment context to a staged
// canary policy. Pure function: identical inputs produce identical plans.
func Generate(assessment *models.RiskAssessment, dctx *models.DeploymentContext) models.CanaryPolicy {
	p := selectPlan(assessment.RiskLevel, assessment.ConfidencePercent)

	stages := make([]models.Stage, 0, len(p.stages))
	for i, tmpl := range p.stages {
		stages = append(stages, models.Stage{
			Index:           i,
			Name:            tmpl.name,
			TrafficPercent:  tmpl.trafficPercent,
			DurationSeconds: int(math.Round(float64(tmpl.durationSeconds) * p.multiplier)),
		})
	}

	errorThreshold, latencyThreshold := guardrails(assessment.RiskLevel)

	// Cache-layer changes bite through latency first; tighten that
	// guardrail no matter what the band allows.
	if hasFactor(assessment.IdentifiedFactors, models.TagCaching) && latencyThreshold > 200 {
		latencyThreshold = 200
	}

	rollbackBand := assessment.RiskLevel == models.RiskLevelHigh ||
		assessment.RiskLevel == models.RiskLevelCritical

	return models.CanaryPolicy{
		Stages:                    stages,
		ErrorRateThresholdPercent: errorThreshold,
		LatencyThresholdMs:        latencyThreshold,
		RollbackOnViolation:       dctx.RollbackCapability && rollbackBand,
	}
}

func hasFactor(factors []models.RiskTag, tag models.RiskTag) bool {
	for _, f := range factors {
		if f == tag {
			return true
		}
	}
	return false
}
