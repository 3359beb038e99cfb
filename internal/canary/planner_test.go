package canary

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictlabs/negotiator/pkg/models"
)

func assessmentWith(level models.RiskLevel, confidence float64) *models.RiskAssessment {
	var score float64
	switch level {
	case models.RiskLevelLow:
		score = 10
	case models.RiskLevelModerate:
		score = 40
	case models.RiskLevelHigh:
		score = 60
	default:
		score = 85
	}
	return &models.RiskAssessment{
		RiskScore:         score,
		RiskLevel:         level,
		ConfidencePercent: confidence,
	}
}

func TestGenerate_Matrix(t *testing.T) {
	tests := []struct {
		level      models.RiskLevel
		confidence float64
		stages     int
		multiplier float64
	}{
		{models.RiskLevelLow, 90, 3, 0.8},
		{models.RiskLevelLow, 70, 4, 1.0},
		{models.RiskLevelLow, 40, 5, 1.2},
		{models.RiskLevelModerate, 90, 4, 1.0},
		{models.RiskLevelModerate, 70, 4, 1.2},
		{models.RiskLevelModerate, 40, 5, 1.5},
		{models.RiskLevelHigh, 90, 4, 1.2},
		{models.RiskLevelHigh, 70, 5, 1.5},
		{models.RiskLevelHigh, 40, 5, 1.8},
		{models.RiskLevelCritical, 90, 5, 1.5},
		{models.RiskLevelCritical, 70, 5, 1.8},
		{models.RiskLevelCritical, 40, 5, 2.0},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("%s/conf=%.0f", tt.level, tt.confidence)
		t.Run(name, func(t *testing.T) {
			policy := Generate(assessmentWith(tt.level, tt.confidence), &models.DeploymentContext{})

			require.Len(t, policy.Stages, tt.stages)

			// Smoke stage duration carries the multiplier.
			var base int
			switch tt.stages {
			case 3:
				base = 180
			default:
				base = 300
			}
			assert.Equal(t, int(float64(base)*tt.multiplier+0.5), policy.Stages[0].DurationSeconds)
		})
	}
}

func TestGenerate_StageInvariants(t *testing.T) {
	levels := []models.RiskLevel{
		models.RiskLevelLow, models.RiskLevelModerate,
		models.RiskLevelHigh, models.RiskLevelCritical,
	}
	confidences := []float64{0, 40, 60, 79.9, 80, 100}

	for _, level := range levels {
		for _, conf := range confidences {
			policy := Generate(assessmentWith(level, conf), &models.DeploymentContext{})

			require.NotEmpty(t, policy.Stages)
			assert.Greater(t, policy.Stages[0].TrafficPercent, 0)
			assert.Equal(t, 100, policy.Stages[len(policy.Stages)-1].TrafficPercent)

			for i := 1; i < len(policy.Stages); i++ {
				assert.Greater(t, policy.Stages[i].TrafficPercent, policy.Stages[i-1].TrafficPercent)
				assert.Equal(t, i, policy.Stages[i].Index)
				assert.Greater(t, policy.Stages[i].DurationSeconds, 0)
			}

			assert.Greater(t, policy.ErrorRateThresholdPercent, 0.0)
			assert.Greater(t, policy.LatencyThresholdMs, 0.0)
		}
	}
}

func TestGenerate_CriticalAlwaysFiveStages(t *testing.T) {
	for _, conf := range []float64{0, 59, 60, 80, 100} {
		policy := Generate(assessmentWith(models.RiskLevelCritical, conf), &models.DeploymentContext{})
		assert.Len(t, policy.Stages, 5)
	}
}

func TestGenerate_Guardrails(t *testing.T) {
	tests := []struct {
		level     models.RiskLevel
		errorRate float64
		latency   float64
	}{
		{models.RiskLevelCritical, 0.2, 200},
		{models.RiskLevelHigh, 0.3, 250},
		{models.RiskLevelModerate, 0.5, 500},
		{models.RiskLevelLow, 0.5, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			policy := Generate(assessmentWith(tt.level, 70), &models.DeploymentContext{})
			assert.Equal(t, tt.errorRate, policy.ErrorRateThresholdPercent)
			assert.Equal(t, tt.latency, policy.LatencyThresholdMs)
		})
	}
}

func TestGenerate_CachingCapsLatencyThreshold(t *testing.T) {
	assessment := assessmentWith(models.RiskLevelLow, 90)
	assessment.IdentifiedFactors = []models.RiskTag{models.TagCaching}

	policy := Generate(assessment, &models.DeploymentContext{})

	assert.LessOrEqual(t, policy.LatencyThresholdMs, 200.0)
}

func TestGenerate_RollbackOnViolation(t *testing.T) {
	tests := []struct {
		name     string
		level    models.RiskLevel
		rollback bool
		expected bool
	}{
		{"high risk with capability", models.RiskLevelHigh, true, true},
		{"critical risk with capability", models.RiskLevelCritical, true, true},
		{"high risk without capability", models.RiskLevelHigh, false, false},
		{"low risk with capability", models.RiskLevelLow, true, false},
		{"moderate risk with capability", models.RiskLevelModerate, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := Generate(
				assessmentWith(tt.level, 70),
				&models.DeploymentContext{RollbackCapability: tt.rollback},
			)
			assert.Equal(t, tt.expected, policy.RollbackOnViolation)
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	assessment := assessmentWith(models.RiskLevelHigh, 82)
	assessment.IdentifiedFactors = []models.RiskTag{models.TagCaching}
	dctx := &models.DeploymentContext{RollbackCapability: true}

	first := Generate(assessment, dctx)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Generate(assessment, dctx))
	}
}
