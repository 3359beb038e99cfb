package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateRiskLevel(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected RiskLevel
	}{
		{"critical - 100", 100, RiskLevelCritical},
		{"critical - 70", 70, RiskLevelCritical},
		{"high - 69.9", 69.9, RiskLevelHigh},
		{"high - 50", 50, RiskLevelHigh},
		{"moderate - 49.9", 49.9, RiskLevelModerate},
		{"moderate - 30", 30, RiskLevelModerate},
		{"low - 29.9", 29.9, RiskLevelLow},
		{"low - 0", 0, RiskLevelLow},
		{"low - negative", -5, RiskLevelLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculateRiskLevel(tt.score))
		})
	}
}

func TestEnsembleWeights_Normalized(t *testing.T) {
	tests := []struct {
		name     string
		input    EnsembleWeights
		expected EnsembleWeights
	}{
		{
			"already normalized",
			EnsembleWeights{HeuristicWeight: 0.6, MLWeight: 0.4},
			EnsembleWeights{HeuristicWeight: 0.6, MLWeight: 0.4},
		},
		{
			"rescaled",
			EnsembleWeights{HeuristicWeight: 1, MLWeight: 1},
			EnsembleWeights{HeuristicWeight: 0.5, MLWeight: 0.5},
		},
		{
			"zero pair falls back to defaults",
			EnsembleWeights{},
			DefaultEnsembleWeights(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.input.Normalized()
			assert.InDelta(t, tt.expected.HeuristicWeight, got.HeuristicWeight, 1e-9)
			assert.InDelta(t, tt.expected.MLWeight, got.MLWeight, 1e-9)
			assert.InDelta(t, 1.0, got.HeuristicWeight+got.MLWeight, 1e-9)
		})
	}
}

func TestChangeType_IsValid(t *testing.T) {
	assert.True(t, ChangeTypeAdd.IsValid())
	assert.True(t, ChangeTypeModify.IsValid())
	assert.True(t, ChangeTypeDelete.IsValid())
	assert.False(t, ChangeType("rewrite").IsValid())
}

func TestMinimalContext(t *testing.T) {
	dctx := MinimalContext("d1")

	assert.Equal(t, "d1", dctx.DeploymentID)
	assert.Equal(t, "unknown", dctx.ServiceName)
	assert.Empty(t, dctx.Changes)
}

func TestDeploymentContext_TotalLinesChanged(t *testing.T) {
	dctx := DeploymentContext{
		Changes: []ChangeDescriptor{
			{LinesChanged: 10},
			{LinesChanged: 32},
		},
	}
	assert.Equal(t, 42, dctx.TotalLinesChanged())
}
