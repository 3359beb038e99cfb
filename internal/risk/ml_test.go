package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictlabs/negotiator/pkg/models"
)

func TestMLScorer_Deterministic(t *testing.T) {
	s := NewMLScorer()
	dctx := cachingContext()

	first := s.Score(dctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(dctx))
	}
}

func TestMLScorer_OutputRange(t *testing.T) {
	s := NewMLScorer()

	tests := []struct {
		name string
		dctx *models.DeploymentContext
	}{
		{"empty", &models.DeploymentContext{DeploymentID: "d"}},
		{"caching", cachingContext()},
		{
			"saturated",
			&models.DeploymentContext{
				DeploymentID: "d",
				Changes: []models.ChangeDescriptor{
					{
						LinesChanged: 100000,
						RiskTags:     models.KnownRiskTags,
						Description:  "everything at once",
					},
				},
				CurrentErrorRatePercent: 50,
				CurrentP95LatencyMs:     5000,
				CurrentQPS:              50000,
				Dependencies:            []string{"a", "b", "c", "d"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := s.Score(tt.dctx)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 100.0)
		})
	}
}

// Cold-start parameters should track the heuristic on representative
// synthetic inputs so the ensemble is coherent before outcomes accumulate.
func TestMLScorer_ColdStartTracksHeuristic(t *testing.T) {
	ml := NewMLScorer()
	h := NewHeuristicScorer()

	representative := []*models.DeploymentContext{
		{DeploymentID: "empty"},
		cachingContext(),
		{
			DeploymentID: "db",
			Changes: []models.ChangeDescriptor{
				{
					FilePath:     "migrations/001.sql",
					ChangeType:   models.ChangeTypeAdd,
					LinesChanged: 30,
					RiskTags:     []models.RiskTag{models.TagDatabaseSchema},
					Description:  "add index via migration",
				},
			},
		},
		{
			DeploymentID: "api",
			Changes: []models.ChangeDescriptor{
				{
					FilePath:     "api/handlers.go",
					ChangeType:   models.ChangeTypeModify,
					LinesChanged: 40,
					RiskTags:     []models.RiskTag{models.TagAPIContract},
					Description:  "deprecate legacy endpoint",
				},
			},
		},
	}

	for _, dctx := range representative {
		t.Run(dctx.DeploymentID, func(t *testing.T) {
			assert.InDelta(t, h.Score(dctx).Score, ml.Score(dctx), 15)
		})
	}
}

func TestMLScorer_UpdateMovesTowardTarget(t *testing.T) {
	s := NewMLScorer()
	before := s.Params()

	// Outcomes where the model under-predicted badly: the bias should rise.
	outcomes := []models.DeploymentOutcome{
		{MLScore: 20, RollbackTriggered: true, ActualErrorRatePercent: 3.0},
		{MLScore: 25, RollbackTriggered: true, ActualErrorRatePercent: 3.0},
		{MLScore: 15, RollbackTriggered: true, ActualErrorRatePercent: 3.0},
	}

	after := s.Update(outcomes, DefaultUpdateConfig())

	assert.Greater(t, after.Bias, before.Bias)
	assert.Equal(t, before.Weights, after.Weights)
}

func TestMLScorer_UpdateBounded(t *testing.T) {
	s := NewMLScorer()

	outcomes := make([]models.DeploymentOutcome, 500)
	for i := range outcomes {
		outcomes[i] = models.DeploymentOutcome{MLScore: 50}
	}

	cfg := DefaultUpdateConfig()
	require.Equal(t, 200, cfg.MaxSamples)

	// A pass over the capped window must be identical to a pass over the
	// first 200 samples.
	capped := s.Update(outcomes, cfg)

	fresh := NewMLScorer()
	explicit := fresh.Update(outcomes[:200], cfg)

	assert.Equal(t, explicit.Bias, capped.Bias)
}

func TestMLScorer_UpdateDeterministic(t *testing.T) {
	outcomes := []models.DeploymentOutcome{
		{MLScore: 40, ActualErrorRatePercent: 0.5},
		{MLScore: 60, RollbackTriggered: true},
	}

	a := NewMLScorer()
	b := NewMLScorer()

	assert.Equal(t, a.Update(outcomes, DefaultUpdateConfig()), b.Update(outcomes, DefaultUpdateConfig()))
}

func TestActualRiskProxy(t *testing.T) {
	tests := []struct {
		name     string
		outcome  models.DeploymentOutcome
		expected float64
	}{
		{"clean deploy", models.DeploymentOutcome{}, 0},
		{"rollback only", models.DeploymentOutcome{RollbackTriggered: true}, 0.5},
		{
			"rollback with errors saturates",
			models.DeploymentOutcome{RollbackTriggered: true, ActualErrorRatePercent: 3.0},
			1.0,
		},
		{
			"latency regression",
			models.DeploymentOutcome{ActualLatencyChangePercent: 25},
			0.1,
		},
		{
			"latency improvement floors at zero",
			models.DeploymentOutcome{ActualLatencyChangePercent: -40},
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.outcome.ActualRiskProxy(), 1e-9)
		})
	}
}
