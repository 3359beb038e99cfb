package tuner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictlabs/negotiator/internal/history"
	"github.com/verdictlabs/negotiator/internal/risk"
	"github.com/verdictlabs/negotiator/pkg/logger"
	"github.com/verdictlabs/negotiator/pkg/models"
)

func newTestTuner(store history.Store) (*Tuner, *risk.Ensemble) {
	ml := risk.NewMLScorer()
	ensemble := risk.NewEnsemble(risk.NewHeuristicScorer(), ml, models.DefaultEnsembleWeights())
	t := New(ensemble, ml, store, logger.New("error", "text"), Config{})
	return t, ensemble
}

func seedOutcome(t *testing.T, store history.Store, heuristic, ml float64, rollback bool, errorRate float64) {
	t.Helper()
	err := store.Save(context.Background(), &models.DeploymentOutcome{
		DeploymentID:           "seed",
		Timestamp:              time.Now().UTC(),
		HeuristicScore:         heuristic,
		MLScore:                ml,
		FinalScore:             0.6*heuristic + 0.4*ml,
		ActualErrorRatePercent: errorRate,
		RollbackTriggered:      rollback,
	})
	require.NoError(t, err)
}

func TestTuner_TooFewSamplesLeavesWeightsAlone(t *testing.T) {
	store := history.NewMemoryStore()
	tn, ensemble := newTestTuner(store)

	seedOutcome(t, store, 50, 50, false, 0)
	seedOutcome(t, store, 50, 50, false, 0)

	before := ensemble.Weights()
	result, err := tn.Tune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.SamplesUsed)
	assert.False(t, result.Changed)
	assert.Equal(t, before, ensemble.Weights())
}

// Outcomes where rollbacks happened and the ML scorer was the one predicting
// higher risk should shift weight toward ML.
func TestTuner_WeightMovesTowardBetterScorer(t *testing.T) {
	store := history.NewMemoryStore()
	tn, ensemble := newTestTuner(store)

	// Bad deployments: heuristic said safe, ML said risky.
	for i := 0; i < 5; i++ {
		seedOutcome(t, store, 10, 90, true, 3.0)
	}

	before := ensemble.Weights()
	result, err := tn.Tune(context.Background())
	require.NoError(t, err)

	after := ensemble.Weights()
	assert.True(t, result.Changed)
	assert.Greater(t, after.MLWeight, before.MLWeight)
	assert.InDelta(t, 1.0, after.HeuristicWeight+after.MLWeight, 1e-9)
	assert.Equal(t, 5, result.SamplesUsed)
}

func TestTuner_WeightMovesTowardHeuristic(t *testing.T) {
	store := history.NewMemoryStore()
	tn, ensemble := newTestTuner(store)

	// Clean deployments: heuristic said safe, ML cried wolf.
	for i := 0; i < 8; i++ {
		seedOutcome(t, store, 5, 85, false, 0)
	}

	before := ensemble.Weights()
	_, err := tn.Tune(context.Background())
	require.NoError(t, err)

	after := ensemble.Weights()
	assert.Greater(t, after.HeuristicWeight, before.HeuristicWeight)
	assert.InDelta(t, 1.0, after.HeuristicWeight+after.MLWeight, 1e-9)
}

func TestTuner_SmoothingBoundsTheStep(t *testing.T) {
	store := history.NewMemoryStore()
	tn, ensemble := newTestTuner(store)

	// Even when the grid winner is an extreme 0.0/1.0 split, smoothing
	// keeps 30% of the current pair.
	for i := 0; i < 5; i++ {
		seedOutcome(t, store, 0, 100, true, 3.0)
	}

	_, err := tn.Tune(context.Background())
	require.NoError(t, err)

	after := ensemble.Weights()
	// chosen wh = 0.0, current 0.6 -> smoothed 0.18.
	assert.InDelta(t, 0.18, after.HeuristicWeight, 1e-9)
	assert.InDelta(t, 0.82, after.MLWeight, 1e-9)
}

func TestTuner_Deterministic(t *testing.T) {
	run := func() models.EnsembleWeights {
		store := history.NewMemoryStore()
		tn, ensemble := newTestTuner(store)
		for i := 0; i < 6; i++ {
			seedOutcome(t, store, 30, 70, i%2 == 0, 1.0)
		}
		_, err := tn.Tune(context.Background())
		require.NoError(t, err)
		return ensemble.Weights()
	}

	assert.Equal(t, run(), run())
}

func TestTuner_EmptyStoreLeavesWeightsAlone(t *testing.T) {
	store := history.NewMemoryStore()
	tn, ensemble := newTestTuner(store)

	// A pass on an empty store returns cleanly with unchanged weights and
	// still records a result.
	before := ensemble.Weights()
	result, err := tn.Tune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.SamplesUsed)
	assert.Equal(t, before, ensemble.Weights())
	assert.NotNil(t, tn.LastResult())
}

func TestScheduler_StartStop(t *testing.T) {
	store := history.NewMemoryStore()
	tn, _ := newTestTuner(store)

	s := NewScheduler(tn, 50*time.Millisecond, logger.New("error", "text"))
	s.Start(context.Background())

	// Let at least one tick fire.
	time.Sleep(120 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop within a second")
	}

	assert.NotNil(t, tn.LastResult())
}

func TestScheduler_StopBeforeTick(t *testing.T) {
	store := history.NewMemoryStore()
	tn, _ := newTestTuner(store)

	// A long interval: Stop must preempt the sleep.
	s := NewScheduler(tn, time.Hour, logger.New("error", "text"))
	s.Start(context.Background())

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), time.Second)
}
