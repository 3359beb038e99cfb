package recorder

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictlabs/negotiator/internal/errs"
	"github.com/verdictlabs/negotiator/internal/history"
	"github.com/verdictlabs/negotiator/internal/risk"
	"github.com/verdictlabs/negotiator/pkg/logger"
	"github.com/verdictlabs/negotiator/pkg/models"
)

type capturePublisher struct {
	mu       sync.Mutex
	outcomes []*models.DeploymentOutcome
}

func (p *capturePublisher) PublishOutcome(ctx context.Context, outcome *models.DeploymentOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, outcome)
	return nil
}

func newTestRecorder(store history.Store, publisher Publisher) (*Recorder, *risk.Ensemble) {
	ensemble := risk.NewEnsemble(risk.NewHeuristicScorer(), risk.NewMLScorer(), models.DefaultEnsembleWeights())
	return New(ensemble, store, publisher, logger.New("error", "text")), ensemble
}

func TestRecorder_RecordPersistsRescoredOutcome(t *testing.T) {
	store := history.NewMemoryStore()
	publisher := &capturePublisher{}
	rec, ensemble := newTestRecorder(store, publisher)

	dctx := models.MinimalContext("d1")
	outcome, err := rec.Record(context.Background(), &dctx, 0.08, 2.5, false)
	require.NoError(t, err)

	// Scores are captured at recording time under the current weights.
	assessment := ensemble.Predict(&dctx)
	assert.Equal(t, assessment.HeuristicScore, outcome.HeuristicScore)
	assert.Equal(t, assessment.MLScore, outcome.MLScore)
	assert.Equal(t, assessment.RiskScore, outcome.FinalScore)
	assert.GreaterOrEqual(t, outcome.FinalScore, 0.0)
	assert.LessOrEqual(t, outcome.FinalScore, 100.0)
	assert.False(t, outcome.Timestamp.IsZero())

	recent, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "d1", recent[0].DeploymentID)

	require.Len(t, publisher.outcomes, 1)
	assert.Equal(t, "d1", publisher.outcomes[0].DeploymentID)
}

func TestRecorder_ValidationWritesNothing(t *testing.T) {
	store := history.NewMemoryStore()
	rec, _ := newTestRecorder(store, nil)

	dctx := models.MinimalContext("d1")

	tests := []struct {
		name      string
		errorRate float64
		latency   float64
	}{
		{"negative error rate", -1, 0},
		{"NaN error rate", math.NaN(), 0},
		{"infinite error rate", math.Inf(1), 0},
		{"NaN latency", 0.1, math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rec.Record(context.Background(), &dctx, tt.errorRate, tt.latency, false)

			var verr *errs.ValidationError
			require.ErrorAs(t, err, &verr)

			count, err := store.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestRecorder_EmptyDeploymentIDRejected(t *testing.T) {
	rec, _ := newTestRecorder(history.NewMemoryStore(), nil)

	dctx := models.MinimalContext("")
	_, err := rec.Record(context.Background(), &dctx, 0.1, 0, false)

	var verr *errs.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRecorder_NegativeLatencyChangeAccepted(t *testing.T) {
	store := history.NewMemoryStore()
	rec, _ := newTestRecorder(store, nil)

	dctx := models.MinimalContext("d1")
	outcome, err := rec.Record(context.Background(), &dctx, 0.05, -12.5, false)
	require.NoError(t, err)
	assert.Equal(t, -12.5, outcome.ActualLatencyChangePercent)
}

func TestRecorder_StorageErrorSurfaced(t *testing.T) {
	store := history.NewMemoryStore()
	store.FailSaves = true
	rec, _ := newTestRecorder(store, nil)

	dctx := models.MinimalContext("d1")
	_, err := rec.Record(context.Background(), &dctx, 0.1, 0, false)

	var serr *errs.StorageError
	assert.ErrorAs(t, err, &serr)
}

func TestRecorder_SurvivesCallerCancellation(t *testing.T) {
	store := history.NewMemoryStore()
	rec, _ := newTestRecorder(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dctx := models.MinimalContext("d1")
	_, err := rec.Record(ctx, &dctx, 0.1, 0, false)
	require.NoError(t, err)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecorder_RefreshesCalibration(t *testing.T) {
	store := history.NewMemoryStore()
	rec, ensemble := newTestRecorder(store, nil)

	require.InDelta(t, 50, ensemble.Calibration(), 1e-9)

	// Five well-calibrated outcomes (low prediction, clean result) should
	// lift calibration above the cold-start value.
	dctx := models.MinimalContext("d1")
	for i := 0; i < 5; i++ {
		_, err := rec.Record(context.Background(), &dctx, 0.0, 0, false)
		require.NoError(t, err)
	}

	assert.Greater(t, ensemble.Calibration(), 50.0)
}
