// Package tuner adjusts ensemble weights from observed prediction error and
// drives the periodic retuning loop.
package tuner

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/verdictlabs/negotiator/internal/history"
	"github.com/verdictlabs/negotiator/internal/risk"
	"github.com/verdictlabs/negotiator/pkg/logger"
	"github.com/verdictlabs/negotiator/pkg/models"
)

// smoothingFactor blends the grid-search winner with the current weights so
// a single noisy window cannot yank the ensemble around.
const smoothingFactor = 0.7

// minSamples is the outcome count below which tuning leaves weights alone.
const minSamples = 5

// Config bounds a tuning pass.
type Config struct {
	// SampleLimit caps how many recent outcomes feed one pass.
	SampleLimit int
	// Update bounds the ML scorer's gradient pass.
	Update risk.UpdateConfig
}

// Result reports one tuning pass.
type Result struct {
	HeuristicWeight float64   `json:"heuristic_weight"`
	MLWeight        float64   `json:"ml_weight"`
	SamplesUsed     int       `json:"samples_used"`
	Changed         bool      `json:"changed"`
	TunedAt         time.Time `json:"tuned_at"`
}

// Tuner grid-searches ensemble weights against the actual risk proxy over a
// bounded window of recent outcomes. At most one pass runs at a time.
type Tuner struct {
	ensemble *risk.Ensemble
	ml       *risk.MLScorer
	store    history.Store
	log      *logger.Logger
	cfg      Config

	mu   sync.Mutex // serializes passes
	last struct {
		sync.RWMutex
		result *Result
	}
}

// New creates a Tuner.
func New(ensemble *risk.Ensemble, ml *risk.MLScorer, store history.Store, log *logger.Logger, cfg Config) *Tuner {
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = 100
	}
	if cfg.Update.LearningRate <= 0 {
		cfg.Update = risk.DefaultUpdateConfig()
	}
	return &Tuner{
		ensemble: ensemble,
		ml:       ml,
		store:    store,
		log:      log.WithComponent("tuner"),
		cfg:      cfg,
	}
}

// LastResult returns the most recent pass result, if any.
func (t *Tuner) LastResult() *Result {
	t.last.RLock()
	defer t.last.RUnlock()
	return t.last.result
}

// Tune runs one pass: read recent outcomes, grid-search the weight pair,
// smooth toward it, update the ML parameters, and atomically publish the
// new weights. Ensemble readers are never blocked beyond the pointer swap.
func (t *Tuner) Tune(ctx context.Context) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.ensemble.Weights()

	outcomes, err := t.store.Recent(ctx, t.cfg.SampleLimit)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		HeuristicWeight: current.HeuristicWeight,
		MLWeight:        current.MLWeight,
		SamplesUsed:     len(outcomes),
		TunedAt:         time.Now().UTC(),
	}

	if len(outcomes) < minSamples {
		t.log.Debug("not enough outcomes to tune", "samples", len(outcomes))
		t.storeResult(result)
		return result, nil
	}

	chosen := t.gridSearch(outcomes, current)

	smoothed := models.EnsembleWeights{
		HeuristicWeight: smoothingFactor*chosen + (1-smoothingFactor)*current.HeuristicWeight,
		MLWeight:        smoothingFactor*(1-chosen) + (1-smoothingFactor)*current.MLWeight,
	}.Normalized()

	t.ml.Update(outcomes, t.cfg.Update)

	t.ensemble.SetWeights(smoothed)
	t.ensemble.UpdateCalibration(outcomes)

	applied := t.ensemble.Weights()
	result.HeuristicWeight = applied.HeuristicWeight
	result.MLWeight = applied.MLWeight
	result.Changed = math.Abs(applied.HeuristicWeight-current.HeuristicWeight) > 1e-9

	t.log.Info("tuning pass complete",
		"samples", result.SamplesUsed,
		"heuristic_weight", result.HeuristicWeight,
		"ml_weight", result.MLWeight,
		"changed", result.Changed,
	)

	t.storeResult(result)
	return result, nil
}

// gridSearch evaluates candidate heuristic weights on a 0.1 grid against the
// proxy signal and returns the MSE winner, breaking ties toward the current
// pair.
func (t *Tuner) gridSearch(outcomes []models.DeploymentOutcome, current models.EnsembleWeights) float64 {
	best := current.HeuristicWeight
	bestMSE := math.Inf(1)
	bestDist := math.Inf(1)

	for step := 0; step <= 10; step++ {
		wh := float64(step) / 10
		wm := 1 - wh

		var sse float64
		for i := range outcomes {
			o := &outcomes[i]
			predicted := wh*o.HeuristicScore + wm*o.MLScore
			target := o.ActualRiskProxy() * 100
			diff := predicted - target
			sse += diff * diff
		}
		mse := sse / float64(len(outcomes))
		dist := math.Abs(wh - current.HeuristicWeight)

		if mse < bestMSE-1e-12 || (math.Abs(mse-bestMSE) <= 1e-12 && dist < bestDist) {
			best = wh
			bestMSE = mse
			bestDist = dist
		}
	}

	return best
}

func (t *Tuner) storeResult(r Result) {
	t.last.Lock()
	t.last.result = &r
	t.last.Unlock()
}
