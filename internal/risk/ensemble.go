package risk

import (
	"math"
	"sync/atomic"

	"github.com/verdictlabs/negotiator/pkg/models"
)

// calibrationWindow is how many recent outcomes feed historical calibration.
const calibrationWindow = 20

// minCalibrationSamples is the outcome count below which calibration stays
// at its conservative cold-start value.
const minCalibrationSamples = 5

// coldStartCalibration is the calibration used until enough outcomes exist.
const coldStartCalibration = 50.0

// Ensemble combines the heuristic and ML scorers under a weight pair that
// the tuner replaces atomically. Predictions snapshot the weights once at
// entry, so the pair always sums to 1 within a single computation.
type Ensemble struct {
	heuristic *HeuristicScorer
	ml        *MLScorer

	weights     atomic.Pointer[models.EnsembleWeights]
	calibration atomic.Uint64 // float64 bits
}

// NewEnsemble creates an ensemble over the given scorers with the supplied
// initial weights (normalized defensively).
func NewEnsemble(heuristic *HeuristicScorer, ml *MLScorer, initial models.EnsembleWeights) *Ensemble {
	e := &Ensemble{heuristic: heuristic, ml: ml}
	w := initial.Normalized()
	e.weights.Store(&w)
	e.calibration.Store(math.Float64bits(coldStartCalibration))
	return e
}

// Weights returns the current weight snapshot.
func (e *Ensemble) Weights() models.EnsembleWeights {
	return *e.weights.Load()
}

// SetWeights atomically publishes a new weight pair. The pair is normalized
// so readers can never observe weights that do not sum to 1.
func (e *Ensemble) SetWeights(w models.EnsembleWeights) {
	normalized := w.Normalized()
	e.weights.Store(&normalized)
}

// Calibration returns the current historical calibration value (0-100).
func (e *Ensemble) Calibration() float64 {
	return math.Float64frombits(e.calibration.Load())
}

// UpdateCalibration recomputes historical calibration from recent outcomes
// (newest first). Prediction stays I/O-free by reading the cached value;
// the recorder and tuner refresh it whenever outcomes change.
func (e *Ensemble) UpdateCalibration(recent []models.DeploymentOutcome) {
	if len(recent) > calibrationWindow {
		recent = recent[:calibrationWindow]
	}

	value := coldStartCalibration
	if len(recent) >= minCalibrationSamples {
		var absErr float64
		for i := range recent {
			o := &recent[i]
			absErr += math.Abs(o.FinalScore - o.ActualRiskProxy()*100)
		}
		mae := absErr / float64(len(recent))
		value = 100 - math.Min(100, mae)
	}

	e.calibration.Store(math.Float64bits(value))
}

// Predict runs both scorers and combines them into a risk assessment.
func (e *Ensemble) Predict(dctx *models.DeploymentContext) models.RiskAssessment {
	weights := *e.weights.Load()

	h := e.heuristic.Score(dctx)
	mlScore := e.ml.Score(dctx)

	finalScore := weights.HeuristicWeight*h.Score + weights.MLWeight*mlScore

	agreement := 100 - math.Min(100, math.Abs(h.Score-mlScore))
	confidence := clamp(
		0.6*agreement+0.2*h.Confidence+0.2*e.Calibration(),
		0, 100,
	)

	return models.RiskAssessment{
		RiskScore:         finalScore,
		RiskLevel:         models.CalculateRiskLevel(finalScore),
		ConfidencePercent: confidence,

		IdentifiedFactors: h.IdentifiedFactors,

		PredictedErrorRateIncreasePercent:  h.PredictedErrorRateIncreasePercent,
		PredictedP95LatencyIncreasePercent: h.PredictedLatencyIncreasePercent,

		HeuristicScore: h.Score,
		MLScore:        mlScore,
	}
}
