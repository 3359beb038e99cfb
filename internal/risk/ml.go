package risk

import (
	"math"
	"sync/atomic"

	"github.com/verdictlabs/negotiator/pkg/models"
)

// MLParams is the immutable parameter vector of the online scorer. Updates
// replace the whole record; fields are never mutated in place.
type MLParams struct {
	Bias    float64
	Weights [FeatureCount]float64
}

// coldStartParams returns parameters hand-tuned to reproduce the heuristic
// scorer within roughly ±15 points on representative synthetic inputs, so
// the ensemble behaves sensibly before any outcomes accumulate.
func coldStartParams() MLParams {
	p := MLParams{Bias: -3.7}
	p.Weights[featNumChanges] = 0.5
	p.Weights[featTotalLines] = 1.0
	p.Weights[featErrorRate] = 0.8
	p.Weights[featLatency] = 0.5
	p.Weights[featQPS] = 0.2
	p.Weights[featTagCaching] = 2.2
	p.Weights[featTagDatabaseSchema] = 2.7
	p.Weights[featTagAPIContract] = 2.3
	p.Weights[featTagTraffic] = 3.6
	p.Weights[featTagPermissions] = 3.6
	p.Weights[featTagEncryption] = 3.6
	p.Weights[featTagLoadBalancing] = 3.6
	p.Weights[featTagStorage] = 3.6
	p.Weights[featDependencyCount] = 0.5
	p.Weights[featHasDBSchema] = 2.2
	p.Weights[featHasAPIContract] = 1.9
	p.Weights[featHasCaching] = 1.8
	return p
}

// UpdateConfig bounds an incremental update pass.
type UpdateConfig struct {
	LearningRate float64
	L2Lambda     float64
	MaxSamples   int
}

// DefaultUpdateConfig returns the documented update defaults.
func DefaultUpdateConfig() UpdateConfig {
	return UpdateConfig{
		LearningRate: 0.05,
		L2Lambda:     1e-3,
		MaxSamples:   200,
	}
}

// MLScorer is the lightweight parametric scorer: a linear combination over
// the normalized features squashed through a logistic, rescaled once to the
// 0-100 risk scale at this boundary.
type MLScorer struct {
	params atomic.Pointer[MLParams]
}

// NewMLScorer creates a scorer with cold-start parameters.
func NewMLScorer() *MLScorer {
	s := &MLScorer{}
	p := coldStartParams()
	s.params.Store(&p)
	return s
}

// Score computes the 0-100 ML risk score for a deployment context. Exact for
// a given parameter vector and input.
func (s *MLScorer) Score(dctx *models.DeploymentContext) float64 {
	x := ExtractFeatures(dctx)
	p := s.params.Load()

	z := p.Bias
	for i := 0; i < FeatureCount; i++ {
		z += p.Weights[i] * x[i]
	}

	return sigmoid(z) * 100
}

// Params returns the current parameter snapshot.
func (s *MLScorer) Params() MLParams {
	return *s.params.Load()
}

// SetParams atomically replaces the parameter vector.
func (s *MLScorer) SetParams(p MLParams) {
	s.params.Store(&p)
}

// Update performs one bounded stochastic-gradient pass over recorded
// outcomes, nudging the model toward the actual risk proxy. Stored outcomes
// carry the prediction but not the feature vector, so the pass calibrates
// the bias term from (predicted, observed) pairs; feature weights stay
// fixed between cold starts.
func (s *MLScorer) Update(outcomes []models.DeploymentOutcome, cfg UpdateConfig) MLParams {
	if cfg.LearningRate <= 0 {
		cfg = DefaultUpdateConfig()
	}
	if cfg.MaxSamples > 0 && len(outcomes) > cfg.MaxSamples {
		outcomes = outcomes[:cfg.MaxSamples]
	}

	current := s.params.Load()
	next := *current

	for i := range outcomes {
		o := &outcomes[i]

		pred := clamp(o.MLScore/100, 0, 1)
		target := o.ActualRiskProxy()

		// d/db of (sigmoid(z) - target)^2 evaluated at the recorded
		// prediction, plus L2 shrinkage.
		grad := 2*(pred-target)*pred*(1-pred) + 2*cfg.L2Lambda*next.Bias
		next.Bias -= cfg.LearningRate * grad
	}

	s.params.Store(&next)
	return next
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
