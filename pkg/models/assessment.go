package models

// RiskLevel represents the risk severity band.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelModerate RiskLevel = "moderate"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// CalculateRiskLevel maps a 0-100 risk score to its band.
func CalculateRiskLevel(score float64) RiskLevel {
	switch {
	case score >= 70:
		return RiskLevelCritical
	case score >= 50:
		return RiskLevelHigh
	case score >= 30:
		return RiskLevelModerate
	default:
		return RiskLevelLow
	}
}

// RiskAssessment is the ensemble's combined prediction for a deployment.
type RiskAssessment struct {
	RiskScore         float64   `json:"risk_score"`
	RiskLevel         RiskLevel `json:"risk_level"`
	ConfidencePercent float64   `json:"confidence_percent"`

	IdentifiedFactors []RiskTag `json:"identified_factors"`

	PredictedErrorRateIncreasePercent  float64 `json:"predicted_error_rate_increase_percent"`
	PredictedP95LatencyIncreasePercent float64 `json:"predicted_p95_latency_increase_percent"`

	HeuristicScore float64 `json:"heuristic_score"`
	MLScore        float64 `json:"ml_score"`
}

// Stage is one segment of a staged rollout.
type Stage struct {
	Index           int    `json:"index"`
	Name            string `json:"name"`
	TrafficPercent  int    `json:"traffic_percent"`
	DurationSeconds int    `json:"duration_seconds"`
}

// CanaryPolicy is the staged rollout plan with quantitative guardrails.
type CanaryPolicy struct {
	Stages []Stage `json:"stages"`

	ErrorRateThresholdPercent float64 `json:"error_rate_threshold_percent"`
	LatencyThresholdMs        float64 `json:"latency_threshold_ms"`

	RollbackOnViolation bool `json:"rollback_on_violation"`
}

// EnsembleWeights is the immutable pair of coefficients combining the
// heuristic and ML scores. HeuristicWeight + MLWeight always equals 1.
type EnsembleWeights struct {
	HeuristicWeight float64 `json:"heuristic_weight"`
	MLWeight        float64 `json:"ml_weight"`
}

// DefaultEnsembleWeights returns the cold-start weight pair.
func DefaultEnsembleWeights() EnsembleWeights {
	return EnsembleWeights{HeuristicWeight: 0.6, MLWeight: 0.4}
}

// Normalized returns a copy rescaled so the pair sums to exactly 1. A
// degenerate zero-sum pair falls back to the defaults.
func (w EnsembleWeights) Normalized() EnsembleWeights {
	sum := w.HeuristicWeight + w.MLWeight
	if sum <= 0 {
		return DefaultEnsembleWeights()
	}
	return EnsembleWeights{
		HeuristicWeight: w.HeuristicWeight / sum,
		MLWeight:        w.MLWeight / sum,
	}
}
