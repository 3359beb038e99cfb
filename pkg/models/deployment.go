// Package models provides shared domain models for the negotiator service.
package models

import "time"

// ChangeType classifies a single file-level change.
type ChangeType string

const (
	ChangeTypeAdd    ChangeType = "add"
	ChangeTypeModify ChangeType = "modify"
	ChangeTypeDelete ChangeType = "delete"
)

// IsValid reports whether the change type is one of the known values.
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeTypeAdd, ChangeTypeModify, ChangeTypeDelete:
		return true
	}
	return false
}

// RiskTag identifies a known risk family attached to a change.
type RiskTag string

const (
	TagCaching        RiskTag = "caching"
	TagDatabaseSchema RiskTag = "database_schema"
	TagAPIContract    RiskTag = "api_contract"
	TagTraffic        RiskTag = "traffic"
	TagPermissions    RiskTag = "permissions"
	TagEncryption     RiskTag = "encryption"
	TagLoadBalancing  RiskTag = "load_balancing"
	TagStorage        RiskTag = "storage"
)

// KnownRiskTags is the full tag vocabulary in canonical order.
var KnownRiskTags = []RiskTag{
	TagCaching,
	TagDatabaseSchema,
	TagAPIContract,
	TagTraffic,
	TagPermissions,
	TagEncryption,
	TagLoadBalancing,
	TagStorage,
}

// ChangeDescriptor describes one changed file within a deployment.
type ChangeDescriptor struct {
	FilePath     string     `json:"file_path"`
	ChangeType   ChangeType `json:"change_type"`
	LinesChanged int        `json:"lines_changed"`
	RiskTags     []RiskTag  `json:"risk_tags,omitempty"`
	Description  string     `json:"description,omitempty"`
}

// DeploymentContext is the immutable input for a single assessment.
type DeploymentContext struct {
	DeploymentID string `json:"deployment_id"`
	ServiceName  string `json:"service_name"`
	Environment  string `json:"environment"`
	Version      string `json:"version"`

	Changes []ChangeDescriptor `json:"changes"`

	CurrentErrorRatePercent float64 `json:"current_error_rate_percent"`
	CurrentP95LatencyMs     float64 `json:"current_p95_latency_ms"`
	TargetErrorRatePercent  float64 `json:"target_error_rate_percent"`
	TargetP95LatencyMs      float64 `json:"target_p95_latency_ms"`
	CurrentQPS              float64 `json:"current_qps"`

	RollbackCapability bool     `json:"rollback_capability"`
	Dependencies       []string `json:"dependencies,omitempty"`
}

// TotalLinesChanged sums lines changed across all changes.
func (c *DeploymentContext) TotalLinesChanged() int {
	total := 0
	for _, ch := range c.Changes {
		total += ch.LinesChanged
	}
	return total
}

// MinimalContext synthesizes a context for outcome recording when the caller
// supplies only a deployment id. Historical rows created this way carry a low
// heuristic score by construction.
func MinimalContext(deploymentID string) DeploymentContext {
	return DeploymentContext{
		DeploymentID: deploymentID,
		ServiceName:  "unknown",
		Environment:  "unknown",
		Version:      "unknown",
	}
}

// DeploymentOutcome is the persisted record of one deployment's predicted and
// observed values. Rows are append-only and never mutated.
type DeploymentOutcome struct {
	ID           int64     `json:"id,omitempty"`
	DeploymentID string    `json:"deployment_id"`
	Timestamp    time.Time `json:"timestamp"`

	HeuristicScore float64 `json:"heuristic_score"`
	MLScore        float64 `json:"ml_score"`
	FinalScore     float64 `json:"final_score"`

	ActualErrorRatePercent     float64 `json:"actual_error_rate_percent"`
	ActualLatencyChangePercent float64 `json:"actual_latency_change_percent"`
	RollbackTriggered          bool    `json:"rollback_triggered"`
}

// ActualRiskProxy derives the deterministic 0-1 risk signal from observed
// outcome metrics. It is the ML target and the calibration reference.
func (o *DeploymentOutcome) ActualRiskProxy() float64 {
	proxy := 0.0
	if o.RollbackTriggered {
		proxy += 0.5
	}
	proxy += 0.3 * o.ActualErrorRatePercent
	proxy += 0.2 * (o.ActualLatencyChangePercent / 50.0)

	if proxy < 0 {
		return 0
	}
	if proxy > 1 {
		return 1
	}
	return proxy
}
