// Package engine wires the risk predictor, policy generator, outcome store
// and learning loop into one process-scoped value. There is no ambient
// singleton: everything reaches shared state through an *Engine.
package engine

import (
	"context"
	"errors"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/verdictlabs/negotiator/internal/canary"
	"github.com/verdictlabs/negotiator/internal/errs"
	"github.com/verdictlabs/negotiator/internal/history"
	"github.com/verdictlabs/negotiator/internal/metrics"
	"github.com/verdictlabs/negotiator/internal/recorder"
	"github.com/verdictlabs/negotiator/internal/risk"
	"github.com/verdictlabs/negotiator/internal/tuner"
	"github.com/verdictlabs/negotiator/pkg/config"
	"github.com/verdictlabs/negotiator/pkg/logger"
	"github.com/verdictlabs/negotiator/pkg/models"
	"github.com/verdictlabs/negotiator/pkg/telemetry"
)

// AssessmentResponse is the deployment contract returned by Assess.
type AssessmentResponse struct {
	RiskAssessment models.RiskAssessment `json:"risk_assessment"`
	CanaryPolicy   models.CanaryPolicy   `json:"canary_policy"`
}

// Engine is the deployment-risk negotiation core.
type Engine struct {
	cfg *config.Config
	log *logger.Logger

	store    history.Store
	ensemble *risk.Ensemble
	recorder *recorder.Recorder
	tuner    *tuner.Tuner

	scheduler *tuner.Scheduler

	metrics *metrics.Metrics
	tracer  *telemetry.Provider
}

// Options carries the engine's external collaborators.
type Options struct {
	Config    *config.Config
	Logger    *logger.Logger
	Store     history.Store
	Publisher recorder.Publisher
	Metrics   *metrics.Metrics
	Tracer    *telemetry.Provider
}

// New builds the engine from its collaborators and initial configuration.
func New(opts Options) *Engine {
	log := opts.Logger.WithComponent("engine")

	heuristic := risk.NewHeuristicScorer()
	ml := risk.NewMLScorer()

	initial := models.EnsembleWeights{
		HeuristicWeight: opts.Config.Ensemble.HeuristicWeightInit,
		MLWeight:        opts.Config.Ensemble.MLWeightInit,
	}
	ensemble := risk.NewEnsemble(heuristic, ml, initial)

	rec := recorder.New(ensemble, opts.Store, opts.Publisher, opts.Logger)

	tn := tuner.New(ensemble, ml, opts.Store, opts.Logger, tuner.Config{
		SampleLimit: opts.Config.Tuning.SampleLimit,
		Update: risk.UpdateConfig{
			LearningRate: opts.Config.Tuning.LearningRate,
			L2Lambda:     opts.Config.Tuning.L2Lambda,
			MaxSamples:   200,
		},
	})

	e := &Engine{
		cfg:      opts.Config,
		log:      log,
		store:    opts.Store,
		ensemble: ensemble,
		recorder: rec,
		tuner:    tn,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}

	if opts.Config.Tuning.Enabled {
		e.scheduler = tuner.NewScheduler(tn, opts.Config.Tuning.Interval(), opts.Logger)
	}

	e.publishWeightMetrics()

	return e
}

// Start launches background work (the tune scheduler, when enabled).
func (e *Engine) Start(ctx context.Context) {
	if e.scheduler != nil {
		e.scheduler.Start(ctx)
	}
}

// Stop drains background work. The store is closed by the owner of Options.
func (e *Engine) Stop() {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
}

// Ready reports whether essential state is initialized.
func (e *Engine) Ready(ctx context.Context) error {
	if e.store == nil {
		return &errs.NotReadyError{Reason: "outcome store not configured"}
	}
	if _, err := e.store.Count(ctx); err != nil {
		return &errs.NotReadyError{Reason: "outcome store unavailable"}
	}
	return nil
}

// Assess validates the deployment context, predicts risk, and derives the
// canary policy. Pure relative to the current weights snapshot: no side
// effects, no persistence.
func (e *Engine) Assess(ctx context.Context, dctx *models.DeploymentContext) (*AssessmentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &errs.TimeoutError{Op: "assess"}
	}
	if err := validateContext(dctx); err != nil {
		e.countAssessment("validation_error")
		return nil, err
	}

	_, span := e.tracer.Start(ctx, "engine.assess", trace.WithAttributes(
		attribute.String("deployment.id", dctx.DeploymentID),
		attribute.String("deployment.service", dctx.ServiceName),
		attribute.Int("deployment.changes", len(dctx.Changes)),
	))
	defer span.End()

	assessment := e.ensemble.Predict(dctx)
	policy := canary.Generate(&assessment, dctx)

	span.SetAttributes(
		attribute.Float64("risk.score", assessment.RiskScore),
		attribute.String("risk.level", string(assessment.RiskLevel)),
	)

	e.countAssessment("success")

	return &AssessmentResponse{
		RiskAssessment: assessment,
		CanaryPolicy:   policy,
	}, nil
}

// RecordOutcome persists the observed result of a deployment.
func (e *Engine) RecordOutcome(
	ctx context.Context,
	dctx *models.DeploymentContext,
	actualErrorRatePercent float64,
	actualLatencyChangePercent float64,
	rollbackTriggered bool,
) (*models.DeploymentOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.record_outcome", trace.WithAttributes(
		attribute.String("deployment.id", dctx.DeploymentID),
	))
	defer span.End()

	outcome, err := e.recorder.Record(ctx, dctx, actualErrorRatePercent, actualLatencyChangePercent, rollbackTriggered)
	if err != nil {
		var verr *errs.ValidationError
		if errors.As(err, &verr) {
			e.countRecord("validation_error")
		} else {
			e.countRecord("storage_error")
		}
		return nil, err
	}

	e.countRecord("success")
	e.updateRowGauge(ctx)

	return outcome, nil
}

// RecentOutcomes returns up to limit outcomes, newest first.
func (e *Engine) RecentOutcomes(ctx context.Context, limit int) ([]models.DeploymentOutcome, error) {
	if limit < 0 {
		return nil, errs.Validation("limit", "must not be negative")
	}
	return e.store.Recent(ctx, limit)
}

// OutcomeCount returns the total stored outcome count.
func (e *Engine) OutcomeCount(ctx context.Context) (int64, error) {
	return e.store.Count(ctx)
}

// Weights returns the current ensemble weight snapshot.
func (e *Engine) Weights() models.EnsembleWeights {
	return e.ensemble.Weights()
}

// LastTune returns the most recent tuning result, if any.
func (e *Engine) LastTune() *tuner.Result {
	return e.tuner.LastResult()
}

// TuneNow runs one tuning pass synchronously.
func (e *Engine) TuneNow(ctx context.Context) (tuner.Result, error) {
	result, err := e.tuner.Tune(ctx)
	if err != nil {
		e.countTune("error")
		return result, err
	}
	e.countTune("success")
	e.publishWeightMetrics()
	return result, nil
}

func (e *Engine) publishWeightMetrics() {
	if e.metrics == nil {
		return
	}
	w := e.ensemble.Weights()
	e.metrics.SetWeights(w.HeuristicWeight, w.MLWeight)
}

func (e *Engine) updateRowGauge(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	if count, err := e.store.Count(ctx); err == nil {
		e.metrics.OutcomeRows.Set(float64(count))
	}
}

func (e *Engine) countAssessment(status string) {
	if e.metrics != nil {
		e.metrics.AssessmentsTotal.WithLabelValues(status).Inc()
	}
}

func (e *Engine) countRecord(status string) {
	if e.metrics != nil {
		e.metrics.RecordsTotal.WithLabelValues(status).Inc()
	}
}

func (e *Engine) countTune(status string) {
	if e.metrics != nil {
		e.metrics.TunePassesTotal.WithLabelValues(status).Inc()
	}
}

// validateContext enforces the input contract. Unknown risk tags are
// tolerated; unknown change types are not.
func validateContext(dctx *models.DeploymentContext) error {
	if !isFinite(dctx.CurrentErrorRatePercent) || dctx.CurrentErrorRatePercent < 0 || dctx.CurrentErrorRatePercent > 100 {
		return errs.Validation("current_error_rate_percent", "must be between 0 and 100")
	}
	if !isFinite(dctx.TargetErrorRatePercent) || dctx.TargetErrorRatePercent < 0 || dctx.TargetErrorRatePercent > 100 {
		return errs.Validation("target_error_rate_percent", "must be between 0 and 100")
	}
	if !isFinite(dctx.CurrentP95LatencyMs) || dctx.CurrentP95LatencyMs < 0 {
		return errs.Validation("current_p95_latency_ms", "must not be negative")
	}
	if !isFinite(dctx.TargetP95LatencyMs) || dctx.TargetP95LatencyMs < 0 {
		return errs.Validation("target_p95_latency_ms", "must not be negative")
	}
	if !isFinite(dctx.CurrentQPS) || dctx.CurrentQPS < 0 {
		return errs.Validation("current_qps", "must not be negative")
	}

	for i, change := range dctx.Changes {
		if change.LinesChanged < 0 {
			return errs.Validationf("changes", "change %d: lines_changed must not be negative", i)
		}
		if change.ChangeType != "" && !change.ChangeType.IsValid() {
			return errs.Validationf("changes", "change %d: unknown change_type %q", i, change.ChangeType)
		}
	}

	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
