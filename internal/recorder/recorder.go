// Package recorder persists deployment outcomes and feeds the learning loop.
package recorder

import (
	"context"
	"math"
	"time"

	"github.com/verdictlabs/negotiator/internal/errs"
	"github.com/verdictlabs/negotiator/internal/history"
	"github.com/verdictlabs/negotiator/internal/risk"
	"github.com/verdictlabs/negotiator/pkg/logger"
	"github.com/verdictlabs/negotiator/pkg/models"
)

// Publisher receives recorded outcomes for downstream consumers. Publishing
// is best-effort; failures never surface to the caller.
type Publisher interface {
	PublishOutcome(ctx context.Context, outcome *models.DeploymentOutcome) error
}

// Recorder re-scores deployments at outcome time and appends the result to
// the outcome store.
type Recorder struct {
	ensemble  *risk.Ensemble
	store     history.Store
	publisher Publisher
	log       *logger.Logger
}

// New creates a Recorder. publisher may be nil.
func New(ensemble *risk.Ensemble, store history.Store, publisher Publisher, log *logger.Logger) *Recorder {
	return &Recorder{
		ensemble:  ensemble,
		store:     store,
		publisher: publisher,
		log:       log.WithComponent("recorder"),
	}
}

// Record validates the observed metrics, re-runs the ensemble on the
// supplied context to capture scores under the weights in effect right now,
// and durably appends the outcome. Nothing is written on validation
// failure. Once past validation the write runs to durable completion even
// if the caller cancels.
func (r *Recorder) Record(
	ctx context.Context,
	dctx *models.DeploymentContext,
	actualErrorRatePercent float64,
	actualLatencyChangePercent float64,
	rollbackTriggered bool,
) (*models.DeploymentOutcome, error) {
	if dctx.DeploymentID == "" {
		return nil, errs.Validation("deployment_id", "must not be empty")
	}
	if math.IsNaN(actualErrorRatePercent) || math.IsInf(actualErrorRatePercent, 0) {
		return nil, errs.Validation("actual_error_rate_percent", "must be a finite number")
	}
	if actualErrorRatePercent < 0 {
		return nil, errs.Validation("actual_error_rate_percent", "must not be negative")
	}
	if math.IsNaN(actualLatencyChangePercent) || math.IsInf(actualLatencyChangePercent, 0) {
		return nil, errs.Validation("actual_latency_change_percent", "must be a finite number")
	}

	if len(dctx.Changes) == 0 {
		r.log.Info("recording outcome against a synthesized minimal context",
			"deployment_id", dctx.DeploymentID,
		)
	}

	assessment := r.ensemble.Predict(dctx)

	outcome := &models.DeploymentOutcome{
		DeploymentID:               dctx.DeploymentID,
		Timestamp:                  time.Now().UTC(),
		HeuristicScore:             assessment.HeuristicScore,
		MLScore:                    assessment.MLScore,
		FinalScore:                 assessment.RiskScore,
		ActualErrorRatePercent:     actualErrorRatePercent,
		ActualLatencyChangePercent: actualLatencyChangePercent,
		RollbackTriggered:          rollbackTriggered,
	}

	// Detach from the caller's cancellation: a validated outcome must reach
	// durable storage.
	saveCtx := context.WithoutCancel(ctx)
	if err := r.store.Save(saveCtx, outcome); err != nil {
		return nil, err
	}

	r.refreshCalibration(saveCtx)

	if r.publisher != nil {
		if err := r.publisher.PublishOutcome(saveCtx, outcome); err != nil {
			r.log.Warn("failed to publish outcome event",
				"deployment_id", outcome.DeploymentID,
				"error", err,
			)
		}
	}

	r.log.Info("recorded deployment outcome",
		"deployment_id", outcome.DeploymentID,
		"final_score", outcome.FinalScore,
		"rollback_triggered", outcome.RollbackTriggered,
	)

	return outcome, nil
}

// refreshCalibration recomputes the ensemble's historical calibration from
// the freshly extended outcome log.
func (r *Recorder) refreshCalibration(ctx context.Context) {
	recent, err := r.store.Recent(ctx, 20)
	if err != nil {
		r.log.Warn("failed to refresh calibration", "error", err)
		return
	}
	r.ensemble.UpdateCalibration(recent)
}
