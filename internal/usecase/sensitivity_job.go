package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"SabrLSM/internal/domain/models"
	"SabrLSM/internal/report"
	xhttp "SabrLSM/pkg/http"
	applogger "SabrLSM/pkg/logger"
	"SabrLSM/pkg/queue"
)

// SensitivityJob runs queued sweeps. Rows land in the run history under the
// job id, which is how callers read the outcome.
type SensitivityJob struct {
	uc  *PricingUseCase
	log *applogger.Logger
}

func NewSensitivityJob(uc *PricingUseCase, l *applogger.Logger) *SensitivityJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &SensitivityJob{uc: uc, log: l}
}

func (j *SensitivityJob) Name() string { return "sensitivity-sweep" }

func (j *SensitivityJob) Type() string { return SensitivityJobType }

func (j *SensitivityJob) Handle(ctx context.Context, payload json.RawMessage) error {
	job, err := queue.ParsePayload[models.SensitivityJob](payload)
	if err != nil {
		return err
	}
	if verrs := xhttp.DefaultAndValidate(ctx, &job.Request); verrs != nil {
		return fmt.Errorf("sensitivity job %s: %w", job.JobID, xhttp.ValidationErrorsAsError(verrs))
	}
	in, err := j.uc.Resolve(job.Request.PriceRequest)
	if err != nil {
		return err
	}

	sweeps, err := j.uc.Sweeps(ctx, in, job.Request.Sweeps(), job.JobID)
	if err != nil {
		return fmt.Errorf("sensitivity job %s: %w", job.JobID, err)
	}
	for _, s := range sweeps {
		for _, p := range s.Points {
			j.log.Debug("sweep point",
				applogger.String("job_id", job.JobID),
				applogger.String("parameter", string(p.Parameter)),
				applogger.Float64("value", p.Value),
				applogger.String("result", report.Summary(models.PricingEstimate{Price: p.Price, StandardError: p.StandardError})),
			)
		}
	}
	j.log.Info("sensitivity job done", applogger.String("job_id", job.JobID), applogger.Int("sweeps", len(sweeps)))
	return nil
}

var _ queue.Job = (*SensitivityJob)(nil)
