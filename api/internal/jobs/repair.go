// Package jobs holds the asynq task handlers run by the worker binary.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"creator-sync/api/internal/consistency"
	"creator-sync/shared/logx"
)

const TaskConsistencyRepair = "consistency.repair"

type Auditor interface {
	RunConsistencyCheck(ctx context.Context) (consistency.Report, error)
	AutoRepair(ctx context.Context) (consistency.RepairResult, error)
}

// RepairPayload is optional; Force repairs even when the check is clean.
type RepairPayload struct {
	Force bool `json:"force"`
}

func NewRepairTask(queue string, force bool) (*asynq.Task, error) {
	var payload []byte
	if force {
		b, err := json.Marshal(RepairPayload{Force: true})
		if err != nil {
			return nil, err
		}
		payload = b
	}
	return asynq.NewTask(TaskConsistencyRepair, payload, asynq.Queue(queue), asynq.MaxRetry(1)), nil
}

// RepairHandler runs a sampled check and repairs only when drift was found.
func RepairHandler(a Auditor, logger logx.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, TaskConsistencyRepair)
		defer span.End()

		var p RepairPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &p); err != nil {
				return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
			}
		}

		report, err := a.RunConsistencyCheck(ctx)
		if err != nil {
			return err
		}
		span.SetAttributes(
			attribute.Int("consistency.checked", report.TotalChecked),
			attribute.Int("consistency.mismatches", report.TotalInconsistencies),
		)
		if report.TotalInconsistencies == 0 && !p.Force {
			logger.Debug(ctx, "consistency_clean", "no drift found",
				slog.Int("checked", report.TotalChecked),
			)
			return nil
		}

		res, err := a.AutoRepair(ctx)
		if err != nil {
			return err
		}
		logger.Info(ctx, "consistency_repaired", "scheduled repair finished",
			slog.Int("checked", report.TotalChecked),
			slog.Int("mismatches", report.TotalInconsistencies),
			slog.Int("repaired", res.Repaired),
			slog.Int("failed", len(res.Errors)),
		)
		return nil
	}
}
