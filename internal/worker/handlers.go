package worker

import (
	"context"

	"github.com/shaiso/omnipost/internal/domain"
)

// handleStep обрабатывает шаг из очереди steps.ready.
// После Stop шаги не берутся: сообщение вернётся в очередь.
func (w *Worker) handleStep(ctx context.Context, job *domain.StepJob) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	w.logger.Debug("received step",
		"job_id", job.ID,
		"run_id", job.RunID,
		"step", job.Index,
		"scheduled_at", job.RunAt,
	)

	return w.executor.Execute(ctx, job)
}
