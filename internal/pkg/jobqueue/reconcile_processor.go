package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/internal/pkg/billing"
)

// EventProcessor is the part of the reconciliation engine the worker calls.
type EventProcessor interface {
	Process(ctx context.Context, eventID uint) (*billing.ProcessResult, error)
}

// ReconcileScheduler hands reconciliation attempts to the job queue. It
// implements billing.Scheduler.
type ReconcileScheduler struct {
	queue *Queue
}

func NewReconcileScheduler(q *Queue) *ReconcileScheduler {
	return &ReconcileScheduler{queue: q}
}

func (s *ReconcileScheduler) Schedule(_ context.Context, eventID uint, delay time.Duration) error {
	payload := ReconcileEventJobPayload{EventID: eventID}
	if _, err := s.queue.EnqueueJobIn(JobTypeReconcileEvent, payload.ToMap(), delay); err != nil {
		return fmt.Errorf("enqueue reconcile job for event %d: %w", eventID, err)
	}
	return nil
}

// RegisterReconcileHandler wires reconcile jobs to processor. Reconciliation
// failures are retried by the engine's own policy, so only errors loading or
// saving the event fail the job.
func RegisterReconcileHandler(q *Queue, processor EventProcessor) {
	q.RegisterHandler(JobTypeReconcileEvent, func(ctx context.Context, job *Job) error {
		payload, err := ReconcileEventJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid reconcile payload: %w", err)
		}
		result, err := processor.Process(ctx, payload.EventID)
		if err != nil {
			return err
		}
		log.Debugf("[JobQueue] Event %d reconcile outcome: %s", payload.EventID, result.Outcome)
		return nil
	})
}
