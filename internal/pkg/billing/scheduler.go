package billing

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Scheduler arranges for an event to be processed again after delay.
type Scheduler interface {
	Schedule(ctx context.Context, eventID uint, delay time.Duration) error
}

// InlineScheduler re-runs events in-process with time.AfterFunc. Pending
// timers are lost on restart; the retry sweeper picks those events up.
type InlineScheduler struct {
	process func(ctx context.Context, eventID uint)
}

// NewInlineScheduler schedules processing through the engine's Process.
func NewInlineScheduler(e *Engine) *InlineScheduler {
	return &InlineScheduler{process: func(ctx context.Context, eventID uint) {
		if _, err := e.Process(ctx, eventID); err != nil {
			log.Errorf("[Reconcile] Inline processing of event %d failed: %v", eventID, err)
		}
	}}
}

func (s *InlineScheduler) Schedule(_ context.Context, eventID uint, delay time.Duration) error {
	if delay <= 0 {
		go s.process(context.Background(), eventID)
		return nil
	}
	time.AfterFunc(delay, func() {
		s.process(context.Background(), eventID)
	})
	return nil
}
