package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CopyFox/internal/pkg/billing"
)

// TestNewQueue tests the queue constructor
func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.NotNil(t, queue.workerPool)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.NotNil(t, queue.stopCh)
			assert.NotNil(t, queue.handlers)
			assert.False(t, queue.running)
		})
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_delayed", JobDelayedKey)
	assert.Equal(t, "job_stats", JobStatsKey)

	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func TestRegisterHandlerReplaces(t *testing.T) {
	queue := NewQueue(1)
	_, ok := queue.handler(JobTypeReconcileEvent)
	assert.False(t, ok)

	calls := 0
	queue.RegisterHandler(JobTypeReconcileEvent, func(context.Context, *Job) error { calls = 1; return nil })
	queue.RegisterHandler(JobTypeReconcileEvent, func(context.Context, *Job) error { calls = 2; return nil })

	h, ok := queue.handler(JobTypeReconcileEvent)
	require.True(t, ok)
	require.NoError(t, h(context.Background(), &Job{}))
	assert.Equal(t, 2, calls)
}

type fakeProcessor struct {
	ids    []uint
	result *billing.ProcessResult
	err    error
}

func (f *fakeProcessor) Process(_ context.Context, eventID uint) (*billing.ProcessResult, error) {
	f.ids = append(f.ids, eventID)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestReconcileHandler(t *testing.T) {
	queue := NewQueue(1)
	proc := &fakeProcessor{result: &billing.ProcessResult{Outcome: billing.OutcomeRetryScheduled}}
	RegisterReconcileHandler(queue, proc)
	h, ok := queue.handler(JobTypeReconcileEvent)
	require.True(t, ok)
	ctx := context.Background()

	// A reconciliation failure is the engine's to retry, not the queue's.
	err := h(ctx, &Job{Payload: ReconcileEventJobPayload{EventID: 9}.ToMap()})
	require.NoError(t, err)
	assert.Equal(t, []uint{9}, proc.ids)

	proc.err = errors.New("db down")
	assert.Error(t, h(ctx, &Job{Payload: map[string]interface{}{"event_id": float64(10)}}))

	assert.Error(t, h(ctx, &Job{Payload: map[string]interface{}{}}))
	assert.Equal(t, []uint{9, 10}, proc.ids)
}

type fakeArchiver struct {
	limits []int
	n      int
	err    error
}

func (f *fakeArchiver) ArchiveBatch(_ context.Context, limit int) (int, error) {
	f.limits = append(f.limits, limit)
	return f.n, f.err
}

func TestArchiveHandler(t *testing.T) {
	queue := NewQueue(1)
	arch := &fakeArchiver{n: 3}
	RegisterArchiveHandler(queue, arch)
	h, ok := queue.handler(JobTypeArchiveEvents)
	require.True(t, ok)
	ctx := context.Background()

	require.NoError(t, h(ctx, &Job{Payload: ArchiveEventsJobPayload{Limit: 50}.ToMap()}))
	require.NoError(t, h(ctx, &Job{Payload: map[string]interface{}{}}))
	assert.Equal(t, []int{50, defaultArchiveBatch}, arch.limits)

	arch.err = errors.New("bucket unreachable")
	assert.Error(t, h(ctx, &Job{Payload: ArchiveEventsJobPayload{Limit: 10}.ToMap()}))
}
