package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisQueue(t *testing.T) (*Queue, context.Context) {
	t.Helper()

	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	queue := NewQueue(1)
	queue.client = client
	resetJobQueueRedisWithClient(t, client)
	t.Cleanup(func() {
		resetJobQueueRedisWithClient(t, client)
	})
	return queue, context.Background()
}

func TestQueue_EnqueueJob(t *testing.T) {
	queue, ctx := setupRedisQueue(t)

	job, err := queue.EnqueueJob(JobTypeReconcileEvent, ReconcileEventJobPayload{EventID: 1}.ToMap())
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusPending, job.Status)

	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	stored, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobTypeReconcileEvent, stored.Type)

	stats, err := queue.GetJobStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats[JobStatusPending])
}

func TestQueue_EnqueueJobInIsDelayedUntilDue(t *testing.T) {
	queue, ctx := setupRedisQueue(t)

	job, err := queue.EnqueueJobIn(JobTypeReconcileEvent, ReconcileEventJobPayload{EventID: 2}.ToMap(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, JobStatusScheduled, job.Status)
	require.NotNil(t, job.RunAt)

	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	delayed, err := queue.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed)

	n, err := queue.PromoteDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	n, err = queue.PromoteDue(ctx, job.RunAt.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	size, err = queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
	delayed, err = queue.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, delayed)
}

func TestQueue_ProcessJobSuccessRemovesJob(t *testing.T) {
	queue, ctx := setupRedisQueue(t)
	var seen uint
	queue.RegisterHandler(JobTypeReconcileEvent, func(_ context.Context, job *Job) error {
		p, err := ReconcileEventJobPayloadFromMap(job.Payload)
		if err != nil {
			return err
		}
		seen = p.EventID
		return nil
	})

	created, err := queue.EnqueueJob(JobTypeReconcileEvent, ReconcileEventJobPayload{EventID: 3}.ToMap())
	require.NoError(t, err)

	job, err := queue.dequeueJob(ctx)
	require.NoError(t, err)
	require.Equal(t, created.ID, job.ID)
	queue.processJob(ctx, job)

	assert.EqualValues(t, 3, seen)
	_, err = queue.GetJob(ctx, created.ID)
	assert.ErrorIs(t, err, redis.Nil)
	processing, err := queue.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, processing)

	stats, err := queue.GetJobStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats[JobStatusCompleted])
}

func TestQueue_ProcessJobFailureSchedulesRetry(t *testing.T) {
	queue, ctx := setupRedisQueue(t)
	queue.RegisterHandler(JobTypeReconcileEvent, func(context.Context, *Job) error {
		return errors.New("db unavailable")
	})

	created, err := queue.EnqueueJob(JobTypeReconcileEvent, ReconcileEventJobPayload{EventID: 4}.ToMap())
	require.NoError(t, err)
	job, err := queue.dequeueJob(ctx)
	require.NoError(t, err)
	queue.processJob(ctx, job)

	stored, err := queue.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "db unavailable", stored.ErrorMsg)

	delayed, err := queue.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed)
}

func TestQueue_UnknownJobTypeFails(t *testing.T) {
	queue, ctx := setupRedisQueue(t)

	created, err := queue.EnqueueJob(JobType("nope"), map[string]interface{}{})
	require.NoError(t, err)
	job, err := queue.dequeueJob(ctx)
	require.NoError(t, err)
	job.MaxRetries = 0
	queue.processJob(ctx, job)

	stored, err := queue.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMsg, "unknown job type")
}

func TestQueue_RecoverStuck(t *testing.T) {
	queue, ctx := setupRedisQueue(t)

	created, err := queue.EnqueueJob(JobTypeReconcileEvent, ReconcileEventJobPayload{EventID: 5}.ToMap())
	require.NoError(t, err)
	job, err := queue.dequeueJob(ctx)
	require.NoError(t, err)
	job.MarkAsProcessing()
	queue.updateJob(ctx, job)

	queue.recoverStuck(ctx, time.Now().Add(time.Hour), 10*time.Minute)

	stored, err := queue.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
	processing, err := queue.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, processing)
}

func TestReconcileSchedulerEnqueues(t *testing.T) {
	queue, ctx := setupRedisQueue(t)
	s := NewReconcileScheduler(queue)

	require.NoError(t, s.Schedule(ctx, 11, 0))
	require.NoError(t, s.Schedule(ctx, 12, 30*time.Second))

	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)
	delayed, err := queue.GetDelayedSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed)
}

func TestQueue_EnqueueJob_PipelineError(t *testing.T) {
	queue := NewQueue(1)
	queue.client = redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:0",
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
		PoolTimeout:  100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = queue.client.Close() })

	job, err := queue.EnqueueJob(JobTypeReconcileEvent, map[string]interface{}{"event_id": 1})
	require.Error(t, err)
	assert.Nil(t, job)
}
