package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

const defaultArchiveBatch = 200

// EventArchiver copies stored webhook payloads to the archive bucket.
type EventArchiver interface {
	ArchiveBatch(ctx context.Context, limit int) (int, error)
}

// EnqueueArchive queues one archive batch of at most limit events.
func EnqueueArchive(q *Queue, limit int) (*Job, error) {
	return q.EnqueueJob(JobTypeArchiveEvents, ArchiveEventsJobPayload{Limit: limit}.ToMap())
}

// RegisterArchiveHandler wires archive jobs to archiver. A batch that stored
// some objects before failing still fails the job so that it is retried.
func RegisterArchiveHandler(q *Queue, archiver EventArchiver) {
	q.RegisterHandler(JobTypeArchiveEvents, func(ctx context.Context, job *Job) error {
		payload, err := ArchiveEventsJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid archive payload: %w", err)
		}
		limit := payload.Limit
		if limit <= 0 {
			limit = defaultArchiveBatch
		}
		n, err := archiver.ArchiveBatch(ctx, limit)
		if n > 0 {
			log.Infof("[JobQueue] Archived %d webhook events", n)
		}
		return err
	})
}
