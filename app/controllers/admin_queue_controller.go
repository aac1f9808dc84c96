package controllers

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/app/repository"
	"github.com/ManuelReschke/CopyFox/internal/pkg/jobqueue"
)

// rateLimitKeyPattern matches the shared signup limiter counters.
const rateLimitKeyPattern = "abuse:ratelimit:*"

// QueueItem describes one Redis key behind the queue or the limiter.
type QueueItem struct {
	Key  string        `json:"key"`
	Type string        `json:"type"`
	TTL  time.Duration `json:"ttl_ns"`
}

// QueueSnapshot is the operator view of the reconciliation queue.
type QueueSnapshot struct {
	Pending    int64       `json:"pending"`
	Processing int64       `json:"processing"`
	Delayed    int64       `json:"delayed"`
	Items      []QueueItem `json:"items"`
	TakenAt    time.Time   `json:"taken_at"`
}

// AdminQueueController handles admin queue-related HTTP requests using repository pattern
type AdminQueueController struct {
	queueRepo repository.QueueRepository
}

// NewAdminQueueController creates a new admin queue controller with repository
func NewAdminQueueController(queueRepo repository.QueueRepository) *AdminQueueController {
	return &AdminQueueController{
		queueRepo: queueRepo,
	}
}

// HandleAdminQueues returns queue depths and the job and limiter keys
func (aqc *AdminQueueController) HandleAdminQueues(c *fiber.Ctx) error {
	snapshot, err := aqc.snapshot(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Queue snapshot failed: %v", err)
		return errorResponse(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Failed to read queue state")
	}
	return c.JSON(snapshot)
}

func (aqc *AdminQueueController) snapshot(ctx context.Context) (*QueueSnapshot, error) {
	out := &QueueSnapshot{TakenAt: time.Now().UTC()}
	var err error
	if out.Pending, err = aqc.queueRepo.GetListLength(ctx, jobqueue.JobQueueKey); err != nil {
		return nil, err
	}
	if out.Processing, err = aqc.queueRepo.GetListLength(ctx, jobqueue.JobProcessingKey); err != nil {
		return nil, err
	}
	if out.Delayed, err = aqc.queueRepo.GetSortedSetLength(ctx, jobqueue.JobDelayedKey); err != nil {
		return nil, err
	}

	keys, err := aqc.queueRepo.FindKeysByPatterns(ctx, []string{jobqueue.JobKeyPrefix + "*", rateLimitKeyPattern})
	if err != nil {
		return nil, err
	}
	out.Items = make([]QueueItem, 0, len(keys))
	for _, key := range keys {
		ttl, err := aqc.queueRepo.GetTTL(ctx, key)
		if err != nil {
			ttl = -1
		}
		out.Items = append(out.Items, QueueItem{Key: key, Type: queueItemType(key), TTL: ttl})
	}
	sort.SliceStable(out.Items, func(i, j int) bool {
		if out.Items[i].Type != out.Items[j].Type {
			return out.Items[i].Type < out.Items[j].Type
		}
		return out.Items[i].Key < out.Items[j].Key
	})
	return out, nil
}

func queueItemType(key string) string {
	switch {
	case strings.HasPrefix(key, jobqueue.JobKeyPrefix):
		return "job"
	case strings.HasPrefix(key, strings.TrimSuffix(rateLimitKeyPattern, "*")):
		return "rate_limit"
	default:
		return "unknown"
	}
}
