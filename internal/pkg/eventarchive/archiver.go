package eventarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/metrics"
)

// EventSource lists webhook rows not yet copied and marks them once copied.
type EventSource interface {
	ListUnarchivedWebhookEvents(ctx context.Context, limit int) ([]models.BillingWebhookEvent, error)
	MarkWebhookArchived(ctx context.Context, id uint, at time.Time) error
}

// Record is the document written per event.
type Record struct {
	ID              uint            `json:"id"`
	Provider        string          `json:"provider"`
	ProviderEventID string          `json:"provider_event_id"`
	EventType       string          `json:"event_type"`
	SignatureValid  bool            `json:"signature_valid"`
	ReceivedAt      time.Time       `json:"received_at"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	RawPayload      string          `json:"raw_payload,omitempty"`
}

func newRecord(e *models.BillingWebhookEvent) Record {
	r := Record{
		ID:              e.ID,
		Provider:        e.Provider,
		ProviderEventID: e.ProviderEventID,
		EventType:       e.EventType,
		SignatureValid:  e.SignatureValid,
		ReceivedAt:      e.ReceivedAt.UTC(),
	}
	if json.Valid([]byte(e.PayloadJSON)) {
		r.Payload = json.RawMessage(e.PayloadJSON)
	} else {
		r.RawPayload = e.PayloadJSON
	}
	return r
}

// Archiver copies recorded webhook payloads to object storage. Database rows
// are kept; ArchivedAt only records the copy.
type Archiver struct {
	source EventSource
	bucket ObjectPutter
	cfg    *Config
	now    func() time.Time
}

func NewArchiver(source EventSource, bucket ObjectPutter, cfg *Config) *Archiver {
	return &Archiver{source: source, bucket: bucket, cfg: cfg, now: time.Now}
}

// ArchiveBatch copies up to limit unarchived events and returns how many
// were stored. Failed events stay unarchived for the next run.
func (a *Archiver) ArchiveBatch(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = a.cfg.BatchSize
	}
	events, err := a.source.ListUnarchivedWebhookEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unarchived events: %w", err)
	}

	archived := 0
	var errs []error
	for i := range events {
		if err := a.archiveOne(ctx, &events[i]); err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w", events[i].ID, err))
			continue
		}
		archived++
	}
	if archived > 0 {
		log.Infof("[EventArchive] Archived %d/%d events", archived, len(events))
	}
	return archived, errors.Join(errs...)
}

func (a *Archiver) archiveOne(ctx context.Context, event *models.BillingWebhookEvent) error {
	body, err := json.Marshal(newRecord(event))
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = a.bucket.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.BucketName),
		Key:           aws.String(a.cfg.ObjectKey(event)),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"provider":        event.Provider,
			"event-type":      event.EventType,
			"signature-valid": strconv.FormatBool(event.SignatureValid),
		},
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	if err := a.source.MarkWebhookArchived(ctx, event.ID, a.now().UTC()); err != nil {
		// Re-uploading the same key on the next run is harmless.
		return fmt.Errorf("mark archived: %w", err)
	}
	metrics.ArchivedEventsTotal.Inc()
	return nil
}
