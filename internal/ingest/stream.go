package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Ingestion event types carried on the stream.
const (
	EventBlobUploaded = "blob_uploaded"
	EventBlobDeleted  = "blob_deleted"
)

// Event is one ingestion trigger: a blob landed in or left the container.
type Event struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	BlobName   string    `json:"blob_name"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher appends ingestion events to the redis stream.
type Publisher struct {
	client *redis.Client
	stream string
}

// NewPublisher creates a publisher for the configured stream.
func NewPublisher(client *redis.Client, stream string) *Publisher {
	return &Publisher{client: client, stream: stream}
}

// Publish appends one event, filling id and timestamp when absent.
func (p *Publisher) Publish(ctx context.Context, event Event) (string, error) {
	if event.BlobName == "" {
		return "", fmt.Errorf("blob name is required")
	}
	if event.EventType == "" {
		event.EventType = EventBlobUploaded
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("serialize event: %w", err)
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"envelope": raw},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish ingest event: %w", err)
	}
	return id, nil
}

// Remover deletes index entries for a removed blob.
type Remover interface {
	DeleteBySource(ctx context.Context, pattern string) (int, error)
}

// FileEmbedder handles an uploaded blob. Satisfied by Coordinator.
type FileEmbedder interface {
	EmbedFile(ctx context.Context, name string) error
}

// Consumer drains the ingestion stream through the coordinator.
type Consumer struct {
	client      *redis.Client
	stream      string
	group       string
	consumer    string
	coordinator FileEmbedder
	remover     Remover
	logger      *log.Logger
}

// NewConsumer builds a group consumer, creating the group if needed.
func NewConsumer(ctx context.Context, client *redis.Client, stream, group string, coordinator FileEmbedder, remover Remover, logger *log.Logger) (*Consumer, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	if err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil &&
		!strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Consumer{
		client:      client,
		stream:      stream,
		group:       group,
		consumer:    "ingester-" + uuid.NewString()[:8],
		coordinator: coordinator,
		remover:     remover,
		logger:      logger,
	}, nil
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.ConsumeOnce(ctx, 5*time.Second)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Printf("consume: %v", err)
			time.Sleep(time.Second)
		}
		_ = n
	}
}

// ConsumeOnce reads one block of pending messages and processes them,
// acknowledging each handled message. Returns the number processed.
func (c *Consumer) ConsumeOnce(ctx context.Context, block time.Duration) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    16,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			if err := c.handle(ctx, msg); err != nil {
				c.logger.Printf("handle %s: %v", msg.ID, err)
				// Left unacked for redelivery.
				continue
			}
			if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
				c.logger.Printf("ack %s: %v", msg.ID, err)
			}
			processed++
		}
	}
	return processed, nil
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	raw, ok := msg.Values["envelope"].(string)
	if !ok {
		return fmt.Errorf("message %s has no envelope", msg.ID)
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return fmt.Errorf("parse event: %w", err)
	}
	switch event.EventType {
	case EventBlobUploaded:
		return c.coordinator.EmbedFile(ctx, event.BlobName)
	case EventBlobDeleted:
		if c.remover == nil {
			return nil
		}
		removed, err := c.remover.DeleteBySource(ctx, "%"+event.BlobName+"%")
		if err != nil {
			return err
		}
		c.logger.Printf("removed %d chunks for deleted blob %s", removed, event.BlobName)
		return nil
	default:
		return fmt.Errorf("unknown event type %q", event.EventType)
	}
}
