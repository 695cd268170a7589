package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/glowslot/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"
)

// Invalidator drops cached schedule data for a staff member.
type Invalidator interface {
	Invalidate(ctx context.Context, staffID string) error
}

type Config struct {
	Brokers string
	GroupID string
	Topics  []string
}

// Consumer listens for schedule change events and invalidates cached schedules.
type Consumer struct {
	cfg         Config
	logger      *slog.Logger
	invalidator Invalidator
	retries     int
	backoff     time.Duration
}

func New(logger *slog.Logger, cfg Config, invalidator Invalidator) *Consumer {
	return &Consumer{
		cfg:         cfg,
		logger:      logger,
		invalidator: invalidator,
		retries:     3,
		backoff:     500 * time.Millisecond,
	}
}

type schedulePayload struct {
	StaffID  string   `json:"staff_id"`
	StaffIDs []string `json:"staff_ids"`
}

func (p schedulePayload) ids() []string {
	var out []string
	if p.StaffID != "" {
		out = append(out, p.StaffID)
	}
	for _, id := range p.StaffIDs {
		if id != "" && id != p.StaffID {
			out = append(out, id)
		}
	}
	return out
}

// Run blocks until ctx is cancelled. Offsets are committed after each message
// is handled, including messages dropped as malformed.
func (c *Consumer) Run(ctx context.Context) {
	brokers := kafkax.SplitBrokers(c.cfg.Brokers)
	if len(brokers) == 0 || len(c.cfg.Topics) == 0 {
		c.logger.Warn("schedule consumer disabled", "brokers", c.cfg.Brokers, "topics", c.cfg.Topics)
		return
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     c.cfg.GroupID,
		GroupTopics: c.cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if err := c.handleWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("schedule invalidation failed; entries expire by ttl", "err", err, "topic", msg.Topic)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err)
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	var err error
	for attempt := 0; attempt < c.retries; attempt++ {
		if err = c.Handle(ctx, msg); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt+1)):
		}
	}
	return err
}

// Handle invalidates every staff member named in the event. Malformed payloads
// are logged and skipped.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	ctxSpan, span := kafkax.StartConsumeSpan(ctx, "availability-service/consumer", msg)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)

	var payload schedulePayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		c.logger.Error("invalid event payload", "err", err, "topic", msg.Topic, "event_id", meta.EventID)
		return nil
	}
	ids := payload.ids()
	if len(ids) == 0 {
		c.logger.Error("missing required event fields", "topic", msg.Topic, "event_id", meta.EventID)
		return nil
	}

	var errs []error
	for _, id := range ids {
		if err := c.invalidator.Invalidate(ctxSpan, id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalidate failed")
		return err
	}
	c.logger.Debug("schedule cache invalidated",
		"event_id", meta.EventID,
		"event_type", meta.EventType,
		"staff_ids", ids,
		"lag_ms", meta.Lag(time.Now()).Milliseconds(),
	)
	return nil
}
