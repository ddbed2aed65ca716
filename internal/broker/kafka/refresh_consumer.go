package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/ParcelPoll/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RefreshConsumer reads RefreshRequested messages for the worker.
type RefreshConsumer struct {
	r      messageReader
	maxAge time.Duration
	now    func() time.Time
}

func NewRefreshConsumer(brokers []string, topic, groupID string) *RefreshConsumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newRefreshConsumerWithReader(kafka.NewReader(cfg))
}

func newRefreshConsumerWithReader(r messageReader) *RefreshConsumer {
	return &RefreshConsumer{r: r, now: time.Now}
}

// WithMaxAge drops requests stamped more than d ago; a regular cycle has
// already covered them. Zero keeps everything.
func (c *RefreshConsumer) WithMaxAge(d time.Duration) *RefreshConsumer {
	c.maxAge = d
	return c
}

func (c *RefreshConsumer) Close() error {
	return c.r.Close()
}

// Consume passes every fresh request to onRefresh until ctx ends or onRefresh fails.
// Undecodable and stale messages are committed without reaching onRefresh.
// A request onRefresh rejected stays uncommitted.
func (c *RefreshConsumer) Consume(ctx context.Context, onRefresh func(ctx context.Context, req messages.RefreshRequested) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch refresh request")
		}

		var req messages.RefreshRequested
		switch err := json.Unmarshal(msg.Value, &req); {
		case err != nil:
			slog.Warn("skip undecodable refresh request",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err.Error())
		case c.stale(req):
			slog.Info("skip stale refresh request",
				"offset", msg.Offset, "requested_at", req.RequestedAt, "reason", req.Reason)
		default:
			if err := onRefresh(ctx, req); err != nil {
				return errors.Wrapf(err, "handle refresh request at offset %d", msg.Offset)
			}
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit refresh request")
		}
	}
}

func (c *RefreshConsumer) stale(req messages.RefreshRequested) bool {
	if c.maxAge <= 0 || req.RequestedAt.IsZero() {
		return false
	}
	return c.now().Sub(req.RequestedAt) > c.maxAge
}
