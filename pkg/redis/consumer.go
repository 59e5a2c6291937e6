package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	// Stream is the Redis stream name to consume from (required).
	Stream string

	// Group is the consumer group name. Without a group the consumer reads
	// from LastID and nothing is acknowledged.
	Group string

	// Consumer is the consumer name within the group. Required if Group is set.
	Consumer string

	// LastID is the starting position for consumers without a group. Default: "0".
	LastID string

	// Count is the max number of entries to read per batch. Default: 10.
	Count int64

	// Block is how long to wait for new entries. Default: 5 seconds.
	Block time.Duration

	// StopOnError makes Run return the first handler error instead of logging
	// it and moving on. The failed entry stays pending and is redelivered on
	// the next start.
	StopOnError bool

	// RetryInterval is how long to wait before retrying after a read error.
	// Default: 1 second.
	RetryInterval time.Duration

	// MaxRetryInterval is the maximum retry interval (with exponential backoff).
	// Default: 30 seconds.
	MaxRetryInterval time.Duration

	// Logger for logging. If nil, uses a no-op logger.
	Logger *zap.Logger
}

// MessageHandler processes a stream message. Returning nil acknowledges it
// when a consumer group is used.
type MessageHandler func(ctx context.Context, msg Message) error

// Message represents a single stream entry with parsed fields.
type Message struct {
	// ID is the Redis stream entry ID (e.g., "1234567890123-0").
	ID string

	// Stream is the stream name this message came from.
	Stream string

	// Values contains the entry fields as key-value pairs.
	Values map[string]interface{}
}

// streamReader is the subset of Client used by the consumer.
type streamReader interface {
	XGroupCreate(ctx context.Context, stream, group, start string) error
	XReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]redis.XStream, error)
	XRead(ctx context.Context, streams []string, count int64, block time.Duration) ([]redis.XStream, error)
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
}

// StreamConsumer consumes messages from a Redis stream in order, with
// automatic reconnection and optional consumer group support.
type StreamConsumer struct {
	client streamReader
	config StreamConsumerConfig
	logger *zap.Logger
}

// NewStreamConsumer creates a new stream consumer.
func NewStreamConsumer(client *Client, config StreamConsumerConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return newStreamConsumer(client, config)
}

func newStreamConsumer(client streamReader, config StreamConsumerConfig) (*StreamConsumer, error) {
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if config.Group != "" && config.Consumer == "" {
		return nil, errors.New("consumer name is required when using consumer groups")
	}

	// Apply defaults
	if config.LastID == "" {
		config.LastID = "0"
	}
	if config.Count == 0 {
		config.Count = 10
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 1 * time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StreamConsumer{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Run calls handler for each message in stream order and blocks until the
// context is cancelled or, with StopOnError, a handler fails.
//
// With a consumer group the entries still pending for this consumer (delivered
// earlier but never acknowledged) are replayed before new entries are read.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	if sc.config.Group != "" {
		if err := sc.client.XGroupCreate(ctx, sc.config.Stream, sc.config.Group, "0"); err != nil {
			return err
		}
		sc.logger.Info("Consumer group ready",
			zap.String("stream", sc.config.Stream),
			zap.String("group", sc.config.Group),
			zap.String("consumer", sc.config.Consumer))
	}

	// pending replay starts at "0" and switches to ">" once drained
	lastID := sc.config.LastID
	replaying := sc.config.Group != ""
	if replaying {
		lastID = "0"
	}
	retryInterval := sc.config.RetryInterval

	for {
		select {
		case <-ctx.Done():
			sc.logger.Info("Stream consumer shutting down",
				zap.String("stream", sc.config.Stream),
				zap.String("group", sc.config.Group))
			return ctx.Err()
		default:
		}

		messages, err := sc.readMessages(ctx, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, redis.Nil) {
				// No messages available (timeout), continue
				if replaying {
					replaying = false
					lastID = ">"
				}
				continue
			}

			sc.logger.Warn("Error reading from stream, will retry",
				zap.String("stream", sc.config.Stream),
				zap.Error(err),
				zap.Duration("retryIn", retryInterval))

			select {
			case <-time.After(retryInterval):
				retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		// Reset retry interval on success
		retryInterval = sc.config.RetryInterval

		if replaying && len(messages) == 0 {
			sc.logger.Debug("Pending entries drained", zap.String("stream", sc.config.Stream))
			replaying = false
			lastID = ">"
			continue
		}

		for _, msg := range messages {
			if err := sc.processMessage(ctx, handler, msg); err != nil {
				if sc.config.StopOnError {
					return fmt.Errorf("stream %s entry %s: %w", sc.config.Stream, msg.ID, err)
				}
				sc.logger.Error("Error processing message",
					zap.String("stream", sc.config.Stream),
					zap.String("id", msg.ID),
					zap.Error(err))
			}
			if sc.config.Group == "" || replaying {
				// simple consumers and pending replay both advance by ID
				lastID = msg.ID
			}
		}
	}
}

// readMessages reads a batch of messages from the stream.
func (sc *StreamConsumer) readMessages(ctx context.Context, lastID string) ([]Message, error) {
	var streams []redis.XStream
	var err error

	if sc.config.Group != "" {
		block := sc.config.Block
		if lastID != ">" {
			// pending reads return immediately
			block = -1
		}
		streams, err = sc.client.XReadGroup(ctx,
			sc.config.Group,
			sc.config.Consumer,
			[]string{sc.config.Stream, lastID},
			sc.config.Count,
			block,
		)
	} else {
		streams, err = sc.client.XRead(ctx,
			[]string{sc.config.Stream, lastID},
			sc.config.Count,
			sc.config.Block,
		)
	}

	if err != nil {
		return nil, err
	}

	var messages []Message
	for _, stream := range streams {
		for _, xmsg := range stream.Messages {
			messages = append(messages, Message{
				ID:     xmsg.ID,
				Stream: stream.Stream,
				Values: xmsg.Values,
			})
		}
	}

	return messages, nil
}

// processMessage processes a single message and acknowledges it on success.
func (sc *StreamConsumer) processMessage(ctx context.Context, handler MessageHandler, msg Message) error {
	if err := handler(ctx, msg); err != nil {
		return err
	}

	if sc.config.Group != "" {
		if _, ackErr := sc.client.XAck(ctx, sc.config.Stream, sc.config.Group, msg.ID); ackErr != nil {
			// an unacked entry is redelivered, which the handler tolerates
			sc.logger.Warn("Failed to acknowledge message",
				zap.String("stream", sc.config.Stream),
				zap.String("id", msg.ID),
				zap.Error(ackErr))
		}
	}

	return nil
}

// GetData is a helper to extract the "data" field from a message.
// Returns nil if not found.
func (m *Message) GetData() []byte {
	if data, ok := m.Values["data"].(string); ok {
		return []byte(data)
	}
	if data, ok := m.Values["data"].([]byte); ok {
		return data
	}
	return nil
}

// GetHeight is a helper to extract the "height" field from a message.
// Returns 0 if not found or not parseable.
func (m *Message) GetHeight() uint64 {
	val, ok := m.Values["height"]
	if !ok {
		return 0
	}
	return parseUint64(val)
}

// parseUint64 converts various types to uint64.
func parseUint64(v interface{}) uint64 {
	switch val := v.(type) {
	case uint64:
		return val
	case int64:
		return uint64(val)
	case int:
		return uint64(val)
	case string:
		// Redis returns numbers as strings
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
