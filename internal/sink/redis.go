package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a Redis Streams sink.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"` // stream is trimmed to this length, 0 keeps everything
}

// Validate checks configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("sink: redis addr is required")
	}
	if c.Stream == "" {
		return fmt.Errorf("sink: redis stream is required")
	}
	return nil
}

// Redis appends events to a Redis stream via XADD. Consumers on the
// read side pick them up with consumer groups.
type Redis struct {
	cfg    RedisConfig
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedis creates a Redis Streams sink.
func NewRedis(cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		cfg:    cfg,
		rdb:    redis.NewClient(&redis.Options{Addr: cfg.Addr}),
		logger: logger,
	}, nil
}

// Publish appends one entry to the stream.
func (r *Redis) Publish(ctx context.Context, event *Event) error {
	values, err := streamValues(event)
	if err != nil {
		return &PublishError{Sink: "redis", Err: err}
	}

	err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.cfg.Stream,
		MaxLen: r.cfg.MaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return &PublishError{Sink: "redis", Err: err}
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.rdb.Close() }

// streamValues flattens an event into XADD field-value pairs. The
// full event travels in "detail"; id, correlation id and type are
// duplicated as top-level fields for cheap filtering.
func streamValues(event *Event) (map[string]any, error) {
	detail, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":             event.ID,
		"correlation_id": event.CorrelationID,
		"type":           event.Type,
		"detail":         string(detail),
	}, nil
}
