package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// RedisSink appends records to a capped Redis stream for external
// consumers. It is meant to sit behind Async.
type RedisSink struct {
	client  redis.UniversalClient
	stream  string
	maxLen  int64
	timeout time.Duration
}

func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "presence:audit"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen, timeout: 2 * time.Second}, nil
}

func (s *RedisSink) Record(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("module", "audit.redis").Msg("marshal record")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":   string(r.Kind),
			"record": string(data),
		},
	}).Err()
	if err != nil {
		log.Error().Err(err).Str("module", "audit.redis").Str("kind", string(r.Kind)).Msg("xadd failed")
	}
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
