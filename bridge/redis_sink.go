package libsimconnect_bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	error_code "github.com/atframework/libsimconnect-go/error_code"
	libsimconnect_log "github.com/atframework/libsimconnect-go/log"
)

// Sink receives serialized updates.
type Sink interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

type RedisLog struct {
	logger *slog.Logger
}

func (l *RedisLog) Printf(ctx context.Context, format string, v ...interface{}) {
	libsimconnect_log.LogInner(l.logger, time.Now(), libsimconnect_log.GetCaller(1), ctx, slog.LevelInfo, fmt.Sprintf(format, v...))
}

type RedisSinkOptions struct {
	Address  string
	Password string
	DB       int
	Channel  string
	PoolSize int
}

// RedisSink publishes every update to a Redis pub/sub channel.
type RedisSink struct {
	log RedisLog

	channel       string
	redisInstance *redis.Client

	published atomic.Uint64
	receivers atomic.Int64
}

// NewRedisSink connects and pings the server before returning.
func NewRedisSink(ctx context.Context, opts RedisSinkOptions, logger *slog.Logger) (*RedisSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Address == "" {
		logger.Error("redis address is empty")
		return nil, fmt.Errorf("redis address: %w", error_code.EN_SIMCONNECT_ERR_PARAMS)
	}
	if opts.Channel == "" {
		opts.Channel = "simconnect"
	}

	ret := &RedisSink{
		log:     RedisLog{logger: logger},
		channel: opts.Channel,
	}
	redis.SetLogger(&ret.log)
	ret.redisInstance = redis.NewClient(&redis.Options{
		Addr:            opts.Address,
		Password:        opts.Password,
		DB:              opts.DB,
		PoolSize:        opts.PoolSize,
		Protocol:        2,
		DisableIdentity: true,
	})

	if _, err := ret.redisInstance.Ping(ctx).Result(); err != nil {
		logger.Error("check redis client failed", "address", opts.Address, "err", err)
		ret.redisInstance.Close()
		return nil, err
	}
	return ret, nil
}

func (s *RedisSink) Name() string { return "redis:" + s.channel }

func (s *RedisSink) Publish(ctx context.Context, payload []byte) error {
	if s.redisInstance == nil {
		return error_code.EN_SIMCONNECT_ERR_CHANNEL_CLOSING
	}

	n, err := s.redisInstance.Publish(ctx, s.channel, payload).Result()
	if err != nil {
		return err
	}
	s.published.Add(1)
	s.receivers.Store(n)
	return nil
}

// Published returns the number of successful publishes.
func (s *RedisSink) Published() uint64 {
	return s.published.Load()
}

// Receivers returns the subscriber count reported by the last publish.
func (s *RedisSink) Receivers() int64 {
	return s.receivers.Load()
}

func (s *RedisSink) GetRedisInstance() *redis.Client {
	if s == nil {
		return nil
	}
	return s.redisInstance
}

func (s *RedisSink) Close() error {
	if s.redisInstance == nil {
		return nil
	}
	err := s.redisInstance.Close()
	s.redisInstance = nil
	return err
}
