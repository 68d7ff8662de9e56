package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shopfloor/pkg/models"
)

const enqueueChannel = "jobs:enqueued"

// Notifier wakes idle workers over Redis pub/sub when a job is enqueued.
// Delivery is best-effort: the worker's poll interval covers any missed
// signal, so a Redis outage degrades latency, not correctness.
type Notifier struct {
	client *redis.Client
}

// NotifierConfig holds Redis connection configuration.
type NotifierConfig struct {
	Addr         string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultNotifierConfig returns production defaults.
func DefaultNotifierConfig(addr string) NotifierConfig {
	return NotifierConfig{
		Addr:         addr,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewNotifier initializes a Redis client with default config.
func NewNotifier(addr string) (*Notifier, error) {
	return NewNotifierWithConfig(DefaultNotifierConfig(addr))
}

// NewNotifierWithConfig initializes a Redis client with custom config.
func NewNotifierWithConfig(cfg NotifierConfig) (*Notifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Notifier{client: client}, nil
}

func (n *Notifier) Close() error {
	return n.client.Close()
}

// NotifyEnqueued publishes an enqueue signal carrying the job type.
func (n *Notifier) NotifyEnqueued(ctx context.Context, jobType models.JobType) error {
	if err := n.client.Publish(ctx, enqueueChannel, string(jobType)).Err(); err != nil {
		return fmt.Errorf("failed to publish enqueue signal: %w", err)
	}
	return nil
}

// Wake subscribes to the enqueue channel and returns a channel that
// receives one value per signal. The subscription ends when ctx is done.
func (n *Notifier) Wake(ctx context.Context) (<-chan struct{}, error) {
	sub := n.client.Subscribe(ctx, enqueueChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer sub.Close()
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default: // A pending wake already covers this signal
				}
			}
		}
	}()
	return out, nil
}
