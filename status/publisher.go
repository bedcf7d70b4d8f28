// Package status fans rolling capture statistics out to external consumers.
//
// The server reports a stats snapshot on a fixed interval; a Publisher
// forwards each snapshot to monitoring dashboards or recording pipelines
// without touching the capture hot path. Publish failures are reported to
// the caller and must never stop the capture itself.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phonesplat/capture/capture"
)

const (
	// DefaultChannel is the Redis pub/sub channel stats snapshots are
	// published to.
	DefaultChannel = "capture:stats"

	// defaultPingTimeout bounds the connectivity check in the constructor.
	defaultPingTimeout = 5 * time.Second
)

// Publisher forwards a stats snapshot to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, stats capture.Stats) error
	Close() error
}

// RedisPublisher publishes stats snapshots as JSON to a Redis pub/sub
// channel. Suitable for live dashboards that subscribe to the channel.
type RedisPublisher struct {
	client     *redis.Client
	channel    string
	ownsClient bool
}

var _ Publisher = (*RedisPublisher)(nil)

// Option configures a RedisPublisher.
type Option func(*RedisPublisher)

// WithChannel sets the pub/sub channel name.
// Default is "capture:stats".
func WithChannel(channel string) Option {
	return func(p *RedisPublisher) {
		p.channel = channel
	}
}

// WithClient uses an existing Redis client instead of dialing addr. The
// caller keeps ownership; Close will not close an injected client.
func WithClient(client *redis.Client) Option {
	return func(p *RedisPublisher) {
		p.client = client
		p.ownsClient = false
	}
}

// NewRedisPublisher creates a publisher connected to the Redis server at
// addr. The connection is verified with a ping before returning.
//
// Example:
//
//	pub, err := status.NewRedisPublisher(
//	    "localhost:6379",
//	    status.WithChannel("capture:stats"),
//	)
func NewRedisPublisher(addr string, opts ...Option) (*RedisPublisher, error) {
	pub := &RedisPublisher{
		channel: DefaultChannel,
	}

	for _, opt := range opts {
		opt(pub)
	}

	if pub.client == nil {
		pub.client = redis.NewClient(&redis.Options{Addr: addr})
		pub.ownsClient = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()

	if err := pub.client.Ping(ctx).Err(); err != nil {
		if pub.ownsClient {
			_ = pub.client.Close()
		}
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return pub, nil
}

// Channel returns the pub/sub channel snapshots are published to.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish sends the stats snapshot as JSON to the configured channel.
func (p *RedisPublisher) Publish(ctx context.Context, stats capture.Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}

	return nil
}

// Close releases the Redis connection if the publisher owns it.
func (p *RedisPublisher) Close() error {
	if !p.ownsClient {
		return nil
	}
	return p.client.Close()
}
