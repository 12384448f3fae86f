package events

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archivemaps/georef-pipeline/internal/config"
	"github.com/archivemaps/georef-pipeline/pkg/logger"
)

const (
	consumerBlock = 5 * time.Second
	fieldStore    = "store"
	fieldKey      = "key"
	fieldTS       = "ts"

	// Entries pending longer than claimMinIdle are assumed abandoned (crashed
	// worker, or a deliberately unacked delivery) and get claimed for
	// redelivery. Must comfortably exceed the longest stage time budget.
	claimMinIdle = 10 * time.Minute
	// claimInterval spaces out XAUTOCLAIM scans between reads.
	claimInterval = 30 * time.Second
)

// RedisQueue is a Redis Streams implementation of Publisher and Source.
// A consumer group gives at-least-once delivery: entries are acked only after
// the stage invocation completes, and entries left pending past claimMinIdle
// are claimed back and redelivered.
type RedisQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string

	claimMu     sync.Mutex
	claimCursor string
	nextClaim   time.Time
}

func NewRedisQueue(cfg config.QueueConfig, consumer string) (*RedisQueue, error) {
	opts, err := buildRedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	// Create the consumer group if it does not exist yet.
	err = client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &RedisQueue{
		client:      client,
		stream:      cfg.Stream,
		group:       cfg.Group,
		consumer:    consumer,
		claimCursor: "0-0",
	}, nil
}

func buildRedisOptions(cfg config.QueueConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opt, nil
	}

	host := cfg.RedisHost
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.RedisPort
	if port == "" {
		port = "6379"
	}

	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

func (q *RedisQueue) Publish(ctx context.Context, n Notification) error {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			fieldStore: n.Store,
			fieldKey:   n.Key,
			fieldTS:    ts.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish notification for %s: %w", n.Key, err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if msg, ok := q.claimAbandoned(ctx); ok {
			return q.delivery(msg), nil
		}

		res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    consumerBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Block timed out with nothing pending; poll again.
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			continue
		}
		return q.delivery(res[0].Messages[0]), nil
	}
}

// claimAbandoned scans the group's pending entries every claimInterval and
// claims one that has sat unacked past claimMinIdle. XREADGROUP with ">" only
// ever returns never-delivered entries, so without this a crashed worker's
// deliveries (or one left unacked because its error record could not be
// written) would stay stranded in the pending list forever.
func (q *RedisQueue) claimAbandoned(ctx context.Context) (redis.XMessage, bool) {
	q.claimMu.Lock()
	now := time.Now()
	if now.Before(q.nextClaim) {
		q.claimMu.Unlock()
		return redis.XMessage{}, false
	}
	cursor := q.claimCursor
	q.claimMu.Unlock()

	msgs, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  claimMinIdle,
		Start:    cursor,
		Count:    1,
	}).Result()

	q.claimMu.Lock()
	defer q.claimMu.Unlock()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.Log.Warn().Err(err).Str("stream", q.stream).Msg("autoclaim failed")
		}
		q.nextClaim = now.Add(claimInterval)
		return redis.XMessage{}, false
	}

	q.claimCursor = next
	if len(msgs) == 0 {
		q.nextClaim = now.Add(claimInterval)
		return redis.XMessage{}, false
	}
	// More entries may be waiting; keep claiming on the next Receive.
	return msgs[0], true
}

func (q *RedisQueue) delivery(msg redis.XMessage) *Delivery {
	id := msg.ID
	return &Delivery{
		Notification: notificationFromValues(msg.Values),
		Ack: func(ctx context.Context) error {
			return q.client.XAck(ctx, q.stream, q.group, id).Err()
		},
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func notificationFromValues(values map[string]interface{}) Notification {
	n := Notification{
		Store: stringField(values, fieldStore),
		Key:   stringField(values, fieldKey),
	}
	if raw := stringField(values, fieldTS); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			n.Timestamp = ts
		}
	}
	return n
}

func stringField(values map[string]interface{}, field string) string {
	if v, ok := values[field].(string); ok {
		return v
	}
	return ""
}
