package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"loanflow/internal/logging"
)

// BodyField is the stream entry field holding the message payload.
const BodyField = "body"

// RedisStream is a Queue backed by a Redis stream and a consumer group.
// Entries read but never acknowledged stay in the group's pending list and
// are reclaimed once they have been idle for the claim interval.
type RedisStream struct {
	client    redis.Cmdable
	stream    string
	group     string
	consumer  string
	block     time.Duration
	claimIdle time.Duration
	logger    *logging.Logger
}

var _ Queue = (*RedisStream)(nil)

// Option configures a RedisStream.
type Option func(*RedisStream)

// WithConsumer sets the consumer name within the group. It defaults to
// hostname-pid.
func WithConsumer(name string) Option {
	return func(q *RedisStream) {
		if name != "" {
			q.consumer = name
		}
	}
}

// WithBlock sets how long Receive waits for a new entry.
func WithBlock(d time.Duration) Option {
	return func(q *RedisStream) { q.block = d }
}

// WithClaimIdle sets how long an entry must sit unacknowledged before
// another Receive reclaims it. Zero disables reclaiming.
func WithClaimIdle(d time.Duration) Option {
	return func(q *RedisStream) { q.claimIdle = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *RedisStream) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewRedisStream creates a RedisStream. The caller owns the client. Call
// EnsureGroup before receiving.
func NewRedisStream(client redis.Cmdable, stream, group string, opts ...Option) *RedisStream {
	host, _ := os.Hostname()
	q := &RedisStream{
		client:    client,
		stream:    stream,
		group:     group,
		consumer:  fmt.Sprintf("%s-%d", host, os.Getpid()),
		block:     5 * time.Second,
		claimIdle: time.Minute,
		logger:    logging.Nop(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// EnsureGroup creates the stream and the consumer group if they do not
// exist. A new group starts at the beginning of the stream so entries sent
// before the first consumer started are not lost.
func (q *RedisStream) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue/redis: create group %s on %s: %w", q.group, q.stream, err)
	}
	return nil
}

// Receive returns a reclaimed pending entry if one is due, otherwise waits
// for a new entry.
func (q *RedisStream) Receive(ctx context.Context) (*Message, error) {
	if q.claimIdle > 0 {
		msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.claimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("queue/redis: autoclaim: %w", err)
		}
		if len(msgs) > 0 {
			q.logger.Warn("Reclaimed unacknowledged message", "message_id", msgs[0].ID, "stream", q.stream)
			m := toMessage(msgs[0])
			m.Redelivered = true
			return m, nil
		}
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    q.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("queue/redis: read group: %w", err)
	}
	for _, s := range streams {
		if len(s.Messages) > 0 {
			return toMessage(s.Messages[0]), nil
		}
	}
	return nil, nil
}

// Ack acknowledges msg and trims it from the stream.
func (q *RedisStream) Ack(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("queue/redis: ack nil message")
	}
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, msg.ID)
	pipe.XDel(ctx, q.stream, msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: ack %s: %w", msg.ID, err)
	}
	return nil
}

// Send appends body to the stream.
func (q *RedisStream) Send(ctx context.Context, body string) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{BodyField: body},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("queue/redis: send: %w", err)
	}
	return id, nil
}

// Pending reports how many entries the group has delivered but not yet
// acknowledged.
func (q *RedisStream) Pending(ctx context.Context) (int64, error) {
	p, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		return 0, fmt.Errorf("queue/redis: pending: %w", err)
	}
	return p.Count, nil
}

// Ping verifies the Redis connection is alive.
func (q *RedisStream) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func toMessage(x redis.XMessage) *Message {
	body, _ := x.Values[BodyField].(string)
	return &Message{ID: x.ID, Body: body}
}
