package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamPrefix = "docstream:"
	payloadField = "event"
)

// Redis is a Relay backed by one Redis stream per document. Entry IDs are
// assigned by XADD, trimming is approximate MAXLEN.
type Redis struct {
	client *redis.Client
	maxLen int64
	block  time.Duration
}

// NewRedis wraps an existing client. Non-positive arguments select the
// defaults.
func NewRedis(client *redis.Client, maxLen int, block time.Duration) *Redis {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if block <= 0 {
		block = DefaultBlock
	}
	return &Redis{client: client, maxLen: int64(maxLen), block: block}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string, maxLen int, block time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return NewRedis(client, maxLen, block), nil
}

func streamKey(docID string) string {
	return streamPrefix + docID
}

func (r *Redis) Publish(ctx context.Context, docID string, payload []byte) (string, error) {
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(docID),
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", streamKey(docID), err)
	}
	return id, nil
}

func (r *Redis) Consume(ctx context.Context, docID, cursor string, max int) ([]Entry, error) {
	if max <= 0 {
		max = 1
	}
	streams, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamKey(docID), cursor},
		Count:   int64(max),
		Block:   r.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", streamKey(docID), err)
	}

	return entriesFrom(streams), nil
}

// entriesFrom flattens an XREAD reply. A message without a string payload
// field is still returned, with an empty payload, so cursors move past it.
func entriesFrom(streams []redis.XStream) []Entry {
	var out []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			e := Entry{ID: msg.ID}
			if raw, ok := msg.Values[payloadField].(string); ok {
				e.Payload = []byte(raw)
			}
			out = append(out, e)
		}
	}
	return out
}

func (r *Redis) Tail(ctx context.Context, docID string) (string, error) {
	msgs, err := r.client.XRevRangeN(ctx, streamKey(docID), "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("tail %s: %w", streamKey(docID), err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
