// Package streams is a thin adapter over a Redis-Streams-compatible event
// log. It exposes exactly the operations the core needs — append with a
// length cap, consumer-group create/read, pending inspection, claim, ack —
// and translates backend failures into typed errors. Any log providing
// per-group cursors, explicit ack, and stale-claim transfer can satisfy the
// same contract.
package streams

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMaxLen is the approximate length cap applied when publishing.
const DefaultMaxLen = 10000

// initMaxLen caps the sentinel entry used to create an empty stream.
const initMaxLen = 1000

// Message is one stream entry: the log-assigned ID plus the wire mapping.
type Message struct {
	ID     string
	Values map[string]string
}

// PendingEntry describes a delivered, not-yet-acknowledged entry.
type PendingEntry struct {
	MessageID     string
	Consumer      string
	Idle          time.Duration
	DeliveryCount int64
}

// GroupInfo summarizes one consumer group on a stream.
type GroupInfo struct {
	Name          string
	Consumers     int64
	Pending       int64
	LastDelivered string
}

// Info summarizes a stream and its consumer groups.
type Info struct {
	Stream string
	Length int64
	Exists bool
	Groups []GroupInfo
}

// Client performs stream operations against a Redis-compatible backend.
type Client struct {
	rdb redis.UniversalClient
}

// NewClient wraps a connected Redis client.
func NewClient(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// EnsureStream creates the stream if it does not exist by appending a
// sentinel entry under a length cap. The sentinel is trimmed away as real
// events arrive.
func (c *Client) EnsureStream(ctx context.Context, stream string) error {
	exists, err := c.rdb.Exists(ctx, stream).Result()
	if err != nil {
		return &StreamError{Op: "ensure", Stream: stream, Err: err}
	}
	if exists > 0 {
		return nil
	}

	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: initMaxLen,
		Approx: true,
		Values: map[string]any{
			"_init":     "true",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return &StreamError{Op: "ensure", Stream: stream, Err: err}
	}

	slog.Info("Created stream", "stream", stream)
	return nil
}

// CreateGroup creates a consumer group on the stream, creating the stream
// itself if needed. Returns true when the group was newly created and false
// when it already existed (BUSYGROUP).
func (c *Client) CreateGroup(ctx context.Context, stream, group, start string) (bool, error) {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Debug("Consumer group already exists", "stream", stream, "group", group)
			return false, nil
		}
		return false, &ConsumerGroupError{Stream: stream, Group: group, Err: err}
	}

	slog.Info("Created consumer group", "stream", stream, "group", group)
	return true, nil
}

// InitializeGroups ensures the stream exists and creates each group reading
// from the beginning. Idempotent; the result maps group name to whether it
// was newly created.
func (c *Client) InitializeGroups(ctx context.Context, stream string, groups []string) (map[string]bool, error) {
	if err := c.EnsureStream(ctx, stream); err != nil {
		return nil, err
	}

	results := make(map[string]bool, len(groups))
	for _, group := range groups {
		created, err := c.CreateGroup(ctx, stream, group, "0")
		if err != nil {
			return nil, err
		}
		results[group] = created
	}
	return results, nil
}

// Publish appends a wire mapping to the stream with approximate trimming to
// maxLen and returns the assigned entry ID. maxLen <= 0 uses DefaultMaxLen.
func (c *Client) Publish(ctx context.Context, stream string, values map[string]string, maxLen int64) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	args := make(map[string]any, len(values))
	for k, v := range values {
		args[k] = v
	}

	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: args,
	}).Result()
	if err != nil {
		return "", &StreamError{Op: "publish", Stream: stream, Err: err}
	}
	return id, nil
}

// ReadGroup reads up to count undelivered entries for the consumer. A
// negative block disables blocking; otherwise the call blocks up to the
// given duration. An empty read returns an empty slice, not an error.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}

	result, err := c.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, &StreamError{Op: "read", Stream: stream, Err: err}
	}

	var messages []Message
	for _, s := range result {
		for _, m := range s.Messages {
			messages = append(messages, Message{ID: m.ID, Values: stringValues(m.Values)})
		}
	}
	return messages, nil
}

// Ack acknowledges an entry for the group. Returns true when the entry was
// pending and is now acknowledged.
func (c *Client) Ack(ctx context.Context, stream, group, id string) (bool, error) {
	n, err := c.rdb.XAck(ctx, stream, group, id).Result()
	if err != nil {
		return false, &StreamError{Op: "ack", Stream: stream, Err: err}
	}
	return n > 0, nil
}

// Pending lists up to count pending entries for the group, optionally
// filtered to one consumer.
func (c *Client) Pending(ctx context.Context, stream, group string, count int64, consumer string) ([]PendingEntry, error) {
	args := &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}
	if consumer != "" {
		args.Consumer = consumer
	}

	result, err := c.rdb.XPendingExt(ctx, args).Result()
	if err != nil {
		return nil, &StreamError{Op: "pending", Stream: stream, Err: err}
	}

	entries := make([]PendingEntry, 0, len(result))
	for _, p := range result {
		entries = append(entries, PendingEntry{
			MessageID:     p.ID,
			Consumer:      p.Consumer,
			Idle:          p.Idle,
			DeliveryCount: p.RetryCount,
		})
	}
	return entries, nil
}

// PendingCount returns the group's total pending-entry count. This feeds
// observability surfaces only, so backend errors are logged and reported
// as zero rather than raised.
func (c *Client) PendingCount(ctx context.Context, stream, group string) int64 {
	result, err := c.rdb.XPending(ctx, stream, group).Result()
	if err != nil {
		slog.Warn("Failed to get pending count", "stream", stream, "group", group, "error", err)
		return 0
	}
	return result.Count
}

// Claim transfers ownership of the given pending entries to consumer,
// provided they have been idle at least minIdle. Only entries actually
// reassigned are returned, with their wire data.
func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	result, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, &StreamError{Op: "claim", Stream: stream, Err: err}
	}

	var messages []Message
	for _, m := range result {
		if len(m.Values) == 0 {
			continue
		}
		messages = append(messages, Message{ID: m.ID, Values: stringValues(m.Values)})
	}
	return messages, nil
}

// Info returns stream length and per-group statistics. A missing stream
// yields a zero-value Info with Exists=false rather than an error.
func (c *Client) Info(ctx context.Context, stream string) (*Info, error) {
	streamInfo, err := c.rdb.XInfoStream(ctx, stream).Result()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return &Info{Stream: stream, Exists: false, Groups: []GroupInfo{}}, nil
		}
		return nil, &StreamError{Op: "info", Stream: stream, Err: err}
	}

	groups, err := c.rdb.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return nil, &StreamError{Op: "info", Stream: stream, Err: err}
	}

	info := &Info{
		Stream: stream,
		Length: streamInfo.Length,
		Exists: true,
		Groups: make([]GroupInfo, 0, len(groups)),
	}
	for _, g := range groups {
		info.Groups = append(info.Groups, GroupInfo{
			Name:          g.Name,
			Consumers:     g.Consumers,
			Pending:       g.Pending,
			LastDelivered: g.LastDeliveredID,
		})
	}
	return info, nil
}

func stringValues(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = fmt.Sprint(v)
	}
	return out
}
