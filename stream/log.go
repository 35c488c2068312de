// Package stream is the durable ordered log for committed edits, backed by a
// Redis Stream. The stream is the system's source of truth: an edit counts as
// committed once the append succeeds, and all fan-out happens by tailing the
// stream from its earliest retained entry.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"collabrelay/event"
)

// EarliestID is the read position addressing the oldest retained entry.
const EarliestID = "0-0"

const readBlock = 5 * time.Second
const readCount = 128

// Entry is one decoded-from-transport log record, still carrying its raw
// payload.
type Entry struct {
	ID      string
	DocID   string
	Payload []byte
}

// Appender is the write side of the log. The ingestion path appends; nothing
// else does.
type Appender interface {
	Append(ctx context.Context, ev event.EditEvent) error
}

// Source is the read side of the log, consumed by exactly one fan-out loop.
// Read returns entries strictly after `from` in log order, blocking briefly
// when the log is idle; an empty batch is not an error.
type Source interface {
	Read(ctx context.Context, from string) ([]Entry, error)
}

// RedisLog implements Appender and Source over one Redis Stream. All edits
// land on the single stream, so per-document submission order is preserved
// end to end.
type RedisLog struct {
	rdb   *redis.Client
	topic string
}

// NewRedisLog wraps an existing client. topic names the stream key.
func NewRedisLog(rdb *redis.Client, topic string) *RedisLog {
	return &RedisLog{rdb: rdb, topic: topic}
}

// Append commits one edit to the stream, keyed by its document id.
func (l *RedisLog) Append(ctx context.Context, ev event.EditEvent) error {
	err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: l.topic,
		Values: map[string]any{
			"doc_id":  ev.DocID,
			"payload": string(ev.Encode()),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("appending to %s: %w", l.topic, err)
	}
	return nil
}

// Read blocks up to a few seconds for entries after `from`. A block timeout
// yields an empty batch.
func (l *RedisLog) Read(ctx context.Context, from string) ([]Entry, error) {
	streams, err := l.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{l.topic, from},
		Count:   readCount,
		Block:   readBlock,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s from %s: %w", l.topic, from, err)
	}
	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			e := Entry{ID: msg.ID}
			if doc, ok := msg.Values["doc_id"].(string); ok {
				e.DocID = doc
			}
			if payload, ok := msg.Values["payload"].(string); ok {
				e.Payload = []byte(payload)
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Ping reports whether the log connection is usable.
func (l *RedisLog) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}
