package stream

import (
	"context"
	"log"
	"time"

	"collabrelay/event"
)

// Sink receives a copy of every committed edit. Delivery is best-effort; the
// consumer logs failures and moves on.
type Sink interface {
	Notify(ctx context.Context, ev event.EditEvent) error
}

// Archiver records committed edits durably for later inspection. Optional and
// best-effort, like the sink.
type Archiver interface {
	Save(ctx context.Context, ev event.EditEvent) error
}

// Publisher is the live fan-out side, satisfied by *bus.Bus.
type Publisher interface {
	Publish(ev event.EditEvent)
}

const (
	minBackoff = 250 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Consumer tails the log and fans each committed edit out to the sink, the
// archive, and the broadcast bus. Exactly one Consumer runs per process.
type Consumer struct {
	source  Source
	sink    Sink
	archive Archiver
	pub     Publisher

	// retry window for a broken log stream, overridable in tests
	minDelay time.Duration
	maxDelay time.Duration
}

// NewConsumer wires the fan-out loop. sink and archive may be nil.
func NewConsumer(source Source, sink Sink, archive Archiver, pub Publisher) *Consumer {
	return &Consumer{
		source:   source,
		sink:     sink,
		archive:  archive,
		pub:      pub,
		minDelay: minBackoff,
		maxDelay: maxBackoff,
	}
}

// Run tails the log from its earliest retained entry until ctx is cancelled.
// A failed read retries with exponential backoff and resumes from the last
// delivered entry; a record that fails to decode is skipped. Neither
// condition ever terminates the loop.
func (c *Consumer) Run(ctx context.Context) {
	from := EarliestID
	delay := c.minDelay
	for {
		if ctx.Err() != nil {
			return
		}
		entries, err := c.source.Read(ctx, from)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Log read failed (resuming from %s in %v): %v", from, delay, err)
			if !sleep(ctx, delay) {
				return
			}
			delay = min(delay*2, c.maxDelay)
			continue
		}
		delay = c.minDelay
		for _, e := range entries {
			from = e.ID
			c.dispatch(ctx, e)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, e Entry) {
	ev, err := event.DecodeEditEvent(e.Payload)
	if err != nil {
		log.Printf("Skipping undecodable log entry %s: %v", e.ID, err)
		return
	}
	if c.sink != nil {
		if err := c.sink.Notify(ctx, ev); err != nil {
			log.Printf("Webhook notify failed for entry %s: %v", e.ID, err)
		}
	}
	if c.archive != nil {
		if err := c.archive.Save(ctx, ev); err != nil {
			log.Printf("Archiving entry %s failed: %v", e.ID, err)
		}
	}
	c.pub.Publish(ev)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
