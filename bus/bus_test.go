package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabrelay/event"
)

func ev(ts uint64) event.EditEvent {
	return event.EditEvent{DocID: "d1", UserID: "u1", Operation: "insert", Timestamp: ts}
}

func TestEverySubscriberReceivesPublishedEvents(t *testing.T) {
	b := New(10)
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer b.Unsubscribe(s1)
	defer b.Unsubscribe(s2)

	b.Publish(ev(1))
	b.Publish(ev(2))

	for _, s := range []*Subscription{s1, s2} {
		assert.Equal(t, uint64(1), (<-s.C()).Timestamp)
		assert.Equal(t, uint64(2), (<-s.C()).Timestamp)
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New(2)
	slow := b.Subscribe()
	fast := b.Subscribe()
	defer b.Unsubscribe(slow)
	defer b.Unsubscribe(fast)

	b.Publish(ev(1))
	b.Publish(ev(2))
	// The fast subscriber keeps up.
	assert.Equal(t, uint64(1), (<-fast.C()).Timestamp)
	assert.Equal(t, uint64(2), (<-fast.C()).Timestamp)

	b.Publish(ev(3)) // evicts 1 from slow's full buffer
	assert.Equal(t, uint64(3), (<-fast.C()).Timestamp)

	assert.Equal(t, uint64(2), (<-slow.C()).Timestamp)
	assert.Equal(t, uint64(3), (<-slow.C()).Timestamp)
	assert.Equal(t, uint64(1), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
}

func TestNewSubscriberSeesNoHistory(t *testing.T) {
	b := New(10)
	early := b.Subscribe()
	defer b.Unsubscribe(early)
	b.Publish(ev(1))

	late := b.Subscribe()
	defer b.Unsubscribe(late)
	b.Publish(ev(2))

	assert.Equal(t, uint64(2), (<-late.C()).Timestamp)
	select {
	case e := <-late.C():
		t.Fatalf("late subscriber saw history: %+v", e)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(10)
	s := b.Subscribe()
	b.Unsubscribe(s)
	_, open := <-s.C()
	require.False(t, open)
	// Repeat unsubscribe and publish-after-unsubscribe are harmless.
	b.Unsubscribe(s)
	b.Publish(ev(1))
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New(1)
	s := b.Subscribe()
	defer b.Unsubscribe(s)
	for i := 0; i < 1000; i++ {
		b.Publish(ev(uint64(i)))
	}
	assert.Equal(t, uint64(999), (<-s.C()).Timestamp)
	assert.Equal(t, uint64(999), s.Dropped())
}
