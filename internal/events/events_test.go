package events

import "testing"

func TestPublishFansOut(t *testing.T) {
	b := NewBroadcaster()
	a := b.Subscribe()
	c := b.Subscribe()
	if b.Count() != 2 {
		t.Fatalf("count = %d", b.Count())
	}

	b.Publish(Event{Type: EventTree, DiskID: "d1", TreeVersion: 3})

	for _, ch := range []chan Event{a, c} {
		ev := <-ch
		if ev.Type != EventTree || ev.DiskID != "d1" || ev.TreeVersion != 3 {
			t.Errorf("event = %+v", ev)
		}
		if ev.Timestamp == 0 {
			t.Error("timestamp not filled in")
		}
	}
}

func TestPublishDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()

	// Overflow the buffer; Publish must not block.
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: EventNav})
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffered = %d, want full buffer %d", len(ch), cap(ch))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	if b.Count() != 0 {
		t.Errorf("count = %d", b.Count())
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: EventUsage})
}
