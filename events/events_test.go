package events

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestBus_SequencesEvents(t *testing.T) {
	bus := NewBus()
	var rec Recorder
	bus.Subscribe(rec.Handle)

	first := bus.Publish(Event{Type: AuctionCreated, AuctionID: "a1"})
	second := bus.Publish(Event{Type: AuctionOpened, AuctionID: "a1"})

	check.Equal(t, uint64(1), first.Seq)
	check.Equal(t, uint64(2), second.Seq)
	check.Equal(t, uint64(2), bus.Seq())
	check.Equal(t, []Type{AuctionCreated, AuctionOpened}, rec.Types())
}

func TestBus_NilDropsEvents(t *testing.T) {
	var bus *Bus
	e := bus.Publish(Event{Type: LotReady})
	check.Equal(t, uint64(0), e.Seq)
}

func TestBus_ConcurrentPublishersGetGapFreeSequence(t *testing.T) {
	bus := NewBus()
	var rec Recorder
	bus.Subscribe(rec.Handle)

	var wg sync.WaitGroup
	for p := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				bus.Publish(Event{Type: BidAccepted, AuctionID: fmt.Sprintf("a%d", p)})
			}
		}()
	}
	wg.Wait()

	got := rec.Events()
	check.Equal(t, 200, len(got))
	seqs := make([]uint64, 0, len(got))
	last := make(map[string]uint64)
	for _, e := range got {
		seqs = append(seqs, e.Seq)
		// One publisher's events arrive in publish order.
		check.True(t, e.Seq > last[e.AuctionID])
		last[e.AuctionID] = e.Seq
	}
	slices.Sort(seqs)
	for i, seq := range seqs {
		check.Equal(t, uint64(i+1), seq)
	}
	check.Equal(t, uint64(200), bus.Seq())
}

func TestBus_SlowHandlerDoesNotBlockOtherPublishers(t *testing.T) {
	bus := NewBus()
	entered := make(chan struct{})
	release := make(chan struct{})
	bus.Subscribe(func(e Event) {
		if e.AuctionID == "a" {
			close(entered)
			<-release
		}
	})

	go bus.Publish(Event{Type: BidAccepted, AuctionID: "a"})
	<-entered

	done := make(chan Event, 1)
	go func() { done <- bus.Publish(Event{Type: BidAccepted, AuctionID: "b"}) }()

	select {
	case e := <-done:
		check.Equal(t, uint64(2), e.Seq)
	case <-time.After(2 * time.Second):
		t.Error("publish on b waited for a's handler")
	}
	close(release)
}

func TestQueue_DeliversInOrderOffThePublisher(t *testing.T) {
	var rec Recorder
	release := make(chan struct{})
	q := NewQueue(func(e Event) {
		<-release
		rec.Handle(e)
	})

	bus := NewBus()
	bus.Subscribe(q.Handle)
	for range 5 {
		// Returns although the handler is still blocked.
		bus.Publish(Event{Type: BidAccepted})
	}
	close(release)
	q.Flush()

	got := rec.Events()
	assert.Equal(t, 5, len(got))
	for i, e := range got {
		check.Equal(t, uint64(i+1), e.Seq)
	}
	q.Close()
}

func TestQueue_CloseDrainsBacklog(t *testing.T) {
	var rec Recorder
	q := NewQueue(rec.Handle)
	for range 100 {
		q.Handle(Event{Type: PriceTicked})
	}
	q.Close()
	check.Equal(t, 100, len(rec.Events()))

	q.Handle(Event{Type: PriceTicked})
	check.Equal(t, 100, len(rec.Events()))
}

func TestRecorder_OfType(t *testing.T) {
	var rec Recorder
	rec.Handle(Event{Type: BidAccepted, AuctionID: "a1"})
	rec.Handle(Event{Type: BidRejected, AuctionID: "a1"})
	rec.Handle(Event{Type: BidAccepted, AuctionID: "a2"})

	accepted := rec.OfType(BidAccepted)
	check.Equal(t, 2, len(accepted))
	check.Equal(t, "a2", accepted[1].AuctionID)
}

func TestHub_BroadcastAndUnsubscribe(t *testing.T) {
	hub := NewHub[int]()
	a := hub.Subscribe(4)
	b := hub.Subscribe(1)
	check.Equal(t, 2, hub.Len())

	hub.Broadcast(1)
	hub.Broadcast(2)

	check.Equal(t, 1, <-a.C())
	check.Equal(t, 2, <-a.C())
	// b's buffer held one value; the second was dropped.
	check.Equal(t, 1, <-b.C())
	check.Equal(t, 0, len(b.C()))

	hub.Unsubscribe(b)
	hub.Unsubscribe(b)
	_, open := <-b.C()
	check.False(t, open)
	check.Equal(t, 1, hub.Len())
}
