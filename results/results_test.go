package results

import (
	"errors"
	"sync"
	"testing"

	"github.com/risa-org/chatlink/message"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func delivered(id message.MessageID) Item {
	return Item{RequestID: message.NewRequestID(), Result: message.Delivered{MessageID: id}}
}

func TestDrainReturnsOldestFirst(t *testing.T) {
	c := New()
	for i := 1; i <= 5; i++ {
		if err := c.Send(delivered(message.MessageID(i))); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	items := c.Drain()
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	for i, item := range items {
		got := item.Result.(message.Delivered).MessageID
		if got != message.MessageID(i+1) {
			t.Errorf("position %d: expected message %d, got %d", i, i+1, got)
		}
	}
	if c.Len() != 0 {
		t.Errorf("expected empty channel after drain, got %d", c.Len())
	}
}

func TestDrainEmptyReturnsNil(t *testing.T) {
	c := New()
	if items := c.Drain(); items != nil {
		t.Errorf("expected nil from empty drain, got %v", items)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	c := New()
	_ = c.Send(delivered(1))
	c.Close()

	err := c.Send(delivered(2))
	if !errors.Is(err, message.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	if message.KindOf(err) != message.KindChannelClosed {
		t.Errorf("expected KindChannelClosed, got %v", message.KindOf(err))
	}
	if items := c.Drain(); items != nil {
		t.Errorf("expected pending items discarded on close, got %d", len(items))
	}
	if !c.Closed() {
		t.Error("expected Closed to report true")
	}

	// second close is harmless
	c.Close()
}

func TestReadySignalsPendingItems(t *testing.T) {
	c := New()

	select {
	case <-c.Ready():
		t.Fatal("ready fired with nothing pending")
	default:
	}

	_ = c.Send(delivered(1))
	_ = c.Send(delivered(2))

	select {
	case <-c.Ready():
	default:
		t.Fatal("expected ready after send")
	}

	// the token was consumed above; drain still sees both items
	if n := len(c.Drain()); n != 2 {
		t.Errorf("expected 2 items, got %d", n)
	}
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	c := New()
	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				// encode producer and sequence into the message id
				_ = c.Send(delivered(message.MessageID(p*10000 + i)))
			}
		}(p)
	}
	wg.Wait()

	items := c.Drain()
	if len(items) != producers*perProducer {
		t.Fatalf("expected %d items, got %d", producers*perProducer, len(items))
	}

	last := make(map[int]int)
	for p := 0; p < producers; p++ {
		last[p] = -1
	}
	for _, item := range items {
		id := int(item.Result.(message.Delivered).MessageID)
		p, seq := id/10000, id%10000
		if seq <= last[p] {
			t.Fatalf("producer %d out of order: %d after %d", p, seq, last[p])
		}
		last[p] = seq
	}
}

func TestHighWaterWarnsOncePerCrossing(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := New(WithLogger(zap.New(core)), WithHighWater(3))

	for i := 0; i < 6; i++ {
		_ = c.Send(delivered(message.MessageID(i)))
	}
	if n := logs.Len(); n != 1 {
		t.Fatalf("expected one warning while above high water, got %d", n)
	}

	c.Drain()
	for i := 0; i < 3; i++ {
		_ = c.Send(delivered(message.MessageID(i)))
	}
	if n := logs.Len(); n != 2 {
		t.Errorf("expected a second warning after drain and refill, got %d", n)
	}
}
