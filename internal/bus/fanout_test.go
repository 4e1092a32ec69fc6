package bus

import (
	"context"
	"testing"
	"time"

	"copy-systemv1/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.CopyExecutedEvent, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.CopyExecutedEvent{
		CopyOrderID:   7,
		FollowerID:    "f1",
		LeaderTradeID: "t1",
		Symbol:        "AAPL",
		Side:          model.SideBuy,
		Qty:           4,
		Status:        model.OutcomePlaced,
	}

	for name, out := range map[string]<-chan model.CopyExecutedEvent{"out1": out1, "out2": out2} {
		select {
		case ev := <-out:
			if ev.CopyOrderID != 7 {
				t.Errorf("%s: expected order 7, got %d", name, ev.CopyOrderID)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for event", name)
		}
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New(1)
	slow := fo.Subscribe()

	dropped := make(chan int, 10)
	fo.OnDrop = func(idx int) { dropped <- idx }

	input := make(chan model.CopyExecutedEvent, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	// Two events into a buffer of one with no reader: the second must drop.
	input <- model.CopyExecutedEvent{CopyOrderID: 1}
	input <- model.CopyExecutedEvent{CopyOrderID: 2}

	select {
	case idx := <-dropped:
		if idx != 0 {
			t.Errorf("dropped subscriber idx = %d, want 0", idx)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drop callback")
	}

	select {
	case ev := <-slow:
		if ev.CopyOrderID != 1 {
			t.Errorf("first buffered event = %d, want 1", ev.CopyOrderID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out reading buffered event")
	}
}

func TestFanOut_ClosesSubscribersOnInputClose(t *testing.T) {
	fo := New(1)
	out := fo.Subscribe()

	input := make(chan model.CopyExecutedEvent)
	go fo.Run(context.Background(), input)
	close(input)

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}
}
