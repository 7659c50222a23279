package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kon-agent/kon/internal/agent"
)

func TestBusDeliversEventsInOrder(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sent := []agent.Event{
		{Type: agent.EventAgentStart, Seq: 1, Text: "hello"},
		{Type: agent.EventTextDelta, Seq: 2, Text: "hi"},
		{Type: agent.EventAgentEnd, Seq: 3},
	}
	for _, ev := range sent {
		if err := b.Emit(ev); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	for i, want := range sent {
		select {
		case got := <-events:
			if got.Type != want.Type || got.Seq != want.Seq || got.Text != want.Text {
				t.Errorf("event %d = %+v, want %+v", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Emit(agent.Event{Type: agent.EventTurnStart, Seq: 1}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	for name, ch := range map[string]<-chan agent.Event{"first": first, "second": second} {
		select {
		case ev := <-ch:
			if ev.Type != agent.EventTurnStart {
				t.Errorf("%s subscriber got %s, want turn_start", name, ev.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s subscriber got nothing", name)
		}
	}
}

func TestBusEmitWithoutSubscribersDoesNotBlock(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = b.Emit(agent.Event{Type: agent.EventTextDelta, Seq: uint64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked with no subscribers")
	}
}

func TestBusErrorTextSurvivesTransport(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Emit(agent.Event{Type: agent.EventError, Err: errors.New("test failure")}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Text != "test failure" {
			t.Errorf("error text = %q, want %q", ev.Text, "test failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
