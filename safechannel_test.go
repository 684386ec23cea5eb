package hive_mr3

import (
	"context"
	"testing"
	"time"
)

func TestSafeChannel_SendAfterClose(t *testing.T) {
	sc := NewSafeChannel[int](1)

	if !sc.Send(1) {
		t.Fatal("Send failed on an open channel with buffer room")
	}
	if err := sc.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if sc.Send(2) {
		t.Error("Send succeeded on a closed channel")
	}
	if err := sc.Close(); err == nil {
		t.Error("second Close did not report an error")
	}
}

func TestSafeChannel_SendBlockingHonoursContext(t *testing.T) {
	sc := NewSafeChannel[int](0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if sc.SendBlocking(ctx, 1) {
		t.Error("SendBlocking succeeded with no consumer")
	}

	sc2 := NewSafeChannel[int](0)
	done := make(chan bool, 1)
	go func() {
		done <- sc2.SendBlocking(context.Background(), 7)
	}()
	if got := <-sc2.GetChannel(); got != 7 {
		t.Errorf("received %d, want 7", got)
	}
	if !<-done {
		t.Error("SendBlocking reported failure after the value was consumed")
	}
}

func TestSafeChannel_RangeAfterClose(t *testing.T) {
	sc := NewSafeChannel[string](4)
	sc.Send("a")
	sc.Send("b")
	if err := sc.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	var got []string
	for v := range sc.GetChannel() {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("drained %v, want [a b]", got)
	}
}
