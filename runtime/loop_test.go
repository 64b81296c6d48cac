package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop, cancel
}

func TestLoop_RunsInPostOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		loop.Post(func() { got = append(got, i) })
	}
	if err := loop.Call(context.Background(), func() {}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got %v, want ascending order", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d functions, want 5", len(got))
	}
}

func TestLoop_PostFromLoopDoesNotBlock(t *testing.T) {
	loop, _ := startLoop(t)

	var wg sync.WaitGroup
	wg.Add(1)
	loop.Post(func() {
		for i := 0; i < 1000; i++ {
			loop.Post(func() {})
		}
		loop.Post(wg.Done)
	})

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("nested posts did not drain")
	}
}

func TestLoop_ClosedAfterCancel(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if loop.Post(func() {}) {
		t.Fatal("Post should fail after the loop closed")
	}
	if err := loop.Call(context.Background(), func() {}); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("Call = %v, want ErrLoopClosed", err)
	}
}
