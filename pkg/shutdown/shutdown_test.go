package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestShutdown_RunsAllCallbacks(t *testing.T) {
	mgr := NewManager()

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 3; i++ {
		mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	mgr.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	if ran != 3 {
		t.Fatalf("expected 3 callbacks to run, ran %d", ran)
	}
}

func TestWaitAndShutdown_HaltChannel(t *testing.T) {
	mgr := NewManager()

	done := make(chan struct{})
	mgr.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		close(done)
	})

	// halt 通道已关闭：不等信号，直接进入关闭流程
	halt := make(chan struct{})
	close(halt)
	mgr.WaitAndShutdown(halt, time.Second)

	select {
	case <-done:
	default:
		t.Fatalf("expected shutdown callbacks to run after halt")
	}
}
