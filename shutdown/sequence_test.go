package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// --- Unit Tests ---

func TestDefaultConfig(t *testing.T) {
	if DefaultConfig().Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", DefaultConfig().Timeout)
	}
}

func TestSequence_PhaseOrder(t *testing.T) {
	seq := NewSequence(DefaultConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	seq.RegisterFunc("bus", PhaseRelease, record("bus"))
	seq.RegisterFunc("coordinator", PhaseStop, record("coordinator"))
	seq.RegisterFunc("engine", PhaseDetach, record("engine"))

	if err := seq.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	want := []string{"coordinator", "engine", "bus"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestSequence_SamePhaseConcurrent(t *testing.T) {
	seq := NewSequence(DefaultConfig())

	// Both handlers must be running at once for either to finish.
	var wg sync.WaitGroup
	wg.Add(2)
	handler := func(ctx context.Context) error {
		wg.Done()
		wg.Wait()
		return nil
	}
	seq.RegisterFunc("engine", PhaseDetach, handler)
	seq.RegisterFunc("index", PhaseDetach, handler)

	if err := seq.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

func TestSequence_FailuresDoNotStopOthers(t *testing.T) {
	seq := NewSequence(DefaultConfig())

	ran := false
	seq.RegisterFunc("engine", PhaseDetach, func(ctx context.Context) error {
		return fmt.Errorf("still subscribed")
	})
	seq.RegisterFunc("index", PhaseDetach, func(ctx context.Context) error {
		panic("index corrupted")
	})
	seq.RegisterFunc("bus", PhaseRelease, func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := seq.Shutdown(context.Background())
	if !errors.Is(err, ErrHandlerFailed) {
		t.Fatalf("err = %v, want ErrHandlerFailed", err)
	}
	if !ran {
		t.Error("later phases should run after a failure")
	}

	result := seq.Result()
	if result == nil || !result.Failed() {
		t.Fatal("result should record the failure")
	}
	failed := result.FailedHandlers()
	if len(failed) != 2 || failed[0] != "engine" || failed[1] != "index" {
		t.Errorf("FailedHandlers() = %v, want [engine index]", failed)
	}
}

func TestSequence_RunsOnce(t *testing.T) {
	seq := NewSequence(DefaultConfig())

	calls := 0
	seq.RegisterFunc("coordinator", PhaseStop, func(ctx context.Context) error {
		calls++
		return nil
	})

	seq.Shutdown(context.Background())
	if err := seq.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v, want first result (nil)", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	select {
	case <-seq.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestSequence_AlreadyInProgress(t *testing.T) {
	seq := NewSequence(DefaultConfig())

	entered := make(chan struct{})
	release := make(chan struct{})
	seq.RegisterFunc("slow", PhaseStop, func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	})

	go seq.Shutdown(context.Background())
	<-entered

	if err := seq.Shutdown(context.Background()); err != ErrAlreadyShutdown {
		t.Errorf("concurrent Shutdown = %v, want ErrAlreadyShutdown", err)
	}
	if seq.Err() != nil || seq.Result() != nil {
		t.Error("Err and Result should be empty before completion")
	}

	close(release)
	<-seq.Done()
}

func TestSequence_Timeout(t *testing.T) {
	seq := NewSequence(DefaultConfig())

	seq.RegisterFunc("slow", PhaseStop, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	later := false
	seq.RegisterFunc("bus", PhaseRelease, func(ctx context.Context) error {
		later = true
		return nil
	})

	err := seq.ShutdownWithTimeout(20 * time.Millisecond)
	if err != ErrTimeout {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if later {
		t.Error("phases after the deadline should be skipped")
	}
}

func TestSequence_OnProgress(t *testing.T) {
	var mu sync.Mutex
	var names []string
	cfg := DefaultConfig()
	cfg.OnProgress = func(hr HandlerResult) {
		mu.Lock()
		names = append(names, hr.Name)
		mu.Unlock()
	}
	seq := NewSequence(cfg)
	seq.RegisterFunc("a", PhaseStop, func(ctx context.Context) error { return nil })
	seq.RegisterFunc("b", PhaseRelease, func(ctx context.Context) error { return nil })

	seq.Shutdown(context.Background())

	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("progress = %v, want [a b]", names)
	}
}

func TestSequence_HandleSignalsStop(t *testing.T) {
	seq := NewSequence(DefaultConfig())
	stop := seq.HandleSignals()
	stop()
	stop()

	select {
	case <-seq.Done():
		t.Error("stopping the listener should not shut down")
	default:
	}
}
