package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func TestDoSucceedsAfterRetries(t *testing.T) {
	p := NewPolicy("test", 3, nil, nil)
	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoExhausted(t *testing.T) {
	p := NewPolicy("test", 2, []time.Duration{time.Millisecond}, nil)
	calls := 0
	err := p.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return errFlaky
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("Expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, errFlaky) {
		t.Errorf("Expected last error to be wrapped, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	p := NewPolicy("test", 5, nil, nil).WithRetryable(func(err error) bool {
		return !errors.Is(err, permanent)
	})
	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || errors.Is(err, ErrExhausted) {
		t.Errorf("Expected the permanent error unwrapped by retry, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDoHonoursCancellationDuringBackoff(t *testing.T) {
	p := NewPolicy("test", 3, []time.Duration{time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "op", func(ctx context.Context) error { return errFlaky })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Do to return promptly after cancel")
	}
}

func TestDoEndsBackoffOnStop(t *testing.T) {
	p := NewPolicy("test", 3, []time.Duration{time.Hour}, nil)
	stop := make(chan struct{})
	ctx := WithStop(context.Background(), stop)

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "op", func(ctx context.Context) error {
			calls++
			return errFlaky
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) || !errors.Is(err, errFlaky) {
			t.Errorf("Expected ErrStopped wrapping the last error, got %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected no attempt after stop, got %d calls", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Do to return promptly after stop")
	}
}

func TestDoWithoutStopSignal(t *testing.T) {
	if stopSignal(context.Background()) != nil {
		t.Error("Expected no stop channel on a plain context")
	}
}

func TestDelayRepeatsLastBackoff(t *testing.T) {
	p := NewPolicy("test", 5, []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}, nil)
	want := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second, 120 * time.Second}
	for i, w := range want {
		if got := p.delay(i + 1); got != w {
			t.Errorf("Expected delay %v after attempt %d, got %v", w, i+1, got)
		}
	}
}

func TestGenericDo(t *testing.T) {
	p := NewPolicy("test", 2, nil, nil)
	calls := 0
	v, err := Do(context.Background(), p, "value", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("Expected 42, got %d (%v)", v, err)
	}
}
