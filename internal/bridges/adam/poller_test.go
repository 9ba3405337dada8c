package adam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedSource struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *scriptedSource) ReadCounters(context.Context) ([]CounterReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return nil, ErrConnectionFailed
	}
	return []CounterReading{{Channel: 0, MachineID: "SR-22", Count: uint64(s.calls), Present: true}}, nil
}

func (s *scriptedSource) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func TestPoller_PollOnceTracksOnline(t *testing.T) {
	src := &scriptedSource{}
	p := NewPoller(src, time.Second)

	var errs []error
	p.SetOnError(func(err error) { errs = append(errs, err) })

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error: %v", err)
	}
	if !p.IsOnline() {
		t.Error("IsOnline() = false after successful poll")
	}

	src.setFail(true)
	if _, err := p.PollOnce(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("PollOnce() error = %v, want ErrConnectionFailed", err)
	}
	if p.IsOnline() {
		t.Error("IsOnline() = true after failed poll")
	}
	if len(errs) != 1 {
		t.Errorf("onError called %d times, want 1", len(errs))
	}

	// Latest keeps the last good readings.
	latest, _ := p.Latest()
	if len(latest) != 1 || latest[0].Count != 1 {
		t.Errorf("Latest() = %+v, want the first poll's readings", latest)
	}

	stats := p.Stats()
	if stats.Polls != 2 || stats.Failures != 1 || stats.LastError == "" {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	src := &scriptedSource{}
	p := NewPoller(src, 20*time.Millisecond)

	got := make(chan []CounterReading, 16)
	p.SetOnReadings(func(r []CounterReading) {
		select {
		case got <- r:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for poll %d", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
