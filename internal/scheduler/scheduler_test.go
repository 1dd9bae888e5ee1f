package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "calnotify/pkg/logx"
)

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, Config{Interval: time.Minute}, logx.Nop()); err == nil {
		t.Fatal("nil tick should fail")
	}
	noop := func(context.Context, time.Time) error { return nil }
	if _, err := New(noop, Config{Interval: 10 * time.Millisecond}, logx.Nop()); err == nil {
		t.Fatal("sub-second interval should fail")
	}
}

func TestRunImmediatelyAndStop(t *testing.T) {
	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	got := make(chan time.Time, 4)
	s, err := New(func(_ context.Context, now time.Time) error {
		got <- now
		return errors.New("calendar down")
	}, Config{Interval: time.Hour, RunImmediately: true, Now: func() time.Time { return fixed }}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case now := <-got:
		if !now.Equal(fixed) {
			t.Fatalf("tick now = %v", now)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("immediate tick did not run")
	}
	if next := s.Next(); next.IsZero() {
		t.Fatal("Next should be set while running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !s.Next().IsZero() {
		t.Fatal("Next should be zero after Stop")
	}
}

func TestTicksDoNotOverlap(t *testing.T) {
	var running, maxRunning, calls atomic.Int32
	release := make(chan struct{})
	s, err := New(func(context.Context, time.Time) error {
		calls.Add(1)
		n := running.Add(1)
		defer running.Add(-1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		<-release
		return nil
	}, Config{Interval: time.Second, RunImmediately: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Let at least one scheduled tick come due while the first still runs.
	time.Sleep(2200 * time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if maxRunning.Load() != 1 {
		t.Fatalf("overlapping ticks: max=%d", maxRunning.Load())
	}
	if calls.Load() != 1 {
		t.Fatalf("due ticks should be skipped while busy, calls=%d", calls.Load())
	}
}

func TestStopWaitsForImmediateTick(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	s, err := New(func(context.Context, time.Time) error {
		close(started)
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
		return nil
	}, Config{Interval: time.Hour, RunImmediately: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate tick did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Fatal("Stop returned while the immediate tick was still running")
	}
}

func TestStopBoundedByContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s, err := New(func(context.Context, time.Time) error {
		close(started)
		<-release
		return nil
	}, Config{Interval: time.Hour, RunImmediately: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer close(release)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}
}
