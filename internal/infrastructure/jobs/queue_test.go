package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestInMemoryQueue_ProcessesJobs(t *testing.T) {
	var handled atomic.Int32
	done := make(chan struct{}, 8)
	q := NewInMemoryQueue(8, func(ctx context.Context, job Job) error {
		handled.Add(1)
		done <- struct{}{}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, NewJob("test", nil)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for job %d", i)
		}
	}
	if got := handled.Load(); got != 3 {
		t.Errorf("expected 3 handled jobs, got %d", got)
	}
}

func TestInMemoryQueue_ContinuesAfterFailure(t *testing.T) {
	var handled atomic.Int32
	done := make(chan struct{}, 8)
	q := NewInMemoryQueue(8, func(ctx context.Context, job Job) error {
		handled.Add(1)
		done <- struct{}{}
		if job.Type == "broken" {
			return errors.New("boom")
		}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	if err := q.Enqueue(ctx, NewJob("broken", nil)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, NewJob("healthy", nil)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	if got := handled.Load(); got != 2 {
		t.Errorf("expected the failing job not to stop the worker, handled %d", got)
	}
}

func TestInMemoryQueue_EnqueueAfterClose(t *testing.T) {
	q := NewInMemoryQueue(1, func(ctx context.Context, job Job) error { return nil }, nil)
	q.Close()
	if err := q.Enqueue(context.Background(), NewJob("test", nil)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestNewJob_AssignsID(t *testing.T) {
	a := NewJob("test", map[string]string{"k": "v"})
	b := NewJob("test", nil)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct job ids, got %q and %q", a.ID, b.ID)
	}
	if a.Params["k"] != "v" {
		t.Errorf("expected params to be carried, got %v", a.Params)
	}
}

func TestParamStore_RoundTrip(t *testing.T) {
	s := NewParamStore()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "job-1", "EmailId"); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%t err=%v", ok, err)
	}
	if err := s.Set(ctx, "job-1", "EmailId", "mail-9"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok, err := s.Get(ctx, "job-1", "EmailId")
	if err != nil || !ok || v != "mail-9" {
		t.Errorf("unexpected Get result v=%q ok=%t err=%v", v, ok, err)
	}
	// Parameters are scoped per job.
	if _, ok, _ := s.Get(ctx, "job-2", "EmailId"); ok {
		t.Error("expected job-2 to have no parameters")
	}
}
