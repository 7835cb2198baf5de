package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fulfillment-engine/internal/core"
)

type stubReservations struct {
	core.ReservationService
	expired int
	calls   int
	err     error
	lastNow time.Time
}

func (s *stubReservations) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	s.calls++
	s.lastNow = now
	return s.expired, s.err
}

func TestExpirySweeper_SweepOnce(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	stub := &stubReservations{expired: 3}
	sweeper := core.NewExpirySweeper(stub, time.Minute, nil, func() time.Time { return now })

	sweeper.SweepOnce(context.Background())
	if stub.calls != 1 {
		t.Fatalf("ExpireDue calls = %d, want 1", stub.calls)
	}
	if !stub.lastNow.Equal(now) {
		t.Errorf("sweep used %v as now, want %v", stub.lastNow, now)
	}
}

func TestExpirySweeper_SweepErrorDoesNotPanic(t *testing.T) {
	stub := &stubReservations{err: errors.New("db down")}
	sweeper := core.NewExpirySweeper(stub, time.Minute, nil, nil)
	sweeper.SweepOnce(context.Background())
	if stub.calls != 1 {
		t.Fatalf("ExpireDue calls = %d, want 1", stub.calls)
	}
}

func TestExpirySweeper_RunStopsOnCancel(t *testing.T) {
	stub := &stubReservations{}
	sweeper := core.NewExpirySweeper(stub, 5*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
	if stub.calls == 0 {
		t.Error("sweeper never swept while running")
	}
}
