package scheduler

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	hour, minute, err := parseTimeOfDay("03:30")
	if err != nil {
		t.Fatalf("parseTimeOfDay failed: %v", err)
	}
	if hour != 3 || minute != 30 {
		t.Errorf("expected 3:30, got %d:%d", hour, minute)
	}
}

func TestParseTimeOfDayRejectsMalformed(t *testing.T) {
	cases := []string{"", "25:00", "03", "03:60", "ab:cd"}
	for _, c := range cases {
		if _, _, err := parseTimeOfDay(c); err == nil {
			t.Errorf("expected %q to be rejected", c)
		}
	}
}

func TestDelayToNextRunEmptyMeansImmediate(t *testing.T) {
	s := New(24, "", nil)
	delay, err := s.delayToNextRun(time.Now())
	if err != nil {
		t.Fatalf("delayToNextRun failed: %v", err)
	}
	if delay != 0 {
		t.Errorf("expected zero delay for empty time-of-day, got %v", delay)
	}
}

func TestDelayToNextRunLaterTodayStaysToday(t *testing.T) {
	s := New(24, "15:00", nil)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	delay, err := s.delayToNextRun(now)
	if err != nil {
		t.Fatalf("delayToNextRun failed: %v", err)
	}
	want := 5 * time.Hour
	if delay != want {
		t.Errorf("expected %v, got %v", want, delay)
	}
}

func TestDelayToNextRunPastTodayRollsToTomorrow(t *testing.T) {
	s := New(24, "03:00", nil)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	delay, err := s.delayToNextRun(now)
	if err != nil {
		t.Fatalf("delayToNextRun failed: %v", err)
	}
	want := 17 * time.Hour
	if delay != want {
		t.Errorf("expected %v, got %v", want, delay)
	}
}

func TestStartTwiceErrors(t *testing.T) {
	s := New(24, "", func() error { return nil })
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()
	if err := s.Start(); err == nil {
		t.Error("expected a second Start to fail")
	}
}

func TestRunOnceTracksStats(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	s := New(24, "", func() error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	done := make(chan struct{})
	go func() {
		s.runOnce()
		close(done)
	}()
	<-done

	runs, errs := s.Stats()
	if runs != 1 || errs != 0 {
		t.Errorf("expected 1 run and 0 errors, got runs=%d errs=%d", runs, errs)
	}
}

func TestRunOnceCountsErrors(t *testing.T) {
	s := New(24, "", func() error { return fmt.Errorf("boom") })
	s.runOnce()
	runs, errs := s.Stats()
	if runs != 0 || errs != 1 {
		t.Errorf("expected 0 runs and 1 error, got runs=%d errs=%d", runs, errs)
	}
}

func TestStartRunsImmediatelyThenStops(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(1, "", func() error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the run function to fire promptly with an empty time-of-day")
	}
	s.Stop()
}
