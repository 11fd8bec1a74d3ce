package spool

import (
	"os"
	"testing"
	"time"
)

func newTestSpool(t *testing.T, period time.Duration) *Spool {
	t.Helper()
	return &Spool{Dir: t.TempDir(), Period: period}
}

func TestSpool_NotLearningByDefault(t *testing.T) {
	s := newTestSpool(t, time.Minute)
	learning, err := s.IsLearning("hitchhike@dent.tld")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if learning {
		t.Fatal("expected not learning without a marker")
	}
}

func TestSpool_BeginLearningOpensWindow(t *testing.T) {
	s := newTestSpool(t, time.Minute)
	recipient := "hitchhike@dent.tld"
	if err := s.BeginLearning(recipient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	learning, err := s.IsLearning(recipient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !learning {
		t.Fatal("expected learning mode right after BeginLearning")
	}
}

func TestSpool_WindowExpiresWithoutMutation(t *testing.T) {
	s := newTestSpool(t, 10*time.Millisecond)
	recipient := "hitchhike@dent.tld"
	if err := s.BeginLearning(recipient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	learning, err := s.IsLearning(recipient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if learning {
		t.Fatal("expected learning window to have expired")
	}
	// The marker itself is left on disk; there is no reaper.
	if _, err := os.Stat(s.markerPath(recipient)); err != nil {
		t.Fatalf("expected stale marker to remain on disk: %v", err)
	}
}

func TestSpool_RepeatedBeginLearningRefreshesWindow(t *testing.T) {
	s := newTestSpool(t, 30*time.Millisecond)
	recipient := "hitchhike@dent.tld"
	if err := s.BeginLearning(recipient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := s.BeginLearning(recipient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	learning, err := s.IsLearning(recipient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !learning {
		t.Fatal("expected refreshed window to still be open")
	}
}

func TestSpool_EndLearningRemovesMarker(t *testing.T) {
	s := newTestSpool(t, time.Minute)
	recipient := "hitchhike@dent.tld"
	if err := s.BeginLearning(recipient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.EndLearning(recipient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	learning, err := s.IsLearning(recipient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if learning {
		t.Fatal("expected learning mode to be cleared")
	}
}

func TestSpool_EndLearningWithoutMarkerDoesNotFail(t *testing.T) {
	s := newTestSpool(t, time.Minute)
	if err := s.EndLearning("ghost@dent.tld"); err != nil {
		t.Fatalf("expected no error removing an absent marker: %v", err)
	}
}
