package lalog

import "testing"

func TestRateLimit_Add(t *testing.T) {
	limit := NewRateLimit(60, 2, nil)
	if !limit.Add("203.0.113.5", false) {
		t.Fatal("first hit should be allowed")
	}
	if !limit.Add("203.0.113.5", false) {
		t.Fatal("second hit should be allowed")
	}
	if limit.Add("203.0.113.5", false) {
		t.Fatal("third hit should be denied")
	}
	// A distinct actor has its own independent counter.
	if !limit.Add("198.51.100.9", false) {
		t.Fatal("distinct actor should be allowed")
	}
}

func TestRateLimit_PanicsOnBadConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive MaxCount")
		}
	}()
	NewRateLimit(1, 0, nil)
}
