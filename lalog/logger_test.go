package lalog

import (
	"errors"
	"strings"
	"testing"
)

func TestLogger_Format(t *testing.T) {
	logger := Logger{ComponentName: "store", ComponentID: []LoggerIDField{{Key: "Recipient", Value: "hitchhike@dent.tld"}}}
	msg := logger.Format("query", "marvin@sirius.tld", nil, "matched pattern %q", "sirius.tld")
	if !strings.Contains(msg, "store[Recipient=hitchhike@dent.tld].query(marvin@sirius.tld)") {
		t.Fatalf("unexpected message: %s", msg)
	}
	if !strings.Contains(msg, `matched pattern "sirius.tld"`) {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestLogger_FormatWithError(t *testing.T) {
	logger := Logger{ComponentName: "store"}
	msg := logger.Format("add", "", errors.New("disk full"), "failed to append entry")
	if !strings.Contains(msg, `Error "disk full" - failed to append entry`) {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("short", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("a", 100)
	truncated := truncateString(long, 40)
	if len(truncated) != 40 {
		t.Fatalf("expected length 40, got %d", len(truncated))
	}
	if !strings.Contains(truncated, "...(truncated)...") {
		t.Fatalf("expected truncation marker, got %q", truncated)
	}
}

func TestLintString(t *testing.T) {
	in := "hello\x00\x01world\x7f!"
	got := lintString(in, 100)
	if strings.ContainsAny(got, "\x00\x01\x7f") {
		t.Fatalf("control characters survived linting: %q", got)
	}
}
