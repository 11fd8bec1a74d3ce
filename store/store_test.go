package store

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return &Store{Dir: dir}
}

func TestStore_QueryNoMatchIsDeny(t *testing.T) {
	s := newTestStore(t)
	method, err := s.Query("hitchhike@dent.tld", "marvin@sirius.tld", "sirius.tld")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != DENY {
		t.Fatalf("expected DENY, got %s", method)
	}
}

func TestStore_AddThenQueryMatches(t *testing.T) {
	s := newTestStore(t)
	recipient := "hitchhike@dent.tld"
	if err := s.Add(recipient, "marvin@sirius.tld", ALLOW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	method, err := s.Query(recipient, "marvin@sirius.tld", "sirius.tld")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != ALLOW {
		t.Fatalf("expected ALLOW, got %s", method)
	}
}

func TestStore_AddIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	recipient := "hitchhike@dent.tld"
	if err := s.Add(recipient, "sirius.tld", ALLOW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Add(recipient, "sirius.tld", SWALLOW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := s.Dump(recipient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry after repeated Add, got %d: %+v", len(entries), entries)
	}
	if entries[0].Method != ALLOW {
		t.Fatalf("first-write method must win, got %s", entries[0].Method)
	}
}

func TestStore_DenyThenAddSucceeds(t *testing.T) {
	s := newTestStore(t)
	recipient := "hitchhike@dent.tld"
	method, err := s.Query(recipient, "marvin@sirius.tld", "sirius.tld")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != DENY {
		t.Fatalf("expected DENY before any entry, got %s", method)
	}
	if err := s.Add(recipient, "sirius.tld", SWALLOW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	method, err = s.Query(recipient, "marvin@sirius.tld", "sirius.tld")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != SWALLOW {
		t.Fatalf("expected SWALLOW after add, got %s", method)
	}
}

func TestStore_PrefixMatchIsDeliberatelyLiberal(t *testing.T) {
	s := newTestStore(t)
	recipient := "hitchhike@dent.tld"
	if err := s.Add(recipient, "sirius.tld", ALLOW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "sirius.tld.attacker.tld" has "sirius.tld" as a literal prefix, so the
	// deliberately liberal prefix match allows it through; spec.md §9 records
	// this as a known, accepted trade-off rather than a bug to fix.
	method, err := s.Query(recipient, "anyone@sirius.tld.attacker.tld", "sirius.tld.attacker.tld")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != ALLOW {
		t.Fatalf("expected liberal prefix match to allow, got %s", method)
	}
}

func TestStore_PrefixMatchRequiresActualPrefix(t *testing.T) {
	s := newTestStore(t)
	recipient := "hitchhike@dent.tld"
	if err := s.Add(recipient, "sirius.tld", ALLOW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	method, err := s.Query(recipient, "anyone@evil-sirius.tld", "evil-sirius.tld")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != DENY {
		t.Fatalf("pattern must anchor at the start, got %s", method)
	}
}

func TestStore_RemoveStripsMatchingEntries(t *testing.T) {
	s := newTestStore(t)
	recipient := "hitchhike@dent.tld"
	if err := s.Add(recipient, "sirius.tld", ALLOW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Add(recipient, "vogon.tld", SWALLOW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Remove(recipient, "sirius.tld"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := s.Dump(recipient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Pattern != "vogon.tld" {
		t.Fatalf("unexpected remaining entries: %+v", entries)
	}
}

func TestStore_RemoveOfAbsentPatternIsNoop(t *testing.T) {
	s := newTestStore(t)
	recipient := "hitchhike@dent.tld"
	if err := s.Add(recipient, "sirius.tld", ALLOW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Remove(recipient, "vogon.tld"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := s.Dump(recipient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected untouched entry, got %+v", entries)
	}
}

func TestStore_FilePermissionsAreRestrictive(t *testing.T) {
	s := newTestStore(t)
	recipient := "hitchhike@dent.tld"
	if err := s.Add(recipient, "sirius.tld", ALLOW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(filepath.Join(s.Dir, recipient))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Mode().Perm() != filePerm {
		t.Fatalf("expected permissions %o, got %o", filePerm, info.Mode().Perm())
	}
}
