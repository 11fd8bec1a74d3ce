package registry

import "testing"

func TestRegistry_ContainsAndCase(t *testing.T) {
	r := New(map[string]string{"Hitchhike@Dent.TLD": ""})
	if !r.Contains("hitchhike@dent.tld") {
		t.Fatal("expected registry to normalize case on load")
	}
	if r.Contains("marvin@sirius.tld") {
		t.Fatal("unregistered recipient must not be reported as protected")
	}
}

func TestRegistry_ExpectedSASLIdentity(t *testing.T) {
	r := New(map[string]string{
		"hitchhike@dent.tld": "hitchhike",
		"marvin@sirius.tld":  "",
	})
	identity, ok := r.ExpectedSASLIdentity("hitchhike@dent.tld")
	if !ok || identity != "hitchhike" {
		t.Fatalf("expected configured identity, got %q ok=%v", identity, ok)
	}
	if _, ok := r.ExpectedSASLIdentity("marvin@sirius.tld"); ok {
		t.Fatal("expected no identity requirement when none configured")
	}
	if _, ok := r.ExpectedSASLIdentity("nobody@dent.tld"); ok {
		t.Fatal("expected no identity requirement for unregistered recipient")
	}
}
