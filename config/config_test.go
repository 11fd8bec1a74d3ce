package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, dir string) {
	t.Helper()
	configYAML := `
host: 0.0.0.0
port: 10025
max-connections: 8
learning-period: 30
require-sasl: false
reject-message: "User unknown in local recipient table"
smtp-host: localhost
smtp-port: 25
sender: postwhite@dent.tld
spool-dir: ` + filepath.Join(dir, "spool") + `
config-dir: ` + filepath.Join(dir, "lists") + `
`
	messagesYAML := `
info: "Your whitelist:\n{{range .Whitelist}}{{.Pattern}}\n{{end}}"
allow-advisory: "New sender {{.Sender}} seen during learning."
deny-advisory: "{{.Sender}} is already allowed; reply to deny instead."
footer: "-- postwhite"
`
	recipientsYAML := `
hitchhike@dent.tld: ""
`
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte(configYAML), 0640); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "messages.yml"), []byte(messagesYAML), 0640); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "recipients.yml"), []byte(recipientsYAML), 0640); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)

	ctx, daemon, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if daemon.Host != "0.0.0.0" || daemon.Port != 10025 {
		t.Fatalf("unexpected daemon config: %+v", daemon)
	}
	if !ctx.Registry.Contains("hitchhike@dent.tld") {
		t.Fatal("expected recipient from recipients.yml to be registered")
	}
	if ctx.Engine == nil || ctx.Executor == nil {
		t.Fatal("expected engine and executor to be wired")
	}
}

func TestLoad_MissingRequiredFieldFails(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte("port: 10025\n"), 0640); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := Load(dir); err == nil {
		t.Fatal("expected error for missing host")
	}
}
