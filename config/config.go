/*
Package config reads config.yml, messages.yml, and recipients.yml from a
config directory, validates them, and assembles the immutable
postwhite.Context every other component runs against (SPEC_FULL.md §4.G).
Validation follows the same validate-then-construct shape as the corpus's
launcher.Config: deserialise, check required fields, then build collaborator
values — never the other way around.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/postwhite/postwhite/decision"
	"github.com/postwhite/postwhite/lalog"
	"github.com/postwhite/postwhite/mailcmd"
	"github.com/postwhite/postwhite/mailtransport"
	"github.com/postwhite/postwhite/metrics"
	"github.com/postwhite/postwhite/postwhite"
	"github.com/postwhite/postwhite/registry"
	"github.com/postwhite/postwhite/spool"
	"github.com/postwhite/postwhite/store"
)

// Daemon is config.yml, deserialised. Field names match spec.md §6
// "Configuration options (recognized set)" plus the SPEC_FULL.md §6
// additions (sender-transport, metrics-address).
type Daemon struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	User              string `yaml:"user"`
	MaxConnections    int    `yaml:"max-connections"`
	LearningPeriodMin int    `yaml:"learning-period"`
	RequireSASL       bool   `yaml:"require-sasl"`
	RejectMessage     string `yaml:"reject-message"`
	SMTPHost          string `yaml:"smtp-host"`
	SMTPPort          int    `yaml:"smtp-port"`
	Sender            string `yaml:"sender"`
	PIDFile           string `yaml:"pid-file"`
	LogFile           string `yaml:"log-file"`
	SpoolDir          string `yaml:"spool-dir"`
	ConfigDir         string `yaml:"config-dir"`
	SenderTransport   string `yaml:"sender-transport"`
	MetricsAddress    string `yaml:"metrics-address"`
}

// Messages is messages.yml, deserialised.
type Messages struct {
	Info          string `yaml:"info"`
	AllowAdvisory string `yaml:"allow-advisory"`
	DenyAdvisory  string `yaml:"deny-advisory"`
	Footer        string `yaml:"footer"`
}

// Recipients is recipients.yml, deserialised: recipient address to expected
// SASL identity (empty string if none is required).
type Recipients map[string]string

// Load reads config.yml, messages.yml, and recipients.yml from dir and
// assembles the immutable Context. Any failure here is a startup-only
// ConfigError (SPEC_FULL.md §7): it aborts the process before any listener
// opens and is never surfaced to the MTA.
func Load(dir string) (*postwhite.Context, *Daemon, error) {
	var daemon Daemon
	if err := readYAML(dir+"/config.yml", &daemon); err != nil {
		return nil, nil, err
	}
	if err := validate(&daemon); err != nil {
		return nil, nil, err
	}

	var messages Messages
	if err := readYAML(dir+"/messages.yml", &messages); err != nil {
		return nil, nil, err
	}

	var recipients Recipients
	if err := readYAML(dir+"/recipients.yml", &recipients); err != nil {
		return nil, nil, err
	}

	templates, err := mailcmd.ParseTemplates(messages.Info, messages.AllowAdvisory, messages.DenyAdvisory, messages.Footer, daemon.Sender)
	if err != nil {
		return nil, nil, fmt.Errorf("config: failed to parse message templates: %w", err)
	}

	transport, err := buildTransport(&daemon)
	if err != nil {
		return nil, nil, err
	}

	metricsRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(metricsRegistry)

	ctx := &postwhite.Context{
		Registry:        registry.New(recipients),
		Store:           &store.Store{Dir: daemon.ConfigDir, Logger: lalog.Logger{ComponentName: "store"}},
		Spool:           &spool.Spool{Dir: daemon.SpoolDir, Period: time.Duration(daemon.LearningPeriodMin) * time.Minute, Logger: lalog.Logger{ComponentName: "spool"}},
		Templates:       templates,
		Transport:       transport,
		Metrics:         collector,
		MetricsRegistry: metricsRegistry,
	}
	ctx.Executor = &mailcmd.Executor{
		Store:     ctx.Store,
		Spool:     ctx.Spool,
		Templates: ctx.Templates,
		Transport: ctx.Transport,
		Logger:    lalog.Logger{ComponentName: "mailcmd"},
		Metrics:   ctx.Metrics,
	}
	ctx.Engine = &decision.Engine{
		Registry:      ctx.Registry,
		Store:         ctx.Store,
		Spool:         ctx.Spool,
		Executor:      ctx.Executor,
		Mailer:        ctx.Executor,
		RequireSASL:   daemon.RequireSASL,
		RejectMessage: daemon.RejectMessage,
		Logger:        lalog.Logger{ComponentName: "decision"},
		Metrics:       ctx.Metrics,
	}
	return ctx, &daemon, nil
}

// validate checks the fields the daemon cannot safely default
// (spec.md §6, mirrored on launcher.Config's validate-then-construct shape).
func validate(daemon *Daemon) error {
	if daemon.Host == "" {
		return fmt.Errorf("config: \"host\" is required")
	}
	if daemon.Port == 0 {
		return fmt.Errorf("config: \"port\" is required")
	}
	if daemon.ConfigDir == "" {
		return fmt.Errorf("config: \"config-dir\" is required")
	}
	if daemon.SpoolDir == "" {
		return fmt.Errorf("config: \"spool-dir\" is required")
	}
	if daemon.MaxConnections < 1 {
		daemon.MaxConnections = 16
	}
	if daemon.LearningPeriodMin < 1 {
		daemon.LearningPeriodMin = 30
	}
	if daemon.RejectMessage == "" {
		daemon.RejectMessage = "User unknown in local recipient table"
	}
	return nil
}

func buildTransport(daemon *Daemon) (mailtransport.Transport, error) {
	switch daemon.SenderTransport {
	case "", "smtp":
		// smtp-host left unset means "discover the relay per message by
		// resolving the recipient domain's MX records" (SMTPTransport.relayFor).
		return &mailtransport.SMTPTransport{Host: daemon.SMTPHost, Port: daemon.SMTPPort, Logger: lalog.Logger{ComponentName: "mailtransport"}}, nil
	case "ses":
		return mailtransport.NewSESTransport(lalog.Logger{ComponentName: "mailtransport"})
	default:
		return nil, fmt.Errorf("config: unrecognized sender-transport %q", daemon.SenderTransport)
	}
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}
