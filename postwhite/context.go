/*
Package postwhite holds the immutable runtime Context every component is
constructed with: the recipient registry, allow-list store, learning spool,
mail templates, outbound transport, and metrics collector, all assembled
once at startup by package config (spec.md §9 "Global registries and
templates" — replacing the source's process-wide mutable state with a
single value passed by reference).
*/
package postwhite

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/postwhite/postwhite/decision"
	"github.com/postwhite/postwhite/mailcmd"
	"github.com/postwhite/postwhite/mailtransport"
	"github.com/postwhite/postwhite/metrics"
	"github.com/postwhite/postwhite/registry"
	"github.com/postwhite/postwhite/spool"
	"github.com/postwhite/postwhite/store"
)

// Context bundles every collaborator the parser, decision engine, and
// command executor need, built once and never mutated afterward.
type Context struct {
	Registry  *registry.Registry
	Store     *store.Store
	Spool     *spool.Spool
	Templates *mailcmd.Templates
	Transport mailtransport.Transport
	Metrics   *metrics.Collector

	// MetricsRegistry is the Prometheus registry Metrics was registered
	// against; the CLI entrypoint uses it to build the /metrics handler.
	MetricsRegistry *prometheus.Registry

	Executor *mailcmd.Executor
	Engine   *decision.Engine
}
