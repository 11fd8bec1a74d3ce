/*
postwhite is a policy daemon that sits behind a mail transfer agent and
decides, per incoming message, whether to accept, silently discard, or
reject it, against a per-recipient allow-list that the recipient manages by
sending themselves crafted command mails (see SPEC_FULL.md).
*/
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postwhite/postwhite/config"
	"github.com/postwhite/postwhite/lalog"
	"github.com/postwhite/postwhite/metrics"
	"github.com/postwhite/postwhite/policyserver"
	"github.com/postwhite/postwhite/postwhite"
	"github.com/postwhite/postwhite/store"
)

var logger = lalog.Logger{ComponentName: "main"}

func main() {
	configDir := flag.String("config-dir", "", "directory holding config.yml, messages.yml, and recipients.yml")
	selfTest := flag.Bool("self-test", false, "run a store/spool round-trip against a scratch recipient, then exit")
	flag.Parse()

	if *configDir == "" {
		logger.Abort("main", "", nil, "-config-dir is required")
	}

	ctx, daemon, err := config.Load(*configDir)
	if err != nil {
		logger.Abort("main", "", err, "failed to load configuration")
	}

	if *selfTest {
		if err := runSelfTest(ctx); err != nil {
			logger.Abort("main", "", err, "self-test failed")
		}
		fmt.Println("self-test passed")
		return
	}

	server := &policyserver.Server{
		ListenAddr:     daemon.Host,
		ListenPort:     daemon.Port,
		MaxConnections: daemon.MaxConnections,
		Engine:         ctx.Engine,
		Logger:         lalog.Logger{ComponentName: "policyserver"},
		Metrics:        ctx.Metrics,
	}
	server.Initialise()

	go func() {
		if err := server.StartAndBlock(); err != nil {
			logger.Abort("main", "", err, "policy server stopped unexpectedly")
		}
	}()

	if daemon.MetricsAddress != "" {
		go serveMetrics(daemon.MetricsAddress, ctx.MetricsRegistry)
	}

	waitForSignal()
	server.Stop()
}

// runSelfTest exercises the store and spool against a throwaway recipient,
// confirming the configured directories are writable before the daemon is
// put into production (flag-gated, in the style of the corpus's CLI tools
// that offer a -selftest escape hatch).
func runSelfTest(ctx *postwhite.Context) error {
	const scratch = "postwhite-self-test@localhost"
	if err := ctx.Store.Add(scratch, "example.invalid", store.ALLOW); err != nil {
		return fmt.Errorf("store round-trip failed: %w", err)
	}
	if err := ctx.Store.Remove(scratch, "example.invalid"); err != nil {
		return fmt.Errorf("store round-trip failed: %w", err)
	}
	if err := ctx.Spool.BeginLearning(scratch); err != nil {
		return fmt.Errorf("spool round-trip failed: %w", err)
	}
	if err := ctx.Spool.EndLearning(scratch); err != nil {
		return fmt.Errorf("spool round-trip failed: %w", err)
	}
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	logger.Info("serveMetrics", addr, nil, "metrics listener starting")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warning("serveMetrics", addr, err, "metrics listener stopped")
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
