// Command codegate-proxy runs the multi-tenant LLM proxy: it opens the
// shared SQLite database, initializes guardrails/model-limits/OAuth-refresh,
// and serves the Anthropic/OpenAI-compatible HTTP surface until interrupted.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"proxygate/internal/auth"
	"proxygate/internal/db"
	"proxygate/internal/guardrails"
	"proxygate/internal/limits"
	"proxygate/internal/obs"
	"proxygate/internal/proxy"
)

var (
	flagPort  string
	flagDebug bool
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codegate-proxy",
		Short: "Multi-tenant Anthropic/OpenAI proxy with routing, failover, and guardrails",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	cmd.Flags().StringVar(&flagPort, "port", envOr("PROXY_PORT", "9212"), "port to listen on")
	cmd.Flags().BoolVar(&flagDebug, "debug", os.Getenv("PROXY_DEBUG") == "true", "enable development-mode (human-readable) logging")
	return cmd
}

func run() error {
	logger := obs.Init(flagDebug)
	defer obs.Sync()

	if err := db.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	guardrails.InitGuardrails()
	limits.InitModelLimitsTable()
	auth.StartTokenRefreshLoop()

	server := &http.Server{
		Addr:    ":" + flagPort,
		Handler: proxy.Handler(),
	}

	shutdownDone := make(chan struct{})
	go waitForShutdown(server, logger, shutdownDone)

	logger.Info("codegate-proxy starting",
		zap.String("port", flagPort),
		zap.String("db_backend", "shared sqlite"))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-shutdownDone
	logger.Info("proxy stopped")
	return nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, then closes the server.
func waitForShutdown(server *http.Server, logger *zap.Logger, done chan<- struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, closing server")
	server.Close()
	close(done)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
