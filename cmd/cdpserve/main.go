// File: cmd/cdpserve/main.go
// cdpserve binary entry point.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/cdpserve/metrics"
	"github.com/momentics/cdpserve/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const (
	appName    = "cdpserve"
	appVersion = "1.0.0"
)

var (
	flagAddr        string
	flagTimeout     time.Duration
	flagSessionMem  int64
	flagMetricsAddr string
)

var rootCmd = &cobra.Command{
	Use:     appName,
	Short:   "Headless-browser remote-debugging server",
	Long:    "cdpserve serves the CDP remote-debugging protocol over WebSocket,\none driver connection at a time.",
	Version: appVersion,
	RunE:    runServer,
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:9222", "listen address")
	rootCmd.Flags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "per-session inactivity timeout")
	rootCmd.Flags().Int64Var(&flagSessionMem, "max-session-memory", 16<<20, "per-session buffer memory ceiling in bytes")
	rootCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "prometheus listen address (disabled when empty)")
	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, appName+" ", log.LstdFlags)

	cfg := server.DefaultConfig()
	cfg.Addr = flagAddr
	cfg.Timeout = flagTimeout
	cfg.SessionMemory = flagSessionMem
	cfg.Logger = logger

	if flagMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		cfg.Metrics = metrics.New(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
				logger.Printf("metrics listener failed: %v", err)
			}
		}()
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Printf("shutting down")
		srv.Shutdown()
	}()

	return srv.Run()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
