// Copyright Contributors to the Mellea project

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/mellea/controlplane/internal/app"
	"github.com/mellea/controlplane/internal/config"
	"github.com/mellea/controlplane/internal/metrics"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control plane daemon",
	Long: `Start the control plane daemon: the Warmup, Idle-Timeout, and
Retention-Policy Controllers run on their configured intervals in the
background, and a Prometheus metrics endpoint is exposed for scraping.

Configuration is read entirely from the environment (spec.md §6); see
internal/config for the full list of variables and defaults.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := zap.Options{Development: true}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	log := ctrl.Log.WithName("controlplane")

	cfg := config.Load()
	log.Info("starting control plane", "data_dir", cfg.DataDir, "build_backend", cfg.BuildBackend, "metrics_bind_address", cfg.MetricsBindAddress)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error(err, "failed to construct control plane")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	a.Start()

	metricsSrv := newMetricsServer(cfg.MetricsBindAddress)
	go func() {
		log.Info("metrics endpoint listening", "address", cfg.MetricsBindAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	a.Stop(shutdownCtx)
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "metrics server shutdown error")
	}

	log.Info("control plane stopped")
	return nil
}

// newMetricsServer builds the /metrics endpoint over the dedicated
// prometheus registry the domain services and controllers record to.
func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux}
}
