// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command routed runs the dynamic policy-routing controller: it compiles
// the configured rules, loads permanent routes, and serves the DNS
// A-record WebSocket listener that drives ephemeral route installation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mrvpn.dev/routeengine/internal/config"
	"mrvpn.dev/routeengine/internal/logging"
	"mrvpn.dev/routeengine/internal/metrics"
	"mrvpn.dev/routeengine/internal/routeengine"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := os.Getenv("CONFIG")
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}

	log := logging.New(logging.Config{Output: os.Stderr, Level: logging.ParseLevel(os.Getenv("LOGLEVEL"))})
	logging.SetDefault(log)

	settings, err := config.Load(configPath)
	if err != nil {
		metrics.Get().ConfigReloadTotal.WithLabelValues("failure").Inc()
		log.Error("failed to load configuration", "path", configPath, "error", err)
		return 1
	}
	metrics.Get().ConfigReloadTotal.WithLabelValues("success").Inc()

	backend := routeengine.NewLinuxBackend()
	prefixes, err := routeengine.NewStaticPrefixSource(nil)
	if err != nil {
		log.Error("failed to construct prefix source", "error", err)
		return 1
	}

	router, err := routeengine.NewRouter(settings, backend, prefixes)
	if err != nil {
		log.Error("failed to compile rules", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	router.Handler.OnImmediateInstallError = func(route *routeengine.Route, err error) {
		log.Warn("immediate install failed", "net", route.Net.String(), "error", err)
	}

	router.Start(ctx)
	log.Info("route engine started", "table", settings.Table, "routes", len(settings.Routes))

	metricsAddr := settings.MetricsAddr
	if addr := os.Getenv("ROUTED_METRICS_ADDR"); addr != "" {
		metricsAddr = addr
	}
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, log)
	}

	listener := routeengine.NewDNSListener(router.Handler)
	mux := http.NewServeMux()
	mux.Handle("/", listener)
	server := &http.Server{Addr: fmt.Sprintf(":%d", settings.WSPort), Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("dns listener failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown flush failed", "error", err)
		return 1
	}
	return 0
}

func serveMetrics(addr string, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics server failed", "error", err)
	}
}
