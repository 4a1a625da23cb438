// Package main runs the enclave worker: the envelope transport serving
// function execution and ledger operations, plus a debug HTTP listener for
// health and metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/metrics"
	"github.com/r3e-network/neo-service-layer-sub007/internal/config"
	"github.com/r3e-network/neo-service-layer-sub007/internal/enclave"
	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/worker.yaml", "path to the worker configuration file")
	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)
	log := logger.New(logger.Options{Component: "worker", Level: cfg.LogLevel})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, app.Dependencies{}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	router := enclave.NewRouter(log.WithField("component", "router"))
	if cfg.Dispatch.RatePerSecond > 0 {
		router.WithRateLimit(float64(cfg.Dispatch.RatePerSecond), cfg.Dispatch.Burst)
	}
	enclave.RegisterHandlers(router, application.EnclaveBackends())

	ln, err := net.Listen("tcp", cfg.Server.TransportAddr)
	if err != nil {
		log.WithError(err).Errorf("listen on %s", cfg.Server.TransportAddr)
		os.Exit(1)
	}
	transport := enclave.NewTransport(router, ln, log.WithField("component", "transport"))
	if err := application.Attach(transport); err != nil {
		log.WithError(err).Error("attach transport")
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	httpServer := startHTTPServer(cfg.Server.HTTPAddr, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
	log.Info("worker stopped")
}

func startHTTPServer(addr string, log *logger.Logger) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         addr,
		Handler:      metrics.InstrumentHandler(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("debug http server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server")
		}
	}()
	return server
}
