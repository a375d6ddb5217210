// Package api contains the REST API of the runtime broker.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/boltlabs/runtimed/pkg/api/v1"
	"github.com/boltlabs/runtimed/pkg/config"
	"github.com/boltlabs/runtimed/pkg/dokploy"
	"github.com/boltlabs/runtimed/pkg/logger"
	"github.com/boltlabs/runtimed/pkg/session"
	"github.com/boltlabs/runtimed/pkg/sweeper"
	"github.com/boltlabs/runtimed/pkg/telemetry"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs one line per completed request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"durationMs", time.Since(start).Milliseconds(),
			"requestId", middleware.GetReqID(r.Context()))
	})
}

// Serve starts the broker on the given address and serves the API until ctx
// is cancelled. It is assumed that the caller sets up appropriate signal
// handling.
func Serve(ctx context.Context, address string, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var platform *dokploy.Client
	var orchestrator *session.Orchestrator
	var sw *sweeper.Sweeper
	if cfg.RemoteEnabled() {
		platform = dokploy.New(cfg.DokployBaseURL, cfg.DokployAPIKey)
		sw = sweeper.New(platform)
		orchestrator = session.New(platform, cfg, sw)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
		headersMiddleware,
		loggingMiddleware,
	)

	routers := map[string]http.Handler{
		"/health":  v1.HealthcheckHandler(probeOrNil(platform), cfg),
		"/metrics": telemetry.Handler(),
	}
	if cfg.RemoteEnabled() {
		routers["/api/runtime/session"] = v1.SessionRouter(orchestrator, cfg)
		routers["/api/runtime/files"] = v1.FilesRouter(orchestrator, platform, cfg)
		routers["/api/runtime/deploy"] = v1.DeployRouter(orchestrator, platform, cfg)
		routers["/api/runtime/cleanup"] = v1.CleanupRouter(sw, cfg)
	}

	for prefix, router := range routers {
		r.Mount(prefix, router)
	}

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	logger.Infow("starting runtime broker", "address", address, "provider", cfg.Provider)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Panicf("server stopped with error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("runtime broker stopped")
	return nil
}

// probeOrNil avoids handing the health handler a typed nil interface.
func probeOrNil(platform *dokploy.Client) v1.PlatformProbe {
	if platform == nil {
		return nil
	}
	return platform
}
