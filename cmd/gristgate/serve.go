// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opentrusty/gristgate/internal/audit"
	"github.com/opentrusty/gristgate/internal/authz"
	"github.com/opentrusty/gristgate/internal/config"
	"github.com/opentrusty/gristgate/internal/grist"
	"github.com/opentrusty/gristgate/internal/mcp"
	"github.com/opentrusty/gristgate/internal/observability/logger"
	"github.com/opentrusty/gristgate/internal/observability/metrics"
	"github.com/opentrusty/gristgate/internal/observability/tracing"
	"github.com/opentrusty/gristgate/internal/proxy"
	"github.com/opentrusty/gristgate/internal/session"
	"github.com/opentrusty/gristgate/internal/store/postgres"
	"github.com/opentrusty/gristgate/internal/tools"
	transportHTTP "github.com/opentrusty/gristgate/internal/transport/http"
)

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	created, err := config.EnsureGatewayFile(cfg.Gateway.ConfigPath)
	if err != nil {
		return err
	}
	if created {
		slog.Info("created template configuration, edit it and restart",
			slog.String("path", cfg.Gateway.ConfigPath))
		return nil
	}

	gw, err := config.LoadGateway(cfg.Gateway.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load gateway configuration: %w", err)
	}
	store, err := gw.Store()
	if err != nil {
		return fmt.Errorf("failed to build credential store: %w", err)
	}
	for agent, docs := range store.UnconfiguredScopeDocuments() {
		slog.Warn("token scope references unconfigured documents",
			logger.Agent(agent),
			slog.String("documents", strings.Join(docs, ",")),
		)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		tracer = tracing.Noop()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	meter := metrics.NewMeter(metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName)
	upstream, err := meter.NewUpstreamInstruments()
	if err != nil {
		slog.Error("failed to initialize upstream instruments", logger.Error(err))
	}

	registry := metrics.NewRegistry()
	m := metrics.New(registry)

	var auditLogger audit.Logger = audit.NewSlogLogger()
	if cfg.Audit.DatabaseURL != "" {
		db, err := postgres.New(ctx, postgres.Config{
			URL:      cfg.Audit.DatabaseURL,
			MaxConns: cfg.Audit.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to audit database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to apply audit schema: %w", err)
		}
		auditLogger = audit.Fanout{auditLogger, postgres.NewAuditRepository(db)}
		slog.Info("connected to audit database")
	}

	authenticator := authz.NewAuthenticator(store)
	sessions := session.NewManager()
	issuer := session.NewIssuer(authenticator, sessions, auditLogger, m)

	opts := []grist.ClientOption{grist.WithHTTPClient(grist.NewHTTPClient(cfg.Upstream.Timeout))}
	if upstream != nil {
		opts = append(opts, grist.WithInstruments(upstream))
	}
	clients := grist.NewConnector(authenticator, opts...)

	dispatcher := proxy.NewDispatcher(clients,
		proxy.WithTracer(tracer),
		proxy.WithAuditLogger(auditLogger),
	)

	toolService, err := tools.NewService(tools.Config{
		Authorizer:  authenticator,
		Clients:     clients,
		Issuer:      issuer,
		PublicURL:   cfg.Gateway.PublicURL,
		AuditLogger: auditLogger,
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("failed to build tool catalogue: %w", err)
	}

	toolChannel := mcp.NewServer(authenticator, toolService,
		mcp.WithAuditLogger(auditLogger),
		mcp.WithMetrics(m),
		mcp.WithVersion(version),
	)

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, m)
	go rateLimiter.Run(ctx)

	handler := transportHTTP.NewHandler(transportHTTP.HandlerConfig{
		Sessions:       sessions,
		Proxy:          dispatcher,
		Clients:        clients,
		ToolChannel:    toolChannel,
		MetricsHandler: metrics.Handler(registry),
		AuditLogger:    auditLogger,
		Metrics:        m,
	})
	router := transportHTTP.NewRouter(handler, rateLimiter)

	go purgeSessions(ctx, sessions, cfg.Session.PurgeInterval, m)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server",
			logger.Component("server"),
			logger.Operation("listen"),
			slog.String("addr", server.Addr),
			slog.Int("agents", len(store.AgentNames())),
			slog.Int("documents", len(gw.Documents)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server exited")
	return nil
}

// purgeSessions drops expired session tokens every interval until ctx ends.
func purgeSessions(ctx context.Context, sessions *session.Manager, interval time.Duration, m *metrics.Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := sessions.PurgeExpired()
			m.SessionTokensPurged.Add(float64(n))
			m.ActiveSessionTokens.Set(float64(sessions.Len()))
			if n > 0 {
				slog.DebugContext(ctx, "purged expired session tokens", logger.RowsAffected(int64(n)))
			}
		}
	}
}
