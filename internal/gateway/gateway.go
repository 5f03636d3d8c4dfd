// ABOUTME: Gateway wires the store, ledger, broadcaster, aggregator and stream adapter together
// ABOUTME: Owns the HTTP server lifecycle, startup hydration, and the retention sweep loop

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/overseer-gateway/internal/broadcast"
	"github.com/2389/overseer-gateway/internal/config"
	"github.com/2389/overseer-gateway/internal/ledger"
	"github.com/2389/overseer-gateway/internal/metrics"
	"github.com/2389/overseer-gateway/internal/store"
	"github.com/2389/overseer-gateway/internal/stream"
)

// Gateway is the top-level server. It hydrates the ledger from the store at
// startup, serves the JSON API and push endpoints, and runs the retention
// sweep until its context is canceled.
type Gateway struct {
	config     *config.Config
	store      store.Store
	ledger     *ledger.Ledger
	broadcaster *broadcast.Broadcaster
	aggregator *metrics.Aggregator
	stream     *stream.Adapter
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Gateway backed by the SQLite store at cfg.Database.Path.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return newWithStore(cfg, st, logger)
}

// newWithStore assembles the gateway around an existing store. Tests use
// this with a mock store.
func newWithStore(cfg *config.Config, st store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config: cfg,
		store:  st,
		logger: logger.With("component", "gateway"),
	}

	g.broadcaster = broadcast.New(logger)
	g.ledger = ledger.New(st, g.broadcaster, logger)
	g.aggregator = metrics.New(g.ledger, logger)
	g.stream = stream.New(g.aggregator, g.broadcaster, cfg.Metrics.PushInterval, logger)

	mux := http.NewServeMux()
	g.registerRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// registerRoutes wires the full API surface onto mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", g.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	mux.HandleFunc("GET /api/conversations/{id}/history", g.handleConversationHistory)
	mux.HandleFunc("POST /api/conversations/{id}/messages", g.handleAppendMessage)
	mux.HandleFunc("POST /api/conversations/{id}/takeover", g.handleTakeover)
	mux.HandleFunc("POST /api/conversations/{id}/return", g.handleReturn)
	mux.HandleFunc("PATCH /api/conversations/{id}/status", g.handleSetStatus)
	mux.HandleFunc("POST /api/conversations/{id}/tags", g.handleAddTags)

	mux.HandleFunc("GET /api/metrics", g.handleMetrics)
	mux.HandleFunc("GET /api/metrics/stream", g.stream.ServeMetrics)
	mux.HandleFunc("GET /api/analytics", g.handleAnalytics)

	mux.HandleFunc("GET /api/events/stream", g.stream.ServeEvents)
	mux.HandleFunc("GET /api/events/ws", g.stream.ServeWS)

	mux.HandleFunc("GET /api/templates", g.handleListTemplates)
	mux.HandleFunc("GET /api/templates/{id}", g.handleGetTemplate)
	mux.HandleFunc("POST /api/templates/{id}/fill", g.handleFillTemplate)
	mux.HandleFunc("POST /api/templates/{id}/preview", g.handlePreviewTemplate)

	mux.HandleFunc("GET /api/agents", g.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", g.handleGetAgent)
	mux.HandleFunc("PATCH /api/agents/{id}/config", g.handlePatchAgentConfig)

	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("GET /readyz", g.handleReady)
}

// hydrate loads every persisted conversation into the ledger. Called once
// before the server starts accepting requests.
func (g *Gateway) hydrate(ctx context.Context) error {
	convs, err := g.store.LoadAllConversations(ctx)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}
	g.ledger.Load(convs)
	g.logger.Info("hydrated ledger", "conversations", len(convs))
	return nil
}

// Run hydrates state, starts the HTTP server, and blocks until the context
// is canceled or the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.hydrate(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	sweepDone := g.startSweeper(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	<-sweepDone

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startSweeper runs the retention sweep loop until ctx is done. The returned
// channel closes when the loop has exited.
func (g *Gateway) startSweeper(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(g.config.Ledger.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := g.ledger.Sweep(g.config.Ledger.Retention)
				if len(removed) > 0 {
					g.logger.Info("swept resolved conversations", "count", len(removed))
				}
			}
		}
	}()
	return done
}

// gracefulShutdown stops the HTTP server with a fresh context and timeout.
// A fresh context is required since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, closes the broadcaster, and closes the
// store. Safe to call once after Run returns.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error

	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.broadcaster.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}

// handleHealth reports liveness.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: the store must answer a query.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListAgents(r.Context()); err != nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
