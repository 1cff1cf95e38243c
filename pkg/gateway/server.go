// Package gateway exposes the execution API over HTTP and coordinates
// admission, idempotency, budget and dispatch for each request.
package gateway

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptforge/gateway/pkg/admission"
	"github.com/promptforge/gateway/pkg/budget"
	"github.com/promptforge/gateway/pkg/config"
	"github.com/promptforge/gateway/pkg/dispatch"
	"github.com/promptforge/gateway/pkg/ledger"
	"github.com/promptforge/gateway/pkg/provider"
	"github.com/promptforge/gateway/pkg/replay"
)

// Server is the AI execution gateway.
type Server struct {
	cfg        *config.Config
	registry   *provider.Registry
	limiter    *admission.Limiter
	guard      *replay.Guard
	enforcer   *budget.Enforcer
	dispatcher *dispatch.Dispatcher
	ledger     *ledger.Ledger
	engine     *gin.Engine
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, reg *provider.Registry, lim *admission.Limiter, guard *replay.Guard, enf *budget.Enforcer, d *dispatch.Dispatcher, led *ledger.Ledger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:        cfg,
		registry:   reg,
		limiter:    lim,
		guard:      guard,
		enforcer:   enf,
		dispatcher: d,
		ledger:     led,
		engine:     engine,
	}

	engine.POST("/v1/executions", s.handleExecute)
	engine.GET("/v1/providers", s.handleProviders)
	engine.GET("/healthz", s.handleHealth)

	return s
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe starts the gateway with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("gateway listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}
