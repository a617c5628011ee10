// Package gateway exposes the settlement components over an HTTP JSON API.
// Callers authenticate each mutating request by signing its body with their
// identity key; the recovered address becomes the caller of the underlying
// operation, so the API carries the same permission model as the components.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/settlement/pkg/billing"
	"github.com/DeBrosOfficial/settlement/pkg/config"
	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/ledger"
	"github.com/DeBrosOfficial/settlement/pkg/logging"
	"github.com/DeBrosOfficial/settlement/pkg/moderation"
	"github.com/DeBrosOfficial/settlement/pkg/receipts"
	"github.com/DeBrosOfficial/settlement/pkg/registry"
	"github.com/DeBrosOfficial/settlement/pkg/vault"
)

// AuditReader serves recent audit entries to the API. Satisfied by the
// sqlite recorder.
type AuditReader interface {
	Recent(limit int) ([]contracts.AuditEntry, error)
}

// HostFunds is the gateway's window onto host balances. Attached native value
// on a request is debited from the caller's balance into the component's
// custody through it, so claimed value is always backed by real funds.
// Satisfied by the tokens bank.
type HostFunds interface {
	For(holder common.Address) contracts.TokenBackend
}

// Components are the wired settlement engines the gateway fronts.
// Billing and Audit may be nil when not configured.
type Components struct {
	Registry   *registry.Registry
	Moderation *moderation.Moderation
	Vault      *vault.Vault
	Ledger     *ledger.Ledger
	Exchange   *receipts.Exchange
	Billing    *billing.Authorization
	Audit      AuditReader
	Funds      HostFunds
}

// Gateway is the HTTP API server.
type Gateway struct {
	logger *logging.ColoredLogger
	config *config.GatewayConfig
	comp   Components
	router chi.Router
	now    func() time.Time

	mu     sync.Mutex
	server *http.Server
}

// New creates a gateway over the given components.
func New(logger *logging.ColoredLogger, cfg *config.GatewayConfig, comp Components) (*Gateway, error) {
	if logger == nil {
		var err error
		logger, err = logging.NewColoredLogger(logging.ComponentGateway, true)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	g := &Gateway{
		logger: logger,
		config: cfg,
		comp:   comp,
		router: chi.NewRouter(),
		now:    time.Now,
	}

	g.router.Use(middleware.RequestID)
	g.router.Use(middleware.Recoverer)
	g.router.Use(middleware.Timeout(cfg.RequestTimeout))
	g.router.Use(g.loggingMiddleware)

	g.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	g.router.Route("/v1", func(r chi.Router) {
		r.Route("/registry", func(r chi.Router) {
			r.Get("/nodes", g.handleActiveNodes)
			r.Get("/nodes/{address}", g.handleNodeStatus)
			r.Group(func(r chi.Router) {
				r.Use(g.signedCaller)
				r.Post("/nodes", g.handleAddNodes)
				r.Delete("/nodes/{address}", g.handleRemoveNode)
			})
		})

		r.Route("/moderation", func(r chi.Router) {
			r.Use(g.signedCaller)
			r.Post("/reports", g.handleReport)
			r.Post("/removals/{address}/finalize", g.handleFinalizeRemoval)
		})

		r.Route("/vault", func(r chi.Router) {
			r.Get("/balances/{owner}/{asset}", g.handleVaultBalance)
			r.Group(func(r chi.Router) {
				r.Use(g.signedCaller)
				r.Post("/deposits", g.handleDeposit)
				r.Post("/withdrawals", g.handleWithdraw)
				r.Post("/transfers", g.handleVaultTransfer)
				r.Put("/limits", g.handleSetLimit)
				r.Delete("/limits", g.handleClearLimit)
			})
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/accounts/{client}", g.handleLedgerAccount)
			r.Group(func(r chi.Router) {
				r.Use(g.signedCaller)
				r.Post("/purchases", g.handlePurchase)
				r.Post("/orders", g.handlePurchaseWithOrder)
				r.Post("/fees/withdraw", g.handleWithdrawFees)
			})
		})

		r.Route("/receipts", func(r chi.Router) {
			r.Get("/confirmed", g.handleConfirmedReceipts)
			r.Group(func(r chi.Router) {
				r.Use(g.signedCaller)
				r.Post("/", g.handleCreateReceipt)
				r.Post("/{nonce}/confirm", g.handleConfirmReceipt)
				r.Post("/{nonce}/reject", g.handleRejectReceipt)
				r.Post("/{client}/{nonce}/redeem", g.handleRedeemReceipt)
			})
		})

		if comp.Billing != nil {
			r.Route("/billing", func(r chi.Router) {
				r.Use(g.signedCaller)
				r.Post("/payments", g.handlePayBill)
			})
		}

		if comp.Audit != nil {
			r.Get("/audit/recent", g.handleAuditRecent)
		}
	})

	return g, nil
}

// Router returns the configured handler, for tests and embedding.
func (g *Gateway) Router() http.Handler {
	return g.router
}

// Start serves the API until the context is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	g.server = &http.Server{
		Addr:    g.config.ListenAddr,
		Handler: g.router,
	}
	g.mu.Unlock()

	listener, err := net.Listen("tcp", g.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.config.ListenAddr, err)
	}

	g.logger.ComponentInfo(logging.ComponentGateway, "gateway starting",
		zap.String("listen_addr", g.config.ListenAddr),
	)

	go func() {
		if err := g.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			g.logger.ComponentError(logging.ComponentGateway, "gateway server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	return g.Stop()
}

// Stop gracefully shuts down the server.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	server := g.server
	g.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.logger.ComponentInfo(logging.ComponentGateway, "gateway shutting down")
	return server.Shutdown(ctx)
}

func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		g.logger.ComponentInfo(logging.ComponentGateway, "request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", srw.status),
			zap.String("duration", time.Since(start).String()),
		)
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
