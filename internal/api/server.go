package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/vasool/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the routes. metricsPath is where the Prometheus handler is
// mounted; empty disables it.
func NewServer(cfg domain.ServerConfig, deps Deps, metricsPath string) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(NewCORS(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(deps.Metrics.Middleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// No tenant required
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if metricsPath != "" && deps.Metrics != nil {
		router.Handle(metricsPath, deps.Metrics.Handler())
	}

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Get("/protocol", handler.GetProtocol)
		r.Put("/protocol", handler.PutProtocol)
		r.Post("/protocol/reset", handler.ResetProtocol)
		r.Post("/protocol/stages/{stage}/channels", handler.AddStageChannel)
		r.Delete("/protocol/stages/{stage}/channels/{channel}", handler.RemoveStageChannel)

		r.Post("/classify", handler.Classify)

		r.Get("/invoices", handler.ListInvoices)
		r.Post("/invoices", handler.CreateInvoice)
		r.Post("/invoices/import", handler.ImportInvoices)
		r.Get("/invoices/{id}", handler.GetInvoice)
		r.Delete("/invoices/{id}", handler.DeleteInvoice)
		r.Post("/invoices/{id}/logs", handler.AddInvoiceLog)

		r.Get("/customers", handler.ListCustomers)
		r.Post("/customers", handler.CreateCustomer)
		r.Post("/customers/promote", handler.PromoteCustomer)
		r.Get("/customers/export", handler.ExportCustomers)
		r.Put("/customers/{id}/contacts/{stage}", handler.SetStageContact)

		r.Get("/dashboard", handler.Dashboard)

		r.Get("/followups/queue", handler.FollowUpQueue)
		r.Get("/followups/draft", handler.DraftFollowUp)
		r.Post("/followups/sweep", handler.Sweep)
		r.Get("/followups", handler.ListFollowUps)
		r.Post("/followups", handler.CreateFollowUp)
		r.Post("/followups/{id}/outcome", handler.RecordOutcome)

		r.Post("/payments", handler.RecordPayment)
		r.Post("/reconcile", handler.Reconcile)

		r.Get("/policies", handler.ListPolicies)
		r.Post("/policies", handler.SavePolicy)
		r.Post("/policies/reload", handler.ReloadPolicies)
		r.Delete("/policies/{id}", handler.DeletePolicy)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
