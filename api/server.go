/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logging:    zap request logger carrying the request id
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/stock/*          Stock items, batches, write-offs, valuation
  /api/invoices         Supplier invoices
  /api/jobcards/*       Job cards, settlement, deletion
  /api/assets/*         Assets and their expenses
  /api/suppliers        Suppliers invoices are received from
  /api/settings/*       Costing policy

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/oneshot/workshop-ledger/logging"
	"go.uber.org/zap"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Stock routes
		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.ListStock)
			r.Post("/", h.CreateStock)
			r.Get("/valuation", h.Valuation)
			r.Post("/import", h.ImportStock)
			r.Get("/{id}", h.GetStock)
			r.Post("/{id}/batches", h.PurchaseStock)
			r.Post("/{id}/writeoffs", h.WriteOffStock)
			r.Get("/{id}/preview", h.PreviewStockCost)
			r.Get("/{id}/export", h.ExportStock)
		})

		r.Post("/invoices", h.ReceiveInvoice)

		// Job card routes
		r.Route("/jobcards", func(r chi.Router) {
			r.Get("/", h.ListJobCards)
			r.Post("/", h.CreateJobCard)
			r.Post("/preview", h.PreviewDraft)
			r.Get("/{id}", h.GetJobCard)
			r.Put("/{id}", h.UpdateJobCard)
			r.Delete("/{id}", h.DeleteJobCard)
			r.Post("/{id}/settle", h.SettleJobCard)
			r.Get("/{id}/preview", h.PreviewJobCard)
		})

		// Asset routes
		r.Route("/assets", func(r chi.Router) {
			r.Get("/", h.ListAssets)
			r.Post("/", h.CreateAsset)
			r.Get("/{id}/expenses", h.AssetExpenses)
		})

		r.Route("/suppliers", func(r chi.Router) {
			r.Get("/", h.ListSuppliers)
			r.Post("/", h.CreateSupplier)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/costing-policy", h.GetCostingPolicy)
			r.Put("/costing-policy", h.SetCostingPolicy)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
