package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/auth"
	"github.com/stocklane/stocklane/internal/catalog"
	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/observability"
	"github.com/stocklane/stocklane/internal/partners/customers"
	"github.com/stocklane/stocklane/internal/partners/suppliers"
	"github.com/stocklane/stocklane/internal/receiving"
	"github.com/stocklane/stocklane/internal/shared"
	"github.com/stocklane/stocklane/internal/shipping"
	"github.com/stocklane/stocklane/internal/stocktake"
	"github.com/stocklane/stocklane/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager

	AuthHandler      *auth.Handler
	LedgerHandler    *ledger.Handler
	CatalogHandler   *catalog.Handler
	CustomerHandler  *customers.Handler
	SupplierHandler  *suppliers.Handler
	ReceivingHandler *receiving.Handler
	ShippingHandler  *shipping.Handler
	StocktakeHandler *stocktake.Handler
	AuditHandler     *audit.Handler
	JobHandler       *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with Stocklane defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	params.AuthHandler.MountPublicRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(params.SessionManager))

		params.AuthHandler.MountRoutes(r)
		params.LedgerHandler.MountRoutes(r)
		params.CatalogHandler.MountRoutes(r)
		params.CustomerHandler.MountRoutes(r)
		params.SupplierHandler.MountRoutes(r)
		params.ReceivingHandler.MountRoutes(r)
		params.ShippingHandler.MountRoutes(r)
		params.StocktakeHandler.MountRoutes(r)
		params.AuditHandler.MountRoutes(r)

		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
