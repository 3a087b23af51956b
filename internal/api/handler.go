package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"pharmacy/m/internal/auth"
	"pharmacy/m/internal/cart"
	"pharmacy/m/internal/catalog"
	"pharmacy/m/internal/medical"
	"pharmacy/m/internal/orders"
	"pharmacy/m/internal/prescriptions"
	"pharmacy/m/internal/report"
)

// Services are the domain services the HTTP layer drives.
type Services struct {
	Auth          *auth.Service
	Catalog       *catalog.Service
	Cart          *cart.Service
	Orders        *orders.Service
	Prescriptions *prescriptions.Service
	Medical       *medical.Service
	Report        *report.Service
	// Feed serves the admin order stream. Nil disables the route.
	Feed http.Handler
}

type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	CORSOrigins    []string
	RateLimit      int
	RateWindow     time.Duration
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	svc     Services
	opts    Options
	logger  *zap.Logger
	limiter *ipLimiter
}

func New(svc Services, opts Options, logger *zap.Logger) *Handler {
	if opts.RateLimit < 1 {
		opts.RateLimit = 100
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = 15 * time.Minute
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Handler{
		svc:     svc,
		opts:    opts,
		logger:  logger,
		limiter: newIPLimiter(opts.RateLimit, opts.RateWindow),
	}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(h.limiter.middleware)

	r.Get("/health", h.health)
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", staticFiles(h.opts.UploadDir)))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Post("/admin/login", h.adminLogin)
			r.With(h.authenticate(false)).Get("/me", h.me)
		})

		r.Get("/drugs", h.listDrugs)
		r.Get("/drugs/{id}", h.getDrug)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate(false))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.getCart)
				r.Post("/add", h.addToCart)
				r.Put("/{id}", h.updateCartItem)
				r.Delete("/{id}", h.removeCartItem)
				r.Delete("/", h.clearCart)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", h.listOrders)
				r.Post("/", h.createOrder)
				r.Post("/checkout", h.checkout)
				r.Get("/{id}", h.getOrder)
				r.Post("/{id}/cancel", h.cancelOrder)
			})

			r.Route("/prescriptions", func(r chi.Router) {
				r.Post("/upload", h.uploadPrescription)
				r.Get("/{orderID}", h.getPrescription)
			})

			r.Route("/medical", h.medicalRoutes)
		})

		r.Route("/admin", func(r chi.Router) {
			if h.svc.Feed != nil {
				// Browsers cannot set headers on a websocket upgrade.
				r.With(h.authenticate(true), requireAdmin).Get("/orders/feed", h.svc.Feed.ServeHTTP)
			}
			r.Group(func(r chi.Router) {
				r.Use(h.authenticate(false), requireAdmin)
				h.adminRoutes(r)
			})
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// staticFiles serves uploaded files without directory listings.
func staticFiles(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
