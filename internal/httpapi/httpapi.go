package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/observability"
	"kassa/backend/internal/service"
)

const (
	loginRateLimit = 5
	pinRateLimit   = 8
	rateWindow     = time.Minute
	maxBodyBytes   = 1 << 20
)

type Options struct {
	Service       *service.Service
	Metrics       *observability.Metrics
	Logger        *slog.Logger
	AllowedOrigin string
	Production    bool
}

type API struct {
	service       *service.Service
	metrics       *observability.Metrics
	logger        *slog.Logger
	allowedOrigin string
	production    bool
}

func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origin := strings.TrimSpace(opts.AllowedOrigin)
	if origin == "" {
		origin = "*"
	}
	return &API{
		service:       opts.Service,
		metrics:       opts.Metrics,
		logger:        logger,
		allowedOrigin: origin,
		production:    opts.Production,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.RequestID, middleware.Recoverer)
	r.Use(a.securityHeaders(), a.cors, a.limitBody, a.metrics.Middleware, a.accessLog)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(limiter(loginRateLimit)).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth())

			r.Get("/products", a.handleProducts)
			r.Get("/clients", a.handleClients)
			r.Get("/clients/{id}", a.handleClient)
			r.Get("/currencies", a.handleCurrencies)

			r.Post("/cart/quote", a.handleQuote)
			r.Post("/coupons/validate", a.handleValidateCoupon)
			r.Post("/sales", a.handleCheckout)
			r.Get("/sales", a.handleSales)
			r.Get("/sales/{id}", a.handleSale)
			r.With(limiter(pinRateLimit)).Post("/sales/{id}/refunds", a.handleRefund)

			r.Post("/orders/{ticket}/call", a.handleCallOrder)
			r.Get("/orders/called", a.handleCalledOrders)

			r.Post("/shifts/open", a.handleShiftOpen)
			r.Post("/shifts/closing", a.handleShiftBeginClosing)
			r.Post("/shifts/closing/cancel", a.handleShiftCancelClosing)
			r.With(limiter(pinRateLimit)).Post("/shifts/close", a.handleShiftClose)
			r.Get("/shifts/active", a.handleShiftActive)
			r.Get("/shifts/{id}", a.handleShift)

			r.Get("/ledger/cash", a.handleCash)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin, domain.RoleManager))

			r.Get("/users", a.handleUsers)
			r.Post("/users", a.handleCreateUser)
			r.Post("/clients/{id}/credit", a.handleTopUpCredit)
			r.Post("/currencies", a.handleSaveCurrency)
			r.Post("/pricing-rules", a.handleCreatePricingRule)
			r.Post("/pricing-rules/{id}/deactivate", a.handleDeactivatePricingRule)
			r.Get("/offers", a.handleOffers)
			r.Post("/offers", a.handleCreateOffer)
			r.Post("/offers/{id}/status", a.handleOfferStatus)
			r.Get("/coupons", a.handleCoupons)
			r.Post("/coupons", a.handleCreateCoupon)
			r.Post("/coupons/{code}/suspend", a.handleSuspendCoupon)
			r.Get("/ledger/movements", a.handleMovements)
			r.Post("/ledger/movements", a.handleRecordMovement)
			r.Get("/audit-logs", a.handleAuditLogs)
		})
	})
	return r
}

func limiter(requests int) func(http.Handler) http.Handler {
	return httprate.Limit(requests, rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many attempts"))
		}),
	)
}

func (a *API) securityHeaders() func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        a.production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})
	return sm.Handler
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(startedAt)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"plan": a.service.Gate().Plan(),
		"at":   time.Now().UTC().Format(time.RFC3339),
	})
}

// fail maps an engine error onto its HTTP status. Count mismatches carry the
// offending buckets so the client can show them.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var discrepancy *domain.DiscrepancyError
	if errors.As(err, &discrepancy) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    err.Error(),
			"shift_id": discrepancy.ShiftID,
			"buckets":  discrepancy.Buckets,
		})
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrIntegrity):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
