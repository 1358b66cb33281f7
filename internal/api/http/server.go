package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	appScheduler "github.com/duerelay/duerelay/internal/application/scheduler"
	appSetup "github.com/duerelay/duerelay/internal/application/setup"
	"github.com/duerelay/duerelay/internal/domain/ledger"
	"github.com/duerelay/duerelay/internal/domain/tenant"
	"github.com/duerelay/duerelay/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	setupSvc   *appSetup.Service
	scheduler  *appScheduler.Scheduler
	sseHub     *sse.Hub
	adminToken string
	logger     zerolog.Logger
}

func NewServer(
	setupSvc *appSetup.Service,
	scheduler *appScheduler.Scheduler,
	sseHub *sse.Hub,
	adminToken string,
	logger zerolog.Logger,
) *Server {
	return &Server{
		setupSvc:   setupSvc,
		scheduler:  scheduler,
		sseHub:     sseHub,
		adminToken: adminToken,
		logger:     logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.setupPage)

	// Streams and manual cycles run long, so only the plain request routes
	// get a deadline.
	timeout := middleware.Timeout(2 * time.Minute)

	r.Route("/api", func(r chi.Router) {
		r.With(timeout).Post("/setup", s.setup)
		r.With(timeout).Post("/config", s.setConfig)

		r.Route("/status/{clientId}", func(r chi.Router) {
			r.Use(s.requireTenant)
			r.With(timeout).Get("/", s.status)
			r.With(timeout).Get("/qr.png", s.qrImage)
			r.Get("/stream", s.statusStream)
		})
		r.With(s.requireTenant).Post("/process/{clientId}", s.process)
		r.With(timeout, s.requireTenant).Post("/disconnect/{clientId}", s.disconnect)

		r.Route("/scheduler", func(r chi.Router) {
			r.Use(timeout, s.requireAdmin)
			r.Get("/", s.schedulerStatus)
			r.Post("/pause", s.pauseScheduler)
			r.Post("/resume", s.resumeScheduler)
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// errorStatus maps service errors onto a status and an error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, tenant.ErrTenantExists):
		return http.StatusConflict, "TENANT_EXISTS"
	case errors.Is(err, tenant.ErrInvalidToken):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, tenant.ErrNotConnected):
		return http.StatusBadRequest, "NOT_CONNECTED"
	case errors.Is(err, tenant.ErrConfigInvalid):
		return http.StatusBadRequest, "INVALID_CONFIG"
	case errors.Is(err, appSetup.ErrInvalidClientID):
		return http.StatusBadRequest, "INVALID_PARAM"
	case errors.Is(err, appSetup.ErrNoConfig):
		return http.StatusBadRequest, "NO_CONFIG"
	case errors.Is(err, appSetup.ErrNoChallenge):
		return http.StatusNotFound, "NO_CHALLENGE"
	case errors.Is(err, appSetup.ErrCycleInProgress):
		return http.StatusConflict, "CYCLE_IN_PROGRESS"
	case errors.Is(err, ledger.ErrSourceUnavailable):
		return http.StatusBadGateway, "SOURCE_UNAVAILABLE"
	case errors.Is(err, ledger.ErrMalformedSource):
		return http.StatusUnprocessableEntity, "MALFORMED_SOURCE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	respondError(w, status, code, err.Error())
}
