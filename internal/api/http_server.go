package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sessiond/internal/config"
	"sessiond/internal/database"
	"sessiond/internal/domain"
	"sessiond/internal/ledger"
	"sessiond/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Services groups the engine services the HTTP layer dispatches to.
type Services struct {
	Slots        *service.SlotService
	Bookings     *service.BookingService
	Attestations *service.AttestationService
	Disputes     *service.DisputeService
	Requests     *service.RequestService
	Admin        *service.AdminService
}

// HTTPServer exposes the escrow engine over a JSON HTTP API.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	server *http.Server
	auth   *HTTPAuth
	logger zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, principals []Principal, guard domain.GuardRepository, logger *zerolog.Logger) *HTTPServer {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http_api").Logger()
	}

	srv := &HTTPServer{cfg: cfg, svc: svc, logger: base}
	srv.auth = NewHTTPAuth(cfg, principals, guard, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/hosts/price", srv.handleSetBasePrice)
	mux.HandleFunc("POST /api/v1/slots", srv.handleCreateSlots)
	mux.HandleFunc("POST /api/v1/slots/{id}/cancel", srv.handleCancelSlot)
	mux.HandleFunc("GET /api/v1/slots/open", srv.handleListOpenSlots)
	mux.HandleFunc("POST /api/v1/bookings", srv.handleBook)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleCancelBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/host-cancel", srv.handleHostCancelBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/attest", srv.handleAttest)
	mux.HandleFunc("POST /api/v1/bookings/{id}/challenge", srv.handleChallenge)
	mux.HandleFunc("POST /api/v1/bookings/{id}/claim", srv.handleClaim)
	mux.HandleFunc("POST /api/v1/bookings/{id}/finalize", srv.handleFinalize)
	mux.HandleFunc("POST /api/v1/bookings/{id}/resolve", srv.handleResolve)
	mux.HandleFunc("POST /api/v1/bookings/{id}/timeout", srv.handleDisputeTimeout)
	mux.HandleFunc("POST /api/v1/requests", srv.handleCreateRequest)
	mux.HandleFunc("POST /api/v1/requests/{id}/cancel", srv.handleCancelRequest)
	mux.HandleFunc("POST /api/v1/requests/{id}/accept", srv.handleAcceptRequest)
	mux.HandleFunc("GET /api/v1/requests/open", srv.handleListOpenRequests)
	mux.HandleFunc("PUT /api/v1/admin/config", srv.handleUpdateConfig)
	mux.HandleFunc("POST /api/v1/admin/sweep", srv.handleSweep)
	mux.HandleFunc("GET /api/v1/ledger", srv.handleLedger)
	mux.HandleFunc("GET /healthz", srv.handleHealthz)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler, mostly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps engine errors onto HTTP statuses. The kind field
// lets clients branch without parsing messages.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	switch {
	case errors.Is(err, service.ErrUnauthorized):
		status, kind = http.StatusForbidden, "authorization"
	case errors.Is(err, database.ErrSlotNotFound),
		errors.Is(err, database.ErrBookingNotFound),
		errors.Is(err, database.ErrRequestNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, database.ErrStateMismatch):
		status, kind = http.StatusConflict, "state"
	case errors.Is(err, database.ErrNoBasePrice):
		status, kind = http.StatusConflict, "state"
	case errors.Is(err, service.ErrTooEarly), errors.Is(err, service.ErrTooLate):
		status, kind = http.StatusUnprocessableEntity, "timing"
	case errors.Is(err, service.ErrAmountMismatch):
		status, kind = http.StatusUnprocessableEntity, "amount"
	case errors.Is(err, service.ErrInvalidParams):
		status, kind = http.StatusBadRequest, "validation"
	case errors.Is(err, ledger.ErrNoSurplus):
		status, kind = http.StatusConflict, "state"
	}

	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
