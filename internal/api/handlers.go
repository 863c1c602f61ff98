// Package api exposes the orchestrators over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payments/internal/apperr"
	"payments/internal/model"
)

const IdempotencyHeader = "Idempotency-Key"

type PaymentService interface {
	Initiate(ctx context.Context, req model.PaymentRequest, token string) (model.PaymentResponse, error)
	Verify(ctx context.Context, orderRef, transactionID string) (model.Payment, error)
	Status(ctx context.Context, id uuid.UUID) (string, bool, error)
	LatestForJob(ctx context.Context, jobID uuid.UUID) (model.Payment, error)
}

type PayoutService interface {
	Initiate(ctx context.Context, req model.PayoutRequest) (model.Payout, error)
	Status(ctx context.Context, id uuid.UUID) (model.Payout, error)
}

type TokenValidator interface {
	Validate(token string, userID uuid.UUID) bool
}

type Server struct {
	Payments PaymentService
	Payouts  PayoutService
	// Auth guards payment initiation when set.
	Auth     TokenValidator
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments/initiate", s.initiatePaymentHandler())
	mux.HandleFunc("POST /payments/verify", s.verifyPaymentHandler())
	mux.HandleFunc("GET /payments/status/{paymentId}", s.paymentStatusHandler())
	mux.HandleFunc("GET /payments/jobs/{jobId}/latest", s.latestPaymentHandler())
	mux.HandleFunc("POST /payouts/initiate", s.initiatePayoutHandler())
	mux.HandleFunc("GET /payouts/status/{payoutId}", s.payoutStatusHandler())
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) initiatePaymentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.PaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "malformed request body")
			return
		}

		if s.Auth != nil && !s.Auth.Validate(r.Header.Get("Authorization"), req.PayerID) {
			writeMessage(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}

		resp, err := s.Payments.Initiate(r.Context(), req, r.Header.Get(IdempotencyHeader))
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func (s *Server) verifyPaymentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		payment, err := s.Payments.Verify(r.Context(), q.Get("providerOrderId"), q.Get("transactionId"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payment)
	}
}

type statusResponse struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Found     bool      `json:"found"`
	Status    string    `json:"status,omitempty"`
}

func (s *Server) paymentStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "paymentId")
		if !ok {
			return
		}
		status, found, err := s.Payments.Status(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{PaymentID: id, Found: found, Status: status})
	}
}

func (s *Server) latestPaymentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := pathUUID(w, r, "jobId")
		if !ok {
			return
		}
		payment, err := s.Payments.LatestForJob(r.Context(), jobID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payment)
	}
}

func (s *Server) initiatePayoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.PayoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "malformed request body")
			return
		}
		payout, err := s.Payouts.Initiate(r.Context(), req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payout)
	}
}

func (s *Server) payoutStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "payoutId")
		if !ok {
			return
		}
		payout, err := s.Payouts.Status(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payout)
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

type errorResponse struct {
	Error    string          `json:"error"`
	Original json.RawMessage `json:"original_response,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindDuplicate, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	code := StatusFor(kind)
	if code >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "kind", kind, "error", err)
	}

	resp := errorResponse{Error: apperr.Message(err)}
	var ae *apperr.Error
	if errors.As(err, &ae) && kind == apperr.KindDuplicate {
		resp.Original = ae.Replay
	}
	writeJSON(w, code, resp)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
