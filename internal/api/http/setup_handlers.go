package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/duerelay/duerelay/internal/domain/notification"
	"github.com/duerelay/duerelay/internal/domain/tenant"
)

type setupRequest struct {
	ClientID string `json:"clientId"`
	Token    string `json:"token"`
}

// POST /api/setup
func (s *Server) setup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Token == "" {
		req.Token = extractToken(r)
	}
	created, err := s.setupSvc.CreateTenant(r.Context(), req.ClientID, req.Token)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created.Token != "" {
		status = http.StatusCreated
	}
	respondJSON(w, status, created)
}

// GET /api/status/{clientId}
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	view, err := s.setupSvc.Status(chi.URLParam(r, "clientId"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type configRequest struct {
	ClientID            string                  `json:"clientId"`
	LedgerLocator       string                  `json:"sheetUrl"`
	PaymentInstructions string                  `json:"chavePix"`
	Rules               *notification.Rules     `json:"rules,omitempty"`
	Templates           *notification.Templates `json:"templates,omitempty"`
}

func (req configRequest) config() tenant.Config {
	cfg := tenant.Config{
		LedgerLocator:       req.LedgerLocator,
		PaymentInstructions: req.PaymentInstructions,
		Rules:               tenant.DefaultRules(),
	}
	if req.Rules != nil {
		cfg.Rules = *req.Rules
	}
	if req.Templates != nil {
		cfg.Templates = *req.Templates
	}
	return cfg
}

// POST /api/config
func (s *Server) setConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.ClientID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "clientId required")
		return
	}
	if err := s.setupSvc.Authenticate(req.ClientID, extractToken(r)); err != nil {
		s.respondServiceError(w, err)
		return
	}
	if err := s.setupSvc.SetConfig(r.Context(), req.ClientID, req.config()); err != nil {
		s.respondServiceError(w, err)
		return
	}
	view, err := s.setupSvc.Status(req.ClientID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/process/{clientId} runs a cycle now and reports its counts.
func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	out, err := s.setupSvc.Trigger(r.Context(), chi.URLParam(r, "clientId"))
	if err != nil {
		status, code := errorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error().Err(err).Msg("manual cycle failed")
		}
		respondJSON(w, status, map[string]interface{}{
			"error":   code,
			"message": err.Error(),
			"outcome": out,
		})
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// POST /api/disconnect/{clientId} logs out and erases the tenant.
func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	if err := s.setupSvc.Disconnect(r.Context(), clientID); err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			s.respondServiceError(w, err)
			return
		}
		// The tenant is gone either way; report what could not be cleaned up.
		s.logger.Warn().Err(err).Str("tenant_id", clientID).Msg("disconnect finished with errors")
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"clientId":     clientID,
			"disconnected": true,
			"warning":      err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"clientId":     clientID,
		"disconnected": true,
	})
}
