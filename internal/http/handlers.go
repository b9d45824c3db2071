package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Cypherspark/bulk-sms/internal/apperr"
	"github.com/Cypherspark/bulk-sms/internal/core"
	"github.com/Cypherspark/bulk-sms/internal/provider"
	"github.com/Cypherspark/bulk-sms/internal/worker"
)

const maxBodyBytes = 1 << 20

// Jobs is the async side of the API; *worker.Runner satisfies it.
type Jobs interface {
	Submit(req core.SendRequest) (string, error)
	Get(id string) (worker.Job, bool)
}

type Server struct {
	Gateway       provider.Gateway
	Sender        worker.Sender
	Jobs          Jobs
	Store         core.Store
	Log           zerolog.Logger
	DefaultSender string
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, instrument, middleware.Recoverer, cors)

	s.mountOps(r)

	r.Post("/send-sms", s.sendSMS)
	r.Post("/bulk-sms", s.bulkSend)
	r.Post("/bulk-sms/jobs", s.submitJob)
	r.Get("/bulk-sms/jobs/{id}", s.getJob)
	r.Get("/bulk-sms/logs", s.listLogs)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, extra map[string]any) {
	body := map[string]any{"success": false, "error": msg}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	return true
}

// statusFor maps an error kind to the HTTP status the API reports.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindGateway:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type edgeRequest struct {
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
	Sender     string   `json:"sender"`
	Test       bool     `json:"test"`
	Param1     string   `json:"param1"`
}

// sendSMS forwards one request to the gateway unchanged. It is the thin edge
// function the orchestrator's UI callers also use directly.
func (s *Server) sendSMS(w http.ResponseWriter, r *http.Request) {
	var in edgeRequest
	if !decode(w, r, &in) {
		return
	}
	sender := strings.TrimSpace(in.Sender)
	if sender == "" {
		sender = s.DefaultSender
	}
	req := provider.SendRequest{Recipients: in.Recipients, Message: in.Message, Sender: sender, Test: in.Test}
	if in.Param1 != "" {
		req.Links = strings.Split(in.Param1, "|")
	}

	res, err := s.Gateway.Send(r.Context(), req)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	if res.SentCount == 0 && len(res.InvalidNumbers) > 0 {
		writeError(w, http.StatusBadRequest, provider.ErrorMessage(provider.CodeNoValidNumbers, ""), map[string]any{
			"errorCode":      provider.CodeNoValidNumbers,
			"invalidNumbers": res.InvalidNumbers,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"sentCount":       res.SentCount,
		"totalRecipients": len(in.Recipients),
		"messageIds":      res.MessageIDs,
		"cost":            res.TotalCost,
		"currency":        core.Currency,
		"details": map[string]any{
			"sent":    res.Results,
			"invalid": res.InvalidNumbers,
		},
	})
}

func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ge *apperr.GatewayError
		pe *apperr.GatewayParseError
		ce *apperr.ConfigurationError
	)
	switch {
	case errors.As(err, &ge):
		writeError(w, http.StatusBadRequest, ge.Message, map[string]any{"errorCode": ge.Code})
	case errors.As(err, &ce):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("gateway not configured")
		writeError(w, http.StatusInternalServerError, "SMS service is not configured", map[string]any{"details": ce.Error()})
	case errors.As(err, &pe):
		writeError(w, http.StatusInternalServerError, "invalid response from SMS provider", map[string]any{"details": pe.Body})
	case apperr.KindOf(err) == apperr.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("gateway call failed")
		writeError(w, http.StatusInternalServerError, "failed to send SMS", map[string]any{"details": err.Error()})
	}
}

func (s *Server) bulkSend(w http.ResponseWriter, r *http.Request) {
	var in core.SendRequest
	if !decode(w, r, &in) {
		return
	}
	res, err := s.Sender.SendSMS(r.Context(), in, nil)
	if err != nil {
		writeError(w, statusFor(err), err.Error(), map[string]any{"kind": apperr.KindOf(err)})
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var in core.SendRequest
	if !decode(w, r, &in) {
		return
	}
	if _, err := core.ValidateRequest(in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), map[string]any{"kind": apperr.KindValidation})
		return
	}
	id, err := s.Jobs.Submit(in)
	if errors.Is(err, worker.ErrQueueFull) {
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	w.Header().Set("Location", "/bulk-sms/jobs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.Jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.Store.(core.LogLister)
	if !ok {
		writeError(w, http.StatusNotImplemented, "store cannot list logs", nil)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	var campaignID *string
	if v := r.URL.Query().Get("campaignId"); v != "" {
		campaignID = &v
	}
	items, err := lister.ListBulkMessageLogs(r.Context(), campaignID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if items == nil {
		items = []core.BulkMessageLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit})
}
