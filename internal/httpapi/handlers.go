package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"lifesync/internal/core"
	"lifesync/internal/log"
	"lifesync/internal/sync"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidPeriodKey),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidTransaction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sync.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, sync.ErrRefresh):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Document())
}

func (s *Server) handlePatchDocument(w http.ResponseWriter, r *http.Request) {
	var patch core.DocumentPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	if patch.IsZero() {
		writeError(w, http.StatusBadRequest, "empty patch")
		return
	}

	if err := s.engine.Save(r.Context(), patch); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Save failed",
			log.FieldError, err.Error(),
			log.FieldOperation, log.OpSave)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

func (s *Server) handleSynchronize(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Synchronize(r.Context()); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Synchronize failed",
			log.FieldError, err.Error(),
			log.FieldOperation, log.OpSync)
		// The pending change is retained, so the caller can retry.
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Refresh(r.Context()); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Refresh failed",
			log.FieldError, err.Error(),
			log.FieldOperation, log.OpRefresh)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Document())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if summary, ok := s.summaryCache.Get("summary"); ok {
		writeJSON(w, http.StatusOK, summary)
		return
	}
	summary := s.engine.Summary()
	s.summaryCache.Set("summary", summary)
	writeJSON(w, http.StatusOK, summary)
}

type monthlyResponse struct {
	Month  core.PeriodKey     `json:"month"`
	Record core.MonthlyRecord `json:"record"`
}

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("month")
	canonical, ok := core.NormalizePeriod(raw)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "unrecognized month key: "+raw)
		return
	}

	if rec, ok := s.monthlyCache.Get(string(canonical)); ok {
		writeJSON(w, http.StatusOK, monthlyResponse{Month: canonical, Record: rec})
		return
	}

	rec, key, err := s.engine.Monthly(r.Context(), raw)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.monthlyCache.Set(string(key), rec)
	writeJSON(w, http.StatusOK, monthlyResponse{Month: key, Record: rec})
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var tx core.Transaction
	if !decodeBody(w, r, &tx) {
		return
	}

	created, err := s.engine.AddTransaction(r.Context(), r.PathValue("month"), tx)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Add transaction failed",
			log.FieldError, err.Error(),
			log.FieldPeriodKey, r.PathValue("month"))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
