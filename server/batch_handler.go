package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"m3u8conv/cache"
	"m3u8conv/core/batch"
	"m3u8conv/core/media"
	"m3u8conv/logger"

	"github.com/gorilla/mux"
)

type submitRequest struct {
	Input           string `json:"input"`
	Output          string `json:"output"`
	Overwrite       string `json:"overwrite,omitempty"`
	ContinueOnError bool   `json:"continueOnError,omitempty"`
}

// BatchStatus is the JSON shape of a batch's progress.
type BatchStatus struct {
	ID        string  `json:"id"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Done      bool    `json:"done"`
	Error     string  `json:"error,omitempty"`
	Converted int     `json:"converted,omitempty"`
	Skipped   int     `json:"skipped,omitempty"`
	Failed    int     `json:"failed,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// SubmitBatchHandler validates the request up front so missing or
// unsupported inputs are reported synchronously, then queues the batch.
func (h *APIHandler) SubmitBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Input == "" || req.Output == "" {
		writeError(w, http.StatusBadRequest, "input and output are required")
		return
	}

	policy, err := batch.ParsePolicy(req.Overwrite)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Overwrite == "" {
		policy = h.deps.DefaultPolicy
	}
	if policy == batch.PolicyAsk {
		policy = batch.PolicySkip
	}

	br := media.BatchRequest{InputPath: req.Input, OutputDir: req.Output}
	if _, err := media.Expand(br); err != nil {
		switch {
		case errors.Is(err, media.ErrInputNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, media.ErrUnsupportedType):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	tk, err := h.deps.Queue.Submit(batch.Batch{
		Request:         br,
		Policy:          policy,
		ContinueOnError: req.ContinueOnError,
	}, nil)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	subject, _ := r.Context().Value(subjectKey).(string)
	logger.Info("Batch submitted over HTTP",
		logger.String("batchId", tk.ID()),
		logger.String("input", req.Input),
		logger.String("policy", string(policy)),
		logger.String("subject", subject))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": tk.ID()})
}

// BatchStatusHandler returns the latest progress of a batch.
func (h *APIHandler) BatchStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if tk, ok := h.deps.Queue.Get(id); ok {
		writeJSON(w, http.StatusOK, ticketStatus(tk))
		return
	}

	if h.deps.Progress != nil {
		snap, err := h.deps.Progress.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, BatchStatus{
				ID:        id,
				Completed: snap.Completed,
				Total:     snap.Total,
				Percent:   snap.Percent,
				Done:      snap.Status != cache.StatusRunning,
				Error:     snap.Error,
			})
			return
		}
		if !errors.Is(err, cache.ErrProgressNotFound) {
			logger.Warn("progress lookup failed", logger.String("batchId", id), logger.ErrorField(err))
		}
	}
	writeError(w, http.StatusNotFound, "batch not found")
}

func ticketStatus(tk *batch.Ticket) BatchStatus {
	p, _ := tk.Progress()
	st := BatchStatus{ID: tk.ID(), Completed: p.Completed, Total: p.Total, Percent: p.Percent()}
	select {
	case <-tk.Done():
	default:
		if p.Total == 0 {
			st.Percent = 0
		}
		return st
	}

	res, _ := tk.Wait()
	st.Done = true
	st.Converted = res.Count(batch.OutcomeConverted)
	st.Skipped = res.Count(batch.OutcomeSkipped)
	st.Failed = res.Count(batch.OutcomeFailed)
	if err := tk.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// HistoryHandler lists recent conversions, or one batch's with ?batch=.
func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusNotImplemented, "conversion history is not configured")
		return
	}

	if id := r.URL.Query().Get("batch"); id != "" {
		recs, err := h.deps.History.ListByBatch(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := h.deps.History.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
