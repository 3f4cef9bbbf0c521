package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	"github.com/ahmethakanbesel/stock-etl/internal/queue"
)

type handler struct {
	jobs  []JobQueue
	index map[string]*queue.Service
}

type statsResponse struct {
	RunDate string `json:"runDate"`
	queue.Stats
	SuccessRate float64 `json:"successRate"`
}

type resetBody struct {
	Status string   `json:"status"`
	Keys   []string `json:"keys"`
}

type resetResponse struct {
	Reset int64 `json:"reset"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs)
}

func (h *handler) getStats(w http.ResponseWriter, r *http.Request) {
	svc, runDate, ok := h.resolve(w, r)
	if !ok {
		return
	}

	st, err := svc.Stats(r.Context(), runDate)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		RunDate:     runDate.Format(queue.DateFormat),
		Stats:       st,
		SuccessRate: st.SuccessRate(),
	})
}

func (h *handler) listEntries(w http.ResponseWriter, r *http.Request) {
	svc, runDate, ok := h.resolve(w, r)
	if !ok {
		return
	}

	req := queue.ListEntriesRequest{
		RunDate: runDate,
		Status:  queue.Status(strings.ToLower(r.URL.Query().Get("status"))),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = n
	}

	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	entries, err := svc.List(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if entries == nil {
		entries = []queue.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	svc, runDate, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var body resetBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := queue.ResetRequest{
		RunDate: runDate,
		Status:  queue.Status(strings.ToLower(body.Status)),
		Keys:    body.Keys,
	}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	n, err := svc.Reset(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resetResponse{Reset: n})
}

// resolve looks up the job and run date path values, writing the error
// response itself when either is invalid.
func (h *handler) resolve(w http.ResponseWriter, r *http.Request) (*queue.Service, time.Time, bool) {
	svc, ok := h.index[r.PathValue("job")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return nil, time.Time{}, false
	}

	runDate, err := time.Parse(queue.DateFormat, r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return nil, time.Time{}, false
	}
	return svc, runDate, true
}

func writeAppError(w http.ResponseWriter, err error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
