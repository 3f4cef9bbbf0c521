package server

import (
	"net/http"
	"sort"

	"github.com/ahmethakanbesel/stock-etl/internal/queue"
)

// JobQueue exposes one configured job's queue through the admin API.
type JobQueue struct {
	Name       string         `json:"name"`
	Market     string         `json:"market,omitempty"`
	QueueTable string         `json:"queueTable"`
	Providers  []string       `json:"providers"`
	Service    *queue.Service `json:"-"`
}

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(jobs []JobQueue) http.Handler {
	return newMux(jobs)
}

func newMux(jobs []JobQueue) http.Handler {
	sorted := append([]JobQueue(nil), jobs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := &handler{
		jobs:  sorted,
		index: make(map[string]*queue.Service, len(jobs)),
	}
	for _, j := range sorted {
		h.index[j.Name] = j.Service
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/jobs", h.listJobs)
	mux.HandleFunc("GET /api/v1/jobs/{job}/queue/{date}/stats", h.getStats)
	mux.HandleFunc("GET /api/v1/jobs/{job}/queue/{date}/entries", h.listEntries)
	mux.HandleFunc("POST /api/v1/jobs/{job}/queue/{date}/reset", h.reset)

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
