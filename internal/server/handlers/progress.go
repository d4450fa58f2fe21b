package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/redleafbio/hemescreen/pkg/dispatch"
)

// ProgressSource yields a point-in-time snapshot of the running
// screen. *dispatch.Pool satisfies it.
type ProgressSource interface {
	Progress() dispatch.Progress
}

// Progress serves the current run counters as JSON.
func Progress(src ProgressSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(src.Progress())
	}
}
