package master

import (
	"encoding/json"
	"net/http"
)

// StructureHandler serves a JSON dump of the current placement table (the
// showStructure CLI command reads the store instead). /healthz and /metrics are wired
// separately by cmd/master from pkg/health and pkg/metrics, the same way
// every other process in the cluster exposes them.
func (c *Controller) StructureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
