package handlers

import "net/http"

// GetStats returns the monitor's most recent utilization snapshot.
func GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":  Monitor.Snapshot(),
		"aggregate": Monitor.Aggregate(),
	})
}
