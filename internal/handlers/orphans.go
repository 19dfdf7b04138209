package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListOrphans reports environments the runtime considers alive that no
// registered session owns.
func ListOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := Reconciler.Orphans(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to query runtime: "+err.Error())
		return
	}
	if orphans == nil {
		orphans = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orphans": orphans})
}

// DestroyOrphan removes a single orphaned environment by runtime identifier.
func DestroyOrphan(w http.ResponseWriter, r *http.Request) {
	runtimeID := chi.URLParam(r, "runtimeId")
	if runtimeID == "" {
		writeError(w, http.StatusBadRequest, "Runtime ID required")
		return
	}

	orphans, err := Reconciler.Orphans(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to query runtime: "+err.Error())
		return
	}
	found := false
	for _, id := range orphans {
		if id == runtimeID {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "Not an orphaned environment")
		return
	}

	Reconciler.DestroyOrphan(context.WithoutCancel(r.Context()), runtimeID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}
