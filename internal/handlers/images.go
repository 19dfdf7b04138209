package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drydock-sh/drydock/internal/runtime"
)

// ListProfiles returns every environment profile in the catalog.
func ListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": Catalog.List()})
}

// GetProfileImage reports whether a profile's image is present locally.
func GetProfileImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	prof, err := Catalog.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "Profile not found")
		return
	}

	exists, err := Adapter.ImageExists(r.Context(), prof)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to query runtime: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile": prof.Name,
		"image":   prof.Image,
		"exists":  exists,
	})
}

// BuildProfileImage builds or pulls a profile's image, streaming progress
// lines to the client as they arrive.
func BuildProfileImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	prof, err := Catalog.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "Profile not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	err = Adapter.BuildImage(r.Context(), prof, func(line string) {
		fmt.Fprintln(w, line)
		flusher.Flush()
	})
	if err != nil {
		var buildErr *runtime.BuildError
		if errors.As(err, &buildErr) {
			fmt.Fprintf(w, "ERROR: %s\n", buildErr.Detail)
		} else {
			fmt.Fprintf(w, "ERROR: %v\n", err)
		}
		flusher.Flush()
		return
	}
	fmt.Fprintln(w, "DONE")
	flusher.Flush()
}
