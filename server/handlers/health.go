package handlers

import (
	"net/http"

	"github.com/teilomillet/ainu/errors"
)

// Health reports that the process is serving. It does not call upstream.
func Health(w http.ResponseWriter, r *http.Request) {
	_ = errors.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
