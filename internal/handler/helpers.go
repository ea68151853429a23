package handler

import (
	"encoding/json"
	"net/http"

	"github.com/voightkampff/vk/internal/model"
)

// SessionCookie is the cookie the proxy forwards for browser clients.
const SessionCookie = "vk_session"

// writeJSON serializes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDetail writes the standard error envelope. Callers treat any body
// carrying a "detail" field as an error regardless of status text.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, model.ErrorResponse{Detail: detail})
}

// readJSON decodes the request body as JSON into v, closing the body.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
