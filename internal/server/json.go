package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeInternal logs the real error under a correlation id and hands the
// client only the id. Credentials and wrapped detail never leave the process.
func writeInternal(w http.ResponseWriter, context string, err error) {
	id := uuid.NewString()
	log.Printf("internal error [%s] %s: %v", id, context, err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":          "internal error",
		"correlation_id": id,
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
