// Package api serves the read-only HTTP views over the registry
// projection and the decision components: nodes, subnets, rollout plan,
// proposals and scrape targets. All decision making stays in the core;
// the handlers only render.
package api

import (
	"encoding/json"
	"log"
	"net/http"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
