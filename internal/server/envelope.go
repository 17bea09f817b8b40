package server

import (
	"encoding/json"
	"net/http"
)

// envelope is the response shape every JSON endpoint returns.
type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Item    any    `json:"item"`
}

func writeJSON(w http.ResponseWriter, status int, message string, item any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Status: status, Message: message, Item: item})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, message, nil)
}
