package main

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// API Handlers

func handleMonitorState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(serverState.snapshot())
}

// handleMonitorHistory returns the most recent cycles, oldest first.
// ?n= limits the count.
func handleMonitorHistory(w http.ResponseWriter, r *http.Request) {
	hist := serverState.history()
	if s := r.URL.Query().Get("n"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid n", 400)
			return
		}
		if n < len(hist) {
			hist = hist[len(hist)-n:]
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":   len(hist),
		"updates": hist,
	})
}
