package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"decoynet/pkg/fingerprint"
	"decoynet/pkg/ingest"
	"decoynet/pkg/models"
	"decoynet/pkg/store"
)

// apiServer exposes the backend surface consumed by honeypot sensors and
// the operator dashboard.
type apiServer struct {
	orch         *ingest.Orchestrator
	store        store.Store
	fingerprints *fingerprint.Aggregator
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rec models.RequestRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if rec.SourceIP == "" || rec.URL == "" || rec.Method == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	ev, err := s.orch.SubmitEvent(r.Context(), rec)
	if err != nil {
		log.Printf("Failed to store event: %v", err)
		http.Error(w, "Failed to store event", http.StatusInternalServerError)
		return
	}
	writeJSON(w, ev)
}

func (s *apiServer) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rec models.RequestRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.orch.ScoreRequest(r.Context(), rec))
}

func (s *apiServer) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	if err := s.orch.TrainModels(r.Context()); err != nil {
		log.Printf("Training failed: %v", err)
		http.Error(w, "Training failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"success":     true,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (s *apiServer) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		http.Error(w, "Missing ip parameter", http.StatusBadRequest)
		return
	}
	fp, ok := s.fingerprints.Get(ip)
	if !ok {
		http.Error(w, "Unknown source", http.StatusNotFound)
		return
	}
	writeJSON(w, fp)
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.RecentEvents(r.Context(), queryLimit(r, 100))
	if err != nil {
		log.Printf("Failed to load events: %v", err)
		http.Error(w, "Failed to load events", http.StatusInternalServerError)
		return
	}
	if min := models.Severity(r.URL.Query().Get("min_severity")); min != "" {
		filtered := events[:0]
		for _, ev := range events {
			if !ev.Severity.Less(min) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	writeJSON(w, events)
}

func (s *apiServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.RecentAlerts(r.Context(), queryLimit(r, 50))
	if err != nil {
		log.Printf("Failed to load alerts: %v", err)
		http.Error(w, "Failed to load alerts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, alerts)
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountEventsBySeverity(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		log.Printf("Failed to load stats: %v", err)
		http.Error(w, "Failed to load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"window_hours":       24,
		"events_by_severity": counts,
		"tracked_sources":    s.fingerprints.Size(),
	})
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
