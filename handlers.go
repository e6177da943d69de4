package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/vtrstats/locstats"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *locstats.StateTracker, config *locstats.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status       string    `json:"status"`
			Timestamp    time.Time `json:"timestamp"`
			HasSummaries bool      `json:"hasSummaries"`
			LastUpdate   time.Time `json:"lastUpdate"`
		}{
			Status:       "ok",
			Timestamp:    time.Now(),
			HasSummaries: stateTracker.HasSummaries(),
			LastUpdate:   stateTracker.LastUpdate(),
		}
		writeJSONResponse(w, status)
	})

	mux.HandleFunc("GET /summaries", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.Result()
		if result == nil {
			http.Error(w, "No summaries available", http.StatusServiceUnavailable)
			return
		}
		writeJSONResponse(w, result.Summaries)
	})

	mux.HandleFunc("GET /summaries/{run}", func(w http.ResponseWriter, r *http.Request) {
		run, err := strconv.Atoi(r.PathValue("run"))
		if err != nil {
			http.Error(w, "Invalid run index", http.StatusBadRequest)
			return
		}
		summary, ok := stateTracker.Summary(run)
		if !ok {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		writeJSONResponse(w, summary)
	})

	mux.HandleFunc("GET /failures", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.Result()
		if result == nil {
			http.Error(w, "No summaries available", http.StatusServiceUnavailable)
			return
		}
		writeJSONResponse(w, result.Failures)
	})

	mux.HandleFunc("GET /cdf", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.Result()
		if result == nil || len(result.Summaries) == 0 {
			http.Error(w, "No summaries available", http.StatusServiceUnavailable)
			return
		}
		report, err := buildCDFReport(result.Summaries, config)
		if err != nil {
			// Summaries restored from a snapshot carry no inlier samples
			log.Printf("[HTTP] /cdf: %v", err)
			http.Error(w, "Inlier samples not loaded", http.StatusServiceUnavailable)
			return
		}
		writeJSONResponse(w, report.Curves)
	})

	mux.HandleFunc("GET /time-distance", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.Result()
		if result == nil {
			http.Error(w, "No summaries available", http.StatusServiceUnavailable)
			return
		}
		ref, err := config.ReferenceTime()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSONResponse(w, locstats.RunTimeDistances(result.Summaries, ref))
	})

	mux.HandleFunc("GET /trajectory.geojson", func(w http.ResponseWriter, r *http.Request) {
		fc := stateTracker.Trajectories()
		if fc == nil {
			http.Error(w, "No trajectories available", http.StatusServiceUnavailable)
			return
		}
		data, err := fc.MarshalJSON()
		if err != nil {
			log.Printf("[HTTP] encoding trajectories: %v", err)
			http.Error(w, "Encoding error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(data); err != nil {
			log.Printf("[HTTP] writing trajectories: %v", err)
		}
	})

	return mux
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] error encoding response: %v", err)
	}
}
