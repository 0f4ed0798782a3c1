// Package server exposes the departures API over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mtarail/railboard"
	"github.com/mtarail/railboard/index"
	"github.com/mtarail/railboard/system"
)

// Server wires the resolver, the live index and the alerts feed into an HTTP
// API.
type Server struct {
	Resolver  *railboard.Resolver
	Index     railboard.IndexSource
	Feeds     railboard.FeedSource
	AlertsURL string
	Metrics   http.Handler
	Log       *zap.Logger
}

func (s *Server) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// Router builds the route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/healthz", s.handleHealth)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/departures/{stationKey}", s.handleDepartures)
		r.Get("/stations", s.handleStations)
		r.Get("/stations/{stationKey}", s.handleStation)
		r.Get("/alerts", s.handleAlerts)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ix := s.Index.Live()
	if ix == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"lastRefreshed": ix.LastRefreshed.Format(time.RFC3339),
	})
}

func (s *Server) handleDepartures(w http.ResponseWriter, r *http.Request) {
	stationKey := chi.URLParam(r, "stationKey")

	opts := railboard.Options{Source: r.URL.Query().Get("source")}
	if raw := r.URL.Query().Get("limitMinutes"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "limitMinutes must be a positive integer")
			return
		}
		opts.LimitMinutes = limit
	}

	departures, err := s.Resolver.DeparturesForStation(r.Context(), stationKey, opts)
	if err != nil {
		s.log().Warn("departures request failed",
			zap.String("station", stationKey), zap.Error(err))
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"station":    stationKey,
		"departures": departures,
	})
}

// StationResponse is the API shape of one stop record.
type StationResponse struct {
	Key        string        `json:"key"`
	Name       string        `json:"name"`
	System     system.System `json:"system"`
	Borough    string        `json:"borough,omitempty"`
	Lat        float64       `json:"lat"`
	Lon        float64       `json:"lon"`
	IsTerminal bool          `json:"isTerminal"`
	NorthLabel string        `json:"northLabel,omitempty"`
	SouthLabel string        `json:"southLabel,omitempty"`
	ADA        *int          `json:"ada,omitempty"`
	ADANotes   string        `json:"adaNotes,omitempty"`
	Routes     []string      `json:"routes"`
	Platforms  []string      `json:"platforms,omitempty"`
}

func stationResponse(stop *index.StopInfo) StationResponse {
	resp := StationResponse{
		Key:        stop.Key,
		Name:       stop.Name,
		System:     stop.System,
		Borough:    stop.Borough,
		Lat:        stop.Lat,
		Lon:        stop.Lon,
		IsTerminal: stop.IsTerminal,
		NorthLabel: stop.NorthLabel,
		SouthLabel: stop.SouthLabel,
		ADA:        stop.ADAStatus,
		ADANotes:   stop.ADANotes,
		Routes:     sortedKeys(stop.ServedByOriginalRouteIDs),
		Platforms:  sortedKeys(stop.ChildOriginalStopIDs),
	}
	if resp.Routes == nil {
		resp.Routes = []string{}
	}
	return resp
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	ix := s.Index.Live()
	if ix == nil {
		respondError(w, http.StatusServiceUnavailable, "index not ready")
		return
	}
	stop := ix.Stop(chi.URLParam(r, "stationKey"))
	if stop == nil {
		respondError(w, http.StatusNotFound, "station not found")
		return
	}
	respondJSON(w, http.StatusOK, stationResponse(stop))
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	ix := s.Index.Live()
	if ix == nil {
		respondError(w, http.StatusServiceUnavailable, "index not ready")
		return
	}

	var filter system.System
	if raw := r.URL.Query().Get("system"); raw != "" {
		filter = system.System(raw)
	}

	stations := []StationResponse{}
	for _, stop := range ix.Stops {
		// Platforms are reachable through their parent record.
		if stop.ParentStationKey != "" {
			continue
		}
		if filter != "" && stop.System != filter {
			continue
		}
		stations = append(stations, stationResponse(stop))
	}
	sort.Slice(stations, func(i, j int) bool { return stations[i].Key < stations[j].Key })

	respondJSON(w, http.StatusOK, map[string]any{"stations": stations})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	res := s.Feeds.Fetch(r.Context(), s.AlertsURL)
	if res == nil || res.Message == nil {
		respondError(w, http.StatusBadGateway, "alerts feed unavailable")
		return
	}
	alerts := railboard.AlertsFromFeed(res.Message, r.URL.Query().Get("route"))
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
