// Package adminapi exposes the management HTTP API: blacklist and whitelist
// edits, security-level changes, per-address traffic inspection and the
// Prometheus scrape endpoint.
package adminapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khoa-s-development/SentinelProxy-sub002/config"
	"github.com/khoa-s-development/SentinelProxy-sub002/helpers"
	"github.com/khoa-s-development/SentinelProxy-sub002/logger"
	"github.com/khoa-s-development/SentinelProxy-sub002/server"
)

// Server is the management HTTP API server.
type Server struct {
	addr    string
	apiKey  string
	manager *server.SecurityManager
	server  *http.Server
}

// New builds the API server. An API key is mandatory; the server refuses to
// start without one.
func New(manager *server.SecurityManager, cfg config.AdminAPIConfig) (*Server, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the admin API server")
	}
	return &Server{
		addr:    cfg.Addr,
		apiKey:  cfg.APIKey,
		manager: manager,
	}, nil
}

// Start creates the server and runs it until ctx is cancelled, sending any
// startup or serve failure to errChan.
func Start(ctx context.Context, manager *server.SecurityManager, cfg config.AdminAPIConfig, errChan chan error) {
	srv, err := New(manager, cfg)
	if err != nil {
		errChan <- fmt.Errorf("failed to create admin API server: %w", err)
		return
	}

	logger.Info("starting admin API server", "addr", cfg.Addr)
	if err := srv.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("admin API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("shutting down admin API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down admin API server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	// Prometheus scrapers do not carry the API key.
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/status", s.handleStatus).Methods("GET")

	v1.HandleFunc("/security/level", s.handleGetLevel).Methods("GET")
	v1.HandleFunc("/security/level", s.handleSetLevel).Methods("PUT")

	v1.HandleFunc("/blacklist", s.handleBlacklist).Methods("POST")
	v1.HandleFunc("/blacklist/{address}", s.handleCheckBlacklist).Methods("GET")
	v1.HandleFunc("/blacklist/{address}", s.handleRemoveBlacklist).Methods("DELETE")

	v1.HandleFunc("/whitelist", s.handleWhitelist).Methods("POST")
	v1.HandleFunc("/whitelist/{address}", s.handleRemoveWhitelist).Methods("DELETE")

	v1.HandleFunc("/addresses/{address}/traffic", s.handleTraffic).Methods("GET")
	v1.HandleFunc("/addresses/{address}/events/{event}", s.handleEventCount).Methods("GET")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("admin API request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Request/Response types

type BlacklistRequest struct {
	Address  string `json:"address"`
	Reason   string `json:"reason,omitempty"`
	Duration string `json:"duration,omitempty"` // empty means permanent
}

type WhitelistRequest struct {
	Address string `json:"address"`
	Reason  string `json:"reason,omitempty"`
}

type SetLevelRequest struct {
	Level string `json:"level"`
}

// Handler functions

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"level": s.manager.Level().String()})
}

func (s *Server) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req SetLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	level, ok := server.ParseSecurityLevel(req.Level)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Level must be one of: low, medium, high, extreme")
		return
	}
	s.manager.SetLevel(level)
	s.writeJSON(w, http.StatusOK, map[string]string{"level": level.String()})
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req BlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Address == "" {
		s.writeError(w, http.StatusBadRequest, "Address is required")
		return
	}

	var duration time.Duration
	if req.Duration != "" {
		var err error
		duration, err = helpers.ParseDuration(req.Duration)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid duration")
			return
		}
	}

	if err := s.manager.Access().Blacklist(req.Address, req.Reason, duration); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "blacklisted", "address": req.Address})
}

func (s *Server) handleCheckBlacklist(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":     address,
		"blacklisted": s.manager.Access().IsBlacklisted(address),
		"whitelisted": s.manager.Access().IsWhitelisted(address),
	})
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if err := s.manager.Access().RemoveBlacklist(address); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "address": address})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req WhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Address == "" {
		s.writeError(w, http.StatusBadRequest, "Address is required")
		return
	}

	if err := s.manager.Access().Whitelist(req.Address, req.Reason); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "whitelisted", "address": req.Address})
}

func (s *Server) handleRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if err := s.manager.Access().RemoveWhitelist(address); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "address": address})
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	snap := s.manager.Tracker().Snapshot(address)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":            address,
		"connection_rate":    snap.ConnectionRate,
		"syn_rate":           snap.SYNRate,
		"udp_rate":           snap.UDPRate,
		"distinct_ports":     snap.DistinctPorts,
		"active_connections": snap.ActiveConnections,
	})
}

func (s *Server) handleEventCount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": vars["address"],
		"event":   vars["event"],
		"count":   s.manager.SecurityEventCount(vars["address"], vars["event"]),
	})
}
