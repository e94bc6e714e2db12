package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/solstice-desk/relay/internal/session"
)

const serviceName = "solstice-desk-relay"

// Version is stamped into the identity and health responses.
var Version = "0.1.0"

var startedAt = time.Now()

// Routes builds the HTTP surface: the websocket endpoint, the session
// side-channel, health, and metrics.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIdentity)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/{code}", s.handleSessionLookup)
		r.Delete("/{code}", s.handleSessionRevoke)
	})

	return r
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "UNAUTHORIZED"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIdentity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    serviceName,
		"version": Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.store.Stats()

	body := map[string]any{
		"status":      "ok",
		"version":     Version,
		"uptime":      time.Since(startedAt).Seconds(),
		"sessions":    stats.Sessions,
		"viewers":     stats.Viewers,
		"connections": s.hub.Count(),
	}
	if avg, err := load.Avg(); err == nil {
		body["load"] = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		body["memory"] = map[string]any{
			"used":        vm.Used,
			"total":       vm.Total,
			"usedPercent": vm.UsedPercent,
		}
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSessionLookup(w http.ResponseWriter, r *http.Request) {
	code := session.Normalize(chi.URLParam(r, "code"))
	snap, ok := s.store.GetByCode(code)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "NOT_FOUND"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":       snap.Code,
		"deviceName": snap.Metadata.DeviceName,
		"os":         snap.Metadata.OS,
		"region":     snap.Metadata.Region,
		"expiresAt":  snap.ExpiresAt.UnixMilli(),
		"viewers":    snap.Viewers,
		"createdAt":  snap.CreatedAt.UnixMilli(),
	})
}

// handleSessionRevoke tears the session down exactly as an agent disconnect
// would, then severs the agent socket with the host-disconnected status so
// the desktop app notices immediately.
func (s *Server) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	code := session.Normalize(chi.URLParam(r, "code"))

	agent, hasAgent := s.store.AgentPeer(code)
	if !s.store.Revoke(code) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "NOT_FOUND"})
		return
	}
	if hasAgent {
		agent.Peer.CloseWithStatus(session.CloseHostDisconnected, "Session revoked")
	}

	s.log.Info("session_revoked", "code", code)
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
