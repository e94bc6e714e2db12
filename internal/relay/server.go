package relay

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/solstice-desk/relay/internal/config"
	"github.com/solstice-desk/relay/internal/session"
)

// Server owns the websocket endpoint: upgrade policy, per-connection read
// loops, and the cascade from socket closure into registry detach.
type Server struct {
	cfg     *config.Config
	store   *session.Store
	hub     *Hub
	router  *Router
	log     *slog.Logger
	metrics *Metrics

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(cfg *config.Config, store *session.Store, hub *Hub, router *Router, log *slog.Logger, metrics *Metrics) *Server {
	s := &Server{
		cfg:            cfg,
		store:          store,
		hub:            hub,
		router:         router,
		log:            log,
		metrics:        metrics,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	peer := newWSPeer(conn, s.cfg.Relay.SendQueue, s.cfg.Relay.MaxBufferedBytes)
	client := s.hub.Register(peer)
	s.log.Info("ws_connected", "id", client.ID, "remote", r.RemoteAddr)

	defer func() {
		// Socket closure detaches synchronously: a Connection never outlives
		// its socket in the registry.
		s.hub.Remove(client.ID)
		s.log.Info("ws_disconnected",
			"id", client.ID, "role", client.Role().String(), "remote", r.RemoteAddr)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.router.HandleMessage(client, data)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Relay-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}
