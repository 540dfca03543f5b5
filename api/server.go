package api

import (
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/wricardo/textrelay/relay"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Server serves the relay pages and JSON endpoints
type Server struct {
	registry *relay.Registry
	router   *mux.Router
	handler  http.Handler
}

// NewServer creates a server. Upgrade requests on any path go to relayHandler.
func NewServer(registry *relay.Registry, relayHandler http.Handler) *Server {
	s := &Server{
		registry: registry,
		router:   mux.NewRouter(),
	}

	s.setupRoutes(relayHandler)
	s.handler = UpgradeRouter(relayHandler, s.router)
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(relayHandler http.Handler) {
	// Pages
	s.router.HandleFunc("/", s.handleIdentityPage).Methods("GET")
	s.router.HandleFunc("/", s.handleChatPage).Methods("POST")

	// JSON endpoints
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/connections", s.handleListConnections).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	// Plain requests to the relay path get its validation errors
	s.router.Handle("/ws", relayHandler)
}

// Mount serves h at path for every method. Upgrade requests still go to the
// relay handler.
func (s *Server) Mount(path string, h http.Handler) {
	s.router.Handle(path, h)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// UpgradeRouter forwards WebSocket upgrade requests to upgrade and every
// other request to next, untouched.
func UpgradeRouter(upgrade, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			upgrade.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func renderPage(w http.ResponseWriter, status int, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("render page failed", "page", name, "error", err)
	}
}

// Page Handlers

type identityPage struct {
	Error string
}

type chatPage struct {
	Username string
}

func (s *Server) handleIdentityPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, http.StatusOK, "identity.html", identityPage{})
}

func (s *Server) handleChatPage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderPage(w, http.StatusBadRequest, "identity.html", identityPage{Error: "Invalid form"})
		return
	}

	username := strings.TrimSpace(r.PostForm.Get("username"))
	if username == "" {
		renderPage(w, http.StatusBadRequest, "identity.html", identityPage{Error: "Nickname is required"})
		return
	}
	if strings.Contains(username, "|") {
		renderPage(w, http.StatusBadRequest, "identity.html", identityPage{Error: "Nickname cannot contain '|'"})
		return
	}

	renderPage(w, http.StatusOK, "chat.html", chatPage{Username: username})
}

// Relay Handlers

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	identities := make([]string, 0)
	for _, entry := range s.registry.Snapshot() {
		if entry.Conn.State() == relay.StateOpen {
			identities = append(identities, entry.Identity)
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(identities),
		"identities": identities,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}
	http.NotFound(w, r)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
