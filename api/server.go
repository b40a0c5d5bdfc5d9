package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/wricardo/wsnexus/relay/protocol"
	"github.com/wricardo/wsnexus/relay/registry"
)

// Notice is the body served to plain HTTP requests on the relay endpoint.
const Notice = "wsnexus relay: connect with a WebSocket client to host or join a session.\n"

// Directory is the read side of the session registry
type Directory interface {
	ListPublic() []protocol.Fields
	Describe(id int) (registry.Info, error)
	Len() int
}

// Sockets accepts WebSocket upgrades
type Sockets interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Len() int
}

// InfoResponse is returned by GET /api/info
type InfoResponse struct {
	Name        string `json:"name"`
	APIVersion  string `json:"apiVersion"`
	Hosts       int    `json:"hosts"`
	Connections int    `json:"connections"`
	Uptime      string `json:"uptime"`
}

// HostsResponse is returned by GET /api/hosts
type HostsResponse struct {
	Count int               `json:"count"`
	Hosts []protocol.Fields `json:"hosts"`
}

// Server represents the relay's HTTP surface: the WebSocket endpoint plus a
// read-only status API
type Server struct {
	directory Directory
	sockets   Sockets
	router    *mux.Router
	started   time.Time
}

// NewServer creates a new API server
func NewServer(directory Directory, sockets Sockets) *Server {
	s := &Server{
		directory: directory,
		sockets:   sockets,
		router:    mux.NewRouter(),
		started:   time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	api.HandleFunc("/hosts", s.handleListHosts).Methods(http.MethodGet)
	api.HandleFunc("/hosts/{id}", s.handleGetHost).Methods(http.MethodGet)

	// Known paths with any other method, then unknown API paths
	for _, path := range []string{"/info", "/hosts", "/hosts/{id}"} {
		api.HandleFunc(path, methodNotAllowed)
	}
	api.PathPrefix("/").HandlerFunc(apiNotFound)

	// Everything else is the relay endpoint
	s.router.HandleFunc("/", s.handleRelay)
	s.router.HandleFunc("/ws", s.handleRelay)
	s.router.NotFoundHandler = http.HandlerFunc(s.handleRelay)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debugf("write response: %s", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func apiNotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.sockets.ServeWS(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Notice))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, InfoResponse{
		Name:        "wsnexus",
		APIVersion:  protocol.APIVersion,
		Hosts:       s.directory.Len(),
		Connections: s.sockets.Len(),
		Uptime:      time.Since(s.started).Truncate(time.Second).String(),
	})
}

// handleListHosts lists public descriptors. ?name= narrows the list to hosts
// with that name, case-insensitively.
func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts := s.directory.ListPublic()

	if name := r.URL.Query().Get("name"); name != "" {
		filtered := make([]protocol.Fields, 0, len(hosts))
		for _, h := range hosts {
			if strings.EqualFold(h.Name(), name) {
				filtered = append(filtered, h)
			}
		}
		hosts = filtered
	}

	respondJSON(w, http.StatusOK, HostsResponse{Count: len(hosts), Hosts: hosts})
}

func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "host id must be an integer")
		return
	}

	info, err := s.directory.Describe(id)
	if errors.Is(err, registry.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, info)
}
