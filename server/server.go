package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/wricardo/wsnexus/api"
	"github.com/wricardo/wsnexus/config"
	"github.com/wricardo/wsnexus/metrics"
	"github.com/wricardo/wsnexus/relay/registry"
	"github.com/wricardo/wsnexus/transport/mcp"
	"github.com/wricardo/wsnexus/transport/websocket"
)

const shutdownTimeout = 10 * time.Second

// Option customizes a Server
type Option func(*Server)

// WithListener serves on l instead of binding cfg.Addr(), e.g. an ngrok tunnel.
// TLS settings are ignored; the listener owns transport security.
func WithListener(l net.Listener) Option {
	return func(s *Server) { s.listener = l }
}

// Server runs one relay: the hub, its HTTP surface and, when configured, the
// metrics endpoint.
type Server struct {
	cfg      config.Config
	registry *registry.Registry
	hub      *websocket.Hub
	metrics  *metrics.Server

	mux        *http.ServeMux
	httpServer *http.Server
	listener   net.Listener
	mcpClient  *mcp.Client

	startOnce sync.Once
	done      chan struct{}
	err       error
}

// New builds a relay from cfg without binding anything.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		registry: registry.New(),
		mux:      http.NewServeMux(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	relayMetrics := metrics.Noop()
	if cfg.MetricsPort > 0 {
		ms, err := metrics.NewServer(cfg.MetricsPort, "")
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		relayMetrics, err = metrics.NewRelay(ms.Meter)
		if err != nil {
			return nil, fmt.Errorf("relay metrics: %w", err)
		}
		s.metrics = ms
	}

	s.hub = websocket.NewHub(s.registry,
		websocket.WithMetrics(relayMetrics),
		websocket.WithPingInterval(cfg.PingInterval),
		websocket.WithMaxMessageSize(cfg.MaxMessageSize),
	)

	status := api.NewServer(s.registry, s.hub)
	s.mcpClient = mcp.NewClient("http://relay", mcp.WithHTTPClient(&http.Client{
		Transport: inProcess{status},
		Timeout:   10 * time.Second,
	}))

	s.mux.Handle("/", status)
	s.mux.HandleFunc("/mcp", s.handleMCP)

	s.httpServer = &http.Server{
		Handler:     s.mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s, nil
}

// Listen binds the relay address. Serve and Start call it when needed.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}

	tlsConfig, err := s.cfg.TLSConfig()
	if err != nil {
		_ = ln.Close()
		return err
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr()
	}
	return s.listener.Addr().String()
}

// URL returns the WebSocket address peers connect to.
func (s *Server) URL() string {
	if s.cfg.HasTLS() {
		return "wss://" + s.Addr()
	}
	return "ws://" + s.Addr()
}

// Registry exposes the session registry for inspection.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Serve runs the relay until ctx is done, then shuts everything down.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	go s.hub.Run(hubCtx)

	if s.metrics != nil {
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil {
				log.Errorf("%s", err)
			}
		}()
		log.Infof("metrics on %s%s", s.metrics.Addr, s.metrics.Endpoint)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.httpServer.Serve(s.listener) }()
	log.Infof("relay listening on %s", s.URL())

	select {
	case <-ctx.Done():
		log.Info("shutting down relay")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			stopHub()
			<-s.hub.Done()
			return fmt.Errorf("serve: %w", err)
		}
	}
	return s.shutdown(stopHub)
}

// shutdown closes every socket through the hub, then the HTTP servers.
func (s *Server) shutdown(stopHub context.CancelFunc) error {
	var result *multierror.Error

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopHub()
	select {
	case <-s.hub.Done():
	case <-ctx.Done():
		result = multierror.Append(result, errors.New("hub: sockets still open at shutdown deadline"))
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}
	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("metrics: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// Start binds and serves in the background. Wait returns what Serve returned.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.startOnce.Do(func() {
		go func() {
			s.err = s.Serve(ctx)
			close(s.done)
		}()
	})
	return nil
}

// Wait blocks until a started server has stopped.
func (s *Server) Wait() error {
	<-s.done
	return s.err
}

// handleMCP answers MCP requests over HTTP. The tools read this relay's status
// API in process.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	response := s.mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

	w.Header().Set("Content-Type", "application/json")
	responseData, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(responseData)
}

// inProcess serves HTTP requests straight from a handler.
type inProcess struct {
	handler http.Handler
}

func (t inProcess) RoundTrip(r *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	t.handler.ServeHTTP(rec, r)
	return rec.Result(), nil
}
