package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harbz07/sanctuary-mythology/internal/mythos"
	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// ErrServerDisabled is returned by Start when the bridge is turned off.
var ErrServerDisabled = errors.New("eventbridge: server disabled")

// Engine is the part of *mythos.Engine the bridge exposes over HTTP.
type Engine interface {
	LogInvocation(ctx context.Context, name, contextText string, tags []string, weight int) (mythos.Outcome, error)
	Personas() []persona.Persona
	GenerateReport(name string) (string, error)
	ExportPresets() string
	SuggestEmergence(need string) mythos.Suggestion
}

// Server wraps the HTTP listener and handlers backing the event bridge.
type Server struct {
	settings Settings
	engine   Engine
	router   *Router
	logger   Logger
	clock    func() time.Time
	requests *recentSet

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithRouter exposes router readiness on /health.
func WithRouter(r *Router) Option {
	return func(s *Server) {
		s.router = r
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a bridge server over engine using the provided settings.
func NewServer(settings Settings, engine Engine, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		engine:   engine,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		requests: newRecentSet(dedupeWindow(settings)),
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func dedupeWindow(settings Settings) int {
	if settings.DedupeWindow > 0 {
		return settings.DedupeWindow
	}
	return DefaultDedupeWindow
}

// Handler returns the bridge routes; Start serves them on the configured
// address.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/invocations", s.handleInvocations)
	mux.HandleFunc("/personas", s.handlePersonas)
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/export", s.handleExport)
	mux.HandleFunc("/emergence", s.handleEmergence)
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("eventbridge: server is nil")
	}
	if s.engine == nil {
		return fmt.Errorf("eventbridge: engine is required")
	}
	if !s.settings.Enabled {
		return ErrServerDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("eventbridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("eventbridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("eventbridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("eventbridge: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to exit. The mutex is not held while draining; handlers read status.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	server := s.server
	if s.listener == nil || server == nil {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusDraining
	s.mu.Unlock()

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == server {
		s.listener = nil
		s.server = nil
	}
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(s.startTime).Seconds())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	resp := healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		RouterReady:   s.router != nil,
		Personas:      len(s.engine.Personas()),
		UptimeSeconds: s.uptimeSeconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req InvocationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.RequestID != "" && !s.requests.Add(req.RequestID) {
		writeJSON(w, http.StatusOK, invocationResponse{Status: "duplicate", RequestID: req.RequestID, ServerTime: s.now()})
		return
	}
	outcome, err := s.engine.LogInvocation(r.Context(), req.Persona, req.Context, req.Tags, req.Weight())
	if err != nil {
		switch {
		case errors.Is(err, mythos.ErrUnknownPersona):
			s.forgetRequest(req.RequestID)
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		case errors.Is(err, mythos.ErrInvalidWeight):
			s.forgetRequest(req.RequestID)
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		default:
			// The invocation is recorded in memory even when the save
			// fails, so the request id stays claimed.
			s.logger.Printf("eventbridge: invocation for %s failed: %v", req.Persona, err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "invocation failed"})
		}
		return
	}
	writeJSON(w, http.StatusAccepted, invocationResponse{
		Status:     "accepted",
		RequestID:  req.RequestID,
		ServerTime: s.now(),
		Outcome:    &outcome,
	})
}

// forgetRequest releases a request id whose invocation changed nothing, so a
// corrected retry is not reported as a duplicate.
func (s *Server) forgetRequest(id string) {
	if id != "" {
		s.requests.Remove(id)
	}
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Personas())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	report, err := s.engine.GenerateReport(strings.TrimSpace(r.URL.Query().Get("persona")))
	if err != nil {
		if errors.Is(err, mythos.ErrUnknownPersona) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "report failed"})
		return
	}
	writeText(w, "text/plain; charset=utf-8", report)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeText(w, "application/yaml; charset=utf-8", s.engine.ExportPresets())
}

func (s *Server) handleEmergence(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req EmergenceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Need) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "need is required"})
		return
	}
	writeJSON(w, http.StatusOK, s.engine.SuggestEmergence(req.Need))
}

// decodeBody reads a bounded JSON body into dst, writing the error response
// itself when it fails.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty body"})
		return false
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload exceeds limit"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unable to read body"})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return false
	}
	return true
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
