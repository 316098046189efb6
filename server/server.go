package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-gate/auth"
	"github.com/jrsteele09/go-auth-gate/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	auth     *auth.Service
	cookies  *cookieSigner
	gatherer prometheus.Gatherer
}

type Option func(*Server)

// WithGatherer exposes the given registry at /metrics instead of the
// Prometheus default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func New(cfg config.Config, authService *auth.Service, options ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("[Server New] config is required")
	}
	if authService == nil {
		return nil, errors.New("[Server New] auth service is required")
	}

	cookies, err := newCookieSigner(cfg.GetSessionSecret(), cfg.GetSessionCookieName(), cfg.GetSessionTTL())
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		auth:     authService,
		cookies:  cookies,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%s] %s", colourMethod(method), path)
}

// getScheme determines http/https, honouring X-Forwarded-Proto behind a
// trusted proxy.
func (s *Server) getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if s.config.GetTrustProxy() {
		if scheme := firstHeaderValue(r, "X-Forwarded-Proto"); scheme != "" {
			return strings.ToLower(scheme)
		}
	}
	return "http"
}

// requestHost is the host the browser addressed, port included.
func (s *Server) requestHost(r *http.Request) string {
	if s.config.GetTrustProxy() {
		if host := firstHeaderValue(r, "X-Forwarded-Host"); host != "" {
			return host
		}
	}
	return r.Host
}

func (s *Server) origin(r *http.Request) string {
	return s.getScheme(r) + "://" + s.requestHost(r)
}

func firstHeaderValue(r *http.Request, name string) string {
	v, _, _ := strings.Cut(r.Header.Get(name), ",")
	return strings.TrimSpace(v)
}
