// Package api provides the HTTP surface of the CA manager and the OCSP
// status engine: health endpoints, the management API, and a status debug
// endpoint. The RFC 6960 wire encoding is out of scope; status responses
// are JSON.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/frestoinc/xipki/internal/mgmt"
	"github.com/frestoinc/xipki/internal/ocspstore"
)

// Config holds the server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8443".
	Addr string `yaml:"addr"`

	ReadTimeout     time.Duration `yaml:"readTimeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"writeTimeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8443",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server serves the management and status APIs.
type Server struct {
	cfg     *Config
	manager *mgmt.Manager
	ocsp    *ocspstore.Store

	srv *http.Server
	log *logrus.Entry
}

// New creates a Server. The OCSP store may be nil when only the management
// API is served.
func New(cfg *Config, manager *mgmt.Manager, ocsp *ocspstore.Store) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:     cfg,
		manager: manager,
		ocsp:    ocsp,
		log:     logrus.WithField("component", "api"),
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/mgmt", func(r chi.Router) {
		r.Route("/cas", func(r chi.Router) {
			r.Get("/", s.handleListCas)
			r.Route("/{ca}", func(r chi.Router) {
				r.Post("/certs", s.handleIssue)
				r.Post("/certs/{serial}/revoke", s.handleRevoke)
				r.Post("/certs/{serial}/unsuspend", s.handleUnsuspend)
				r.Delete("/certs/{serial}", s.handleRemove)
				r.Post("/crl", s.handleGenerateCrl)
				r.Post("/revoke", s.handleRevokeCa)
				r.Post("/unrevoke", s.handleUnrevokeCa)
			})
		})
		r.Route("/system", func(r chi.Router) {
			r.Post("/restart", s.handleRestart)
			r.Post("/notify", s.handleNotify)
			r.Post("/unlock", s.handleUnlock)
		})
		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)
	})

	if s.ocsp != nil {
		r.Get("/ocsp/status", s.handleOcspStatus)
		r.Get("/ocsp/issuer", s.handleOcspIssuer)
	}

	return r
}

// ListenAndServe blocks serving until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.cfg.Addr).Info("API server listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
