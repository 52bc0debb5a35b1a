package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"
)

// Server represents an HTTP server
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
	errCh   chan error
}

// Config holds listener settings. Zero timeouts fall back to defaults.
type Config struct {
	Port         string
	TLSCert      string
	TLSKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// New creates a new server instance
func New(handler http.Handler, config Config) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 120 * time.Second
	}

	return &Server{
		srv: &http.Server{
			Addr:              ":" + config.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
		tlsCert: config.TLSCert,
		tlsKey:  config.TLSKey,
		errCh:   make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind failures are
// returned directly; later serve failures arrive on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		go s.serve(func() error { return s.srv.ServeTLS(ln, s.tlsCert, s.tlsKey) })
		return nil
	}

	go s.serve(func() error { return s.srv.Serve(ln) })
	return nil
}

func (s *Server) serve(fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.errCh <- err
	}
	close(s.errCh)
}

// Errors yields a serve failure, if any, and is closed once serving stops.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
