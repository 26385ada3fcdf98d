package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/config"
)

type Server struct {
	log logger.Logger
	srv *http.Server
}

func NewServer(log logger.Logger, cfg *config.HTTPConfig, router chi.Router) *Server {
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}

	return &Server{
		log: log,
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
	}
}

func (s *Server) Start() error {
	s.log.Infof("HTTP server listening addr=%s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")
	return s.srv.Shutdown(ctx)
}
