// Package http provides an HTTP server with graceful shutdown wired into
// the shared server lifecycle.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/max-27/mlmi-federated-learning/pkg/server"
)

const (
	stopWaitTime  = 5 * time.Second
	httpProtocol  = "http"
	readHeaderTTL = 60 * time.Second
)

type httpServer struct {
	server.BaseServer
	server *http.Server
}

var _ server.Server = (*httpServer)(nil)

func NewServer(ctx context.Context, cancel context.CancelFunc, name string, config server.Config, handler http.Handler, logger *slog.Logger) server.Server {
	listenFullAddress := fmt.Sprintf("%s:%s", config.Host, config.Port)
	hserver := &http.Server{
		Addr:              listenFullAddress,
		Handler:           handler,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: readHeaderTTL,
	}

	return &httpServer{
		BaseServer: server.BaseServer{
			Ctx:      ctx,
			Cancel:   cancel,
			Name:     name,
			Address:  listenFullAddress,
			Config:   config,
			Logger:   logger,
			Protocol: httpProtocol,
		},
		server: hserver,
	}
}

func (s *httpServer) Start() error {
	s.Logger.Info(fmt.Sprintf("%s service %s server listening at %s without TLS", s.Name, s.Protocol, s.Address))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s service %s server exited: %w", s.Name, s.Protocol, err)
	}

	return nil
}

func (s *httpServer) Stop() error {
	defer s.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), stopWaitTime)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.Logger.Error(fmt.Sprintf("%s service %s server error during shutdown: %v", s.Name, s.Protocol, err))

		return fmt.Errorf("%s service %s server error during shutdown: %w", s.Name, s.Protocol, err)
	}

	s.Logger.Info(fmt.Sprintf("%s service %s server shutdown complete", s.Name, s.Protocol))

	return nil
}
