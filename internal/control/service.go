package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vietddude/apiclient/internal/client"
	"github.com/vietddude/apiclient/internal/core/config"
	"github.com/vietddude/apiclient/internal/health"
)

// Service runs a client with its background workers and health endpoints.
type Service struct {
	cfg          *config.AppConfig
	client       *client.Client
	healthServer *health.Server
	log          *slog.Logger
	cancel       context.CancelFunc
}

// NewService builds the client and the health server.
func NewService(ctx context.Context, cfg *config.AppConfig, opts ...client.Option) (*Service, error) {
	c, err := client.New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:          cfg,
		client:       c,
		healthServer: health.NewServer(health.NewMonitor(c, nil), cfg.Server.Port),
		log:          slog.Default().With("component", "service"),
	}, nil
}

// Client returns the underlying client.
func (s *Service) Client() *client.Client {
	return s.client
}

// Start starts the health server and the workers.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// Start Health Server
	go func() {
		if err := s.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	// Start Warmer and Pruner
	if err := s.client.StartWorkers(ctx); err != nil {
		s.cancel()
		return err
	}

	s.log.Info("Service started", "port", s.cfg.Server.Port, "backend", s.cfg.Cache.Backend, "policy", s.client.Policy())
	return nil
}

// Stop stops the workers, the health server and the client.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	if s.cancel != nil {
		s.cancel()
	}

	var errs []error
	// Stop Health Server
	errs = append(errs, s.healthServer.Stop(ctx))

	done := make(chan error, 1)
	go func() { done <- s.client.Close() }()
	select {
	case err := <-done:
		errs = append(errs, err)
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
