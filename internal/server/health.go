// Package server exposes the worker's gRPC health endpoint.
package server

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// HealthServer serves grpc.health.v1. The overall service ("") is SERVING
// only while every check passes; each check is also reported under its own name.
type HealthServer struct {
	hs       *health.Server
	grpc     *grpc.Server
	checks   map[string]Check
	names    []string
	interval time.Duration
	logger   *slog.Logger
}

func NewHealthServer(checks map[string]Check, interval time.Duration, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &HealthServer{
		hs:       health.NewServer(),
		grpc:     grpc.NewServer(),
		checks:   checks,
		names:    names,
		interval: interval,
		logger:   logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.hs)
	reflection.Register(s.grpc)
	s.hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Probe runs every check once and publishes the result.
func (s *HealthServer) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range s.names {
		st := healthpb.HealthCheckResponse_SERVING
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn("health.check.failed", "check", name, "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
			overall = st
		}
		s.hs.SetServingStatus(name, st)
	}
	s.hs.SetServingStatus("", overall)
	return overall
}

// Serve listens on addr until ctx is cancelled.
func (s *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, lis)
}

func (s *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	s.logger.Info("health.serving", "addr", lis.Addr().String())
	s.Probe(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.grpc.Serve(lis)
	})
	g.Go(func() error {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				s.Probe(gctx)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hs.Shutdown()
		s.grpc.GracefulStop()
		s.logger.Info("health.stopped")
		return nil
	})
	return g.Wait()
}
