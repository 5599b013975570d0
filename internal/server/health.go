// Package server exposes the daemon's gRPC health surface.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/podcast-tracker/internal/reconcile"
)

// Health service names reported alongside the overall "" service.
const (
	ServiceReconcile = "podcast.reconcile"
	ServiceJournal   = "podcast.journal"
)

// HealthReporter maps loop and journal state onto gRPC health statuses.
type HealthReporter struct {
	hs     *health.Server
	logger *slog.Logger

	mu        sync.Mutex
	reconcile healthpb.HealthCheckResponse_ServingStatus
	journal   healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(hs *health.Server, logger *slog.Logger) *HealthReporter {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HealthReporter{
		hs:        hs,
		logger:    logger,
		reconcile: healthpb.HealthCheckResponse_SERVING,
		journal:   healthpb.HealthCheckResponse_SERVING,
	}
	h.publishLocked()
	return h
}

// ObserveTick is a reconcile tick hook. A tick that reached the service for
// none of its outstanding jobs marks reconciliation NOT_SERVING; any
// successful fetch, or an idle tick, restores it.
func (h *HealthReporter) ObserveTick(rep reconcile.TickReport) {
	if rep.Discarded {
		return
	}
	next := healthpb.HealthCheckResponse_SERVING
	if rep.Err != nil || (rep.Outstanding > 0 && rep.Fetched == 0) {
		next = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reconcile != next {
		h.logger.Warn("health.reconcile_changed", "status", next.String(), "outstanding", rep.Outstanding, "failed", rep.Failed)
	}
	h.reconcile = next
	h.publishLocked()
}

// ObserveJournal records the outcome of a journal ping.
func (h *HealthReporter) ObserveJournal(err error) {
	next := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		next = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.journal != next {
		h.logger.Warn("health.journal_changed", "status", next.String(), "error", err)
	}
	h.journal = next
	h.publishLocked()
}

func (h *HealthReporter) publishLocked() {
	overall := healthpb.HealthCheckResponse_SERVING
	if h.reconcile != healthpb.HealthCheckResponse_SERVING || h.journal != healthpb.HealthCheckResponse_SERVING {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.hs.SetServingStatus("", overall)
	h.hs.SetServingStatus(ServiceReconcile, h.reconcile)
	h.hs.SetServingStatus(ServiceJournal, h.journal)
}

// Serve runs a gRPC server with health and reflection on addr until ctx is done.
func Serve(ctx context.Context, addr string, hs *health.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, lis, hs, logger)
}

func ServeListener(ctx context.Context, lis net.Listener, hs *health.Server, logger *slog.Logger) error {
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	// Reflection for grpcurl
	reflection.Register(grpcServer)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC serving", "addr", lis.Addr().String())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gRPC server")
		hs.Shutdown()
		grpcServer.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
