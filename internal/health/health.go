// Package health serves the standard gRPC health checking protocol so that
// supervisors can tell a running controller from one whose lights are in a
// fault state.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/signal.report/internal/monitoring"
)

// ServiceActuator reports whether the last signal command succeeded.
const ServiceActuator = "actuator"

// Server owns the gRPC listener and the health status table.
type Server struct {
	addr     string
	status   *health.Server
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New returns a server for addr. Every service starts NOT_SERVING.
func New(addr string) *Server {
	s := &Server{addr: addr, status: health.NewServer()}
	s.status.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.status.SetServingStatus(ServiceActuator, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.status)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("[health] gRPC health listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("[health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// SetServing updates one service. The empty name is the overall status.
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.status.SetServingStatus(service, st)
}

// Serving reports the current status of a service.
func (s *Server) Serving(service string) bool {
	resp, err := s.status.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Stop marks everything NOT_SERVING and stops the gRPC server.
func (s *Server) Stop() {
	s.status.Shutdown()
	if !s.running.Swap(false) {
		return
	}
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("[health] gRPC server stopped")
}
