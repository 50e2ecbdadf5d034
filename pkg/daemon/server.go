package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"

	demotev1 "github.com/jamesainslie/demote/pkg/api/demote/v1"
)

// stopTimeout bounds GracefulStop before open streams are cut.
const stopTimeout = 5 * time.Second

// Config holds server configuration.
type Config struct {
	SocketPath string
}

// Server is the demoted gRPC server.
type Server struct {
	cfg      Config
	grpc     *grpc.Server
	listener net.Listener
}

// NewServer listens on the unix socket and registers svc.
func NewServer(cfg Config, svc demotev1.MonitorServer) (*Server, error) {
	// Remove stale socket if exists
	if err := os.RemoveAll(cfg.SocketPath); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "unix", cfg.SocketPath)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:      cfg,
		grpc:     grpc.NewServer(),
		listener: listener,
	}
	demotev1.RegisterMonitorServer(srv.grpc, svc)

	return srv, nil
}

// Serve starts the gRPC server. Blocks until stopped.
func (s *Server) Serve() error {
	return s.grpc.Serve(s.listener)
}

// Close stops the server and removes the socket. Streams still open after
// stopTimeout are cancelled.
func (s *Server) Close() error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Warn("graceful stop timed out, closing connections")
		s.grpc.Stop()
		<-done
	}
	return os.RemoveAll(s.cfg.SocketPath)
}
