// Package client connects to demoted over its unix socket and manages the
// daemon process. It wraps the gRPC client with typed results.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	demotev1 "github.com/jamesainslie/demote/pkg/api/demote/v1"
	"github.com/jamesainslie/demote/pkg/daemon"
	"github.com/jamesainslie/demote/pkg/daemon/monitor"
	"github.com/jamesainslie/demote/pkg/demote/config"
	"github.com/jamesainslie/demote/pkg/demote/types"
)

// DaemonBinary is the daemon executable name.
const DaemonBinary = "demoted"

var (
	// ErrDaemonNotRunning is returned when the daemon socket cannot be reached.
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrHistoryDisabled is returned by History when the daemon keeps no journal.
	ErrHistoryDisabled = errors.New("history is disabled in the daemon config")
)

// Status is the daemon status reply.
type Status = demotev1.Status

// Client talks to demoted via gRPC.
type Client struct {
	conn   *grpc.ClientConn
	client demotev1.MonitorClient
}

// DefaultSocketPath returns the default unix socket path for demoted.
func DefaultSocketPath() string { return config.DefaultSocketPath() }

// DefaultPIDPath returns the default PID file path for demoted.
func DefaultPIDPath() string { return config.DefaultPIDPath() }

// DaemonPaths configures paths for daemon operations.
// Empty fields use defaults.
type DaemonPaths struct {
	Binary string // demoted binary, discovered if empty
	Socket string
	PID    string
	Config string // passed to demoted as --config when set
}

func (p DaemonPaths) withDefaults() DaemonPaths {
	if p.Socket == "" {
		p.Socket = DefaultSocketPath()
	}
	if p.PID == "" {
		p.PID = DefaultPIDPath()
	}
	return p
}

// Connect establishes a connection to demoted with a 5 second timeout.
func Connect(socketPath string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ConnectWithContext(ctx, socketPath)
}

// ConnectWithContext establishes a connection to demoted, blocking until
// the connection is up or ctx ends.
func ConnectWithContext(ctx context.Context, socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: no socket at %s", ErrDaemonNotRunning, socketPath)
	}

	//nolint:staticcheck // grpc.DialContext is deprecated but NewClient doesn't support blocking
	conn, err := grpc.DialContext(
		ctx,
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDaemonNotRunning, err)
	}

	return &Client{
		conn:   conn,
		client: demotev1.NewMonitorClient(conn),
	}, nil
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// GetStatus returns the daemon status with the latest result per target.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	resp, err := c.client.GetStatus(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("GetStatus RPC failed: %w", err)
	}
	var st Status
	if err := demotev1.Decode(resp, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Refresh asks the daemon to check every target now.
func (c *Client) Refresh(ctx context.Context) ([]types.CheckResult, error) {
	resp, err := c.client.Refresh(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("Refresh RPC failed: %w", err)
	}
	var out demotev1.RefreshResult
	if err := demotev1.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// SetInterval changes the daemon's poll interval. A rejected value yields
// an error wrapping monitor.ErrInvalidInterval.
func (c *Client) SetInterval(ctx context.Context, seconds int) error {
	if seconds <= 0 || seconds > monitor.MaxPollInterval {
		return fmt.Errorf("%w: %d", monitor.ErrInvalidInterval, seconds)
	}
	if _, err := c.client.SetInterval(ctx, wrapperspb.Int32(int32(seconds))); err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return fmt.Errorf("%w: %d", monitor.ErrInvalidInterval, seconds)
		}
		return fmt.Errorf("SetInterval RPC failed: %w", err)
	}
	return nil
}

// Watch streams status events to fn until ctx is cancelled, the daemon
// ends the stream, or fn returns an error. names filters the events to
// those targets. Cancellation and a clean end of stream return nil.
func (c *Client) Watch(ctx context.Context, names []string, fn func(types.StatusEvent) error) error {
	req, err := demotev1.Encode(demotev1.WatchRequest{Names: names})
	if err != nil {
		return err
	}
	stream, err := c.client.Watch(ctx, req)
	if err != nil {
		return fmt.Errorf("Watch RPC failed: %w", err)
	}

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("watch stream: %w", err)
		}

		var ev types.StatusEvent
		if err := demotev1.Decode(msg, &ev); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// History returns up to limit journal records, newest first. limit <= 0
// uses the daemon default.
func (c *Client) History(ctx context.Context, limit int) ([]types.HistoryRecord, error) {
	resp, err := c.client.History(ctx, wrapperspb.Int32(int32(limit)))
	if err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			return nil, ErrHistoryDisabled
		}
		return nil, fmt.Errorf("History RPC failed: %w", err)
	}
	var out demotev1.HistoryResult
	if err := demotev1.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Shutdown requests the daemon to shut down gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	if _, err := c.client.Shutdown(ctx, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("Shutdown RPC failed: %w", err)
	}
	return nil
}

// EnsureDaemon starts the daemon unless it is already running.
func EnsureDaemon(paths DaemonPaths) error {
	return StartDaemon(paths)
}

// StartDaemon polls the status file this often, this many times.
var (
	startPollInterval = 100 * time.Millisecond
	startPollAttempts = 50
)

// StartDaemon starts demoted in the background and waits until it reports
// ready or failed. Idempotent: returns nil if the daemon is already running.
func StartDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if IsDaemonRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find %s: %w", DaemonBinary, err)
	}

	statusPath := daemon.StatusPath(paths.Socket)
	_ = daemon.RemoveStatus(statusPath)

	var args []string
	if paths.Config != "" {
		args = append(args, "--config", paths.Config)
	}

	// exec.Command, not CommandContext: the daemon must outlive the caller.
	cmd := exec.Command(binary, args...) //nolint:gosec // binary path is resolved above
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	for range startPollAttempts {
		time.Sleep(startPollInterval)

		if st, err := daemon.ReadStatus(statusPath); err == nil {
			switch st.Status {
			case daemon.StatusReady:
				return nil
			case daemon.StatusError:
				return fmt.Errorf("daemon failed to start: %s", st.Error)
			}
		}
	}

	return errors.New("daemon did not become ready within timeout")
}

// StopDaemon stops the daemon via RPC and waits for it to exit.
// Idempotent: returns nil if the daemon is not running.
func StopDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if !IsDaemonRunning(paths.PID) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer c.Close()

	if err := c.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown daemon: %w", err)
	}

	for range 40 {
		time.Sleep(250 * time.Millisecond)
		if !IsDaemonRunning(paths.PID) {
			return nil
		}
	}
	return errors.New("daemon did not stop within timeout")
}

// RestartDaemon stops and starts the daemon.
func RestartDaemon(paths DaemonPaths) error {
	if err := StopDaemon(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := StartDaemon(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// IsDaemonRunning checks if the daemon is running based on the PID file.
func IsDaemonRunning(pidPath string) bool {
	return daemon.IsDaemonRunning(pidPath)
}

// resolveBinary finds demoted.
// Priority: configured path > next to this executable > GOBIN/GOPATH > PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	name := DaemonBinary
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	var candidates []string
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), name))
	}
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		candidates = append(candidates, filepath.Join(gobin, name))
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		candidates = append(candidates, filepath.Join(gopath, "bin", name))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "go", "bin", name))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}

	if path, err := exec.LookPath(DaemonBinary); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%s not found", DaemonBinary)
}
