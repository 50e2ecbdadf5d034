// Package daemon runs demoted: the monitor loop behind a gRPC service on a
// unix socket, with its PID and status files, the history journal, the
// config watcher and the optional metrics endpoint.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/demote/pkg/daemon/broadcaster"
	"github.com/jamesainslie/demote/pkg/daemon/monitor"
	"github.com/jamesainslie/demote/pkg/daemon/store"
	"github.com/jamesainslie/demote/pkg/daemon/watcher"
	"github.com/jamesainslie/demote/pkg/demote/config"
	"github.com/jamesainslie/demote/pkg/demote/enforcer"
	"github.com/jamesainslie/demote/pkg/demote/logging"
	"github.com/jamesainslie/demote/pkg/demote/procsys"
	"github.com/jamesainslie/demote/pkg/demote/types"
)

var log = logging.Get("daemon")

// PruneEvery is how often old history records are deleted.
const PruneEvery = time.Hour

// Options configures a Daemon.
type Options struct {
	Config *config.Config

	// ConfigPath is watched for interval changes. Empty disables reloads.
	ConfigPath string

	// System is the OS layer; nil uses procsys.New().
	System procsys.System

	Version string
}

// Daemon owns every long-lived component of demoted.
type Daemon struct {
	opts Options
	cfg  *config.Config

	events   *broadcaster.Broadcaster
	monitor  *monitor.Monitor
	history  *store.Store
	metrics  *Metrics
	server   *Server
	metricsS *MetricsServer
	watcher  *watcher.Watcher

	stopOnce sync.Once
	stopCh   chan struct{}
	ready    chan struct{}
}

// New validates the configuration. Nothing is opened until Run.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon: nil config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.System == nil {
		opts.System = procsys.New()
	}
	return &Daemon{
		opts:   opts,
		cfg:    opts.Config,
		stopCh: make(chan struct{}),
		ready:  make(chan struct{}),
	}, nil
}

// Monitor returns the monitor once Run has reached Ready.
func (d *Daemon) Monitor() *monitor.Monitor { return d.monitor }

// Ready is closed once the socket is accepting calls.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// MetricsAddr returns the metrics listener address, empty when disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsS == nil {
		return ""
	}
	return d.metricsS.Addr()
}

// Stop asks Run to return. It may be called from any goroutine, any
// number of times.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Run starts every component, blocks until ctx is cancelled or Stop is
// called, then shuts down in order: monitor, subscribers, gRPC server,
// history, files. A startup failure is written to the status file. Run
// may only be called once.
func (d *Daemon) Run(ctx context.Context) (err error) {
	socket := d.cfg.Daemon.SocketPath
	statusPath := StatusPath(socket)

	defer func() {
		if err != nil && !errors.Is(err, ErrDaemonAlreadyRunning) {
			if werr := WriteStatusError(statusPath, err); werr != nil {
				log.Warn("failed to write status file", "error", werr)
			}
		}
	}()

	historyDir := ""
	if d.cfg.History.Enabled {
		historyDir = d.cfg.History.Path
	}
	if err := RecoverFromStaleDaemon(d.cfg.Daemon.PIDPath, socket, historyDir); err != nil {
		return err
	}

	if err := d.start(); err != nil {
		d.teardown()
		return err
	}

	if err := WritePIDFile(d.cfg.Daemon.PIDPath); err != nil {
		d.teardown()
		return fmt.Errorf("writing pid file: %w", err)
	}
	if err := WriteStatusReady(statusPath, d.opts.Version); err != nil {
		log.Warn("failed to write status file", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	serveErr := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.server.Serve(); err != nil {
			serveErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	if d.metricsS != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.metricsS.Serve(); err != nil {
				serveErr <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if d.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.watcher.Run(runCtx, d.reload)
		}()
	}

	if d.history != nil && d.cfg.History.RetentionDays > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.pruneLoop(runCtx)
		}()
	}

	if err := d.monitor.Start(); err != nil {
		cancel()
		d.teardown()
		wg.Wait()
		return err
	}

	log.Info("demoted started",
		"pid_file", d.cfg.Daemon.PIDPath,
		"socket", socket,
		"targets", strings.Join(d.cfg.Targets, ","),
		"interval", d.cfg.Interval,
		"priority", d.cfg.Priority,
	)
	close(d.ready)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("context cancelled, shutting down")
	case <-d.stopCh:
		log.Info("stop requested, shutting down")
	case runErr = <-serveErr:
		log.Error("server failed, shutting down", "error", runErr)
	}

	cancel()
	d.teardown()
	wg.Wait()

	_ = RemovePIDFile(d.cfg.Daemon.PIDPath)
	_ = RemoveStatus(statusPath)

	log.Info("demoted stopped")
	return runErr
}

// start builds the components. On error the caller runs teardown.
func (d *Daemon) start() error {
	elevated := procsys.IsElevated()
	if !elevated {
		log.Warn("not running elevated, protected processes will be reported unreachable")
	}

	if d.cfg.History.Enabled {
		h, err := store.Open(d.cfg.History.Path)
		if err != nil {
			return err
		}
		d.history = h
		d.prune()
	}

	enf := enforcer.New(d.opts.System, enforcer.WithPriority(d.cfg.PriorityClass()))

	d.events = broadcaster.New()
	opts := []monitor.Option{monitor.WithBroadcaster(d.events)}

	if d.cfg.Metrics.Enabled {
		d.metrics = NewMetrics()
		opts = append(opts,
			monitor.WithResultHook(d.metrics.Observe),
			monitor.WithTickHook(d.metrics.Tick),
		)
	}
	if d.history != nil {
		opts = append(opts, monitor.WithResultHook(d.journal))
	}

	mon, err := monitor.New(enf, d.cfg.Targets, d.cfg.Interval, opts...)
	if err != nil {
		return err
	}
	d.monitor = mon

	if d.metrics != nil {
		if err := d.metrics.TrackInterval(mon.PollInterval); err != nil {
			return err
		}
		ms, err := NewMetricsServer(d.cfg.Metrics.Address, d.metrics)
		if err != nil {
			return err
		}
		d.metricsS = ms
	}

	svc := NewService(mon, d.history, Info{
		Version:  d.opts.Version,
		Priority: d.cfg.PriorityClass().String(),
		Elevated: elevated,
	}, d.Stop)

	srv, err := NewServer(Config{SocketPath: d.cfg.Daemon.SocketPath}, svc)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", d.cfg.Daemon.SocketPath, err)
	}
	d.server = srv

	if d.opts.ConfigPath != "" {
		w, err := watcher.New(d.opts.ConfigPath, watcher.DefaultDebounce)
		if err != nil {
			log.Warn("config reload disabled", "path", d.opts.ConfigPath, "error", err)
		} else {
			d.watcher = w
		}
	}
	return nil
}

// teardown releases whatever start built. The monitor is joined first:
// no check may run once subscribers and the journal are closed.
func (d *Daemon) teardown() {
	if d.monitor != nil {
		d.monitor.Stop()
	}
	if d.events != nil {
		d.events.Close()
	}
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			log.Warn("closing config watcher", "error", err)
		}
	}
	if d.server != nil {
		if err := d.server.Close(); err != nil {
			log.Warn("closing grpc server", "error", err)
		}
	}
	if d.metricsS != nil {
		if err := d.metricsS.Close(); err != nil {
			log.Warn("closing metrics server", "error", err)
		}
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			log.Warn("closing history", "error", err)
		}
	}
}

// journal is the monitor hook that feeds the history store.
func (d *Daemon) journal(ev types.StatusEvent, res types.CheckResult) {
	wrote, err := d.history.Observe(ev, res)
	if err != nil {
		log.Warn("failed to journal check", "target", res.Name, "error", err)
		if d.metrics != nil {
			d.metrics.HistoryError()
		}
		return
	}
	if wrote {
		log.Debug("journaled", "target", res.Name, "outcome", res.Outcome)
	}
}

func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(PruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.prune()
		}
	}
}

func (d *Daemon) prune() {
	days := d.cfg.History.RetentionDays
	if days <= 0 {
		return
	}
	n, err := d.history.Prune(time.Now().AddDate(0, 0, -days))
	if err != nil {
		log.Warn("pruning history", "error", err)
		return
	}
	if n > 0 {
		log.Info("pruned history", "records", n, "retention_days", days)
	}
}

// reload re-reads the config file and applies what can change at runtime.
// Invalid files are logged and ignored.
func (d *Daemon) reload(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		log.Warn("ignoring config change", "path", path, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Warn("ignoring invalid config", "path", path, "error", err)
		return
	}

	if err := d.monitor.SetPollInterval(cfg.Interval); err != nil {
		log.Warn("ignoring interval", "interval", cfg.Interval, "error", err)
	}

	if !slices.EqualFunc(cfg.Targets, d.cfg.Targets, strings.EqualFold) {
		log.Warn("target list changed, restart demoted to apply", "targets", strings.Join(cfg.Targets, ","))
	}
	if cfg.PriorityClass() != d.cfg.PriorityClass() {
		log.Warn("priority changed, restart demoted to apply", "priority", cfg.Priority)
	}
}
