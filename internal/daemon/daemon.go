package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"usher/internal/api"
	"usher/internal/catalog"
	"usher/internal/config"
	"usher/internal/logging"
	"usher/internal/media"
	"usher/internal/media/factory"
	"usher/internal/notifications"
	"usher/internal/reconcile"
	"usher/internal/scheduler"
	"usher/internal/store"
	"usher/internal/sweeper"
)

// Job ids and fixed cadences for the background loops. The session poll
// interval comes from config; syncs and sweeps run on fixed schedules.
const (
	jobSessions = "sessions"
	jobCatalog  = "catalog-sync"
	jobSweep    = "expiration-sweep"

	catalogSyncInterval = 6 * time.Hour
	sweepInterval       = time.Hour
)

// Daemon coordinates the background jobs and enforces single-instance
// execution via a file lock.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	reconciler *reconcile.Reconciler
	syncer     *catalog.Syncer
	sweeper    *sweeper.Sweeper
	sched      *scheduler.Scheduler
	notifier   notifications.Service
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	clients := clientFactory(cfg)
	lockPath := filepath.Join(cfg.Paths.DataDir, "usherd.lock")

	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		reconciler: reconcile.New(st, reconcile.ClientFactory(clients), logger),
		syncer:     catalog.New(st, catalog.ClientFactory(clients), logger),
		sweeper:    sweeper.New(st, sweeper.ClientFactory(clients), logger),
		sched:      scheduler.New(logger),
		notifier:   notifications.NewService(cfg),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}

	server, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = server
	return d, nil
}

// clientFactory builds vendor clients using the configured HTTP timeout.
func clientFactory(cfg *config.Config) func(server *store.Server) (media.Client, error) {
	timeout := time.Duration(cfg.Monitor.HTTPTimeoutSeconds) * time.Second
	return func(server *store.Server) (media.Client, error) {
		return factory.New(server.ServiceType, server.BaseURL, server.APIKey, timeout)
	}
}

// Start acquires the daemon lock, registers the background jobs, and brings
// up the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another usher daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	pollInterval := time.Duration(d.cfg.Monitor.PollIntervalSeconds) * time.Second
	initialDelay := time.Duration(d.cfg.Monitor.InitialDelaySeconds) * time.Second

	d.sched.Register(jobSessions, pollInterval, initialDelay, d.reconcileTick)
	d.sched.Register(jobCatalog, catalogSyncInterval, initialDelay, d.catalogTick)
	d.sched.Register(jobSweep, sweepInterval, initialDelay, d.sweepTick)

	if err := d.api.start(d.ctx); err != nil {
		d.sched.Stop()
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("usher daemon started",
		"lock", d.lockPath,
		"poll_interval", pollInterval.String())
	return nil
}

// Stop halts the background jobs and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.sched.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("usher daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

func (d *Daemon) reconcileTick(ctx context.Context) error {
	if err := d.reconciler.Tick(ctx); err != nil {
		_ = d.notifier.NotifyError(ctx, err, "session reconciliation")
		return err
	}
	return nil
}

func (d *Daemon) catalogTick(ctx context.Context) error {
	_, err := d.SyncNow(ctx)
	return err
}

func (d *Daemon) sweepTick(ctx context.Context) error {
	result, err := d.sweeper.Sweep(ctx)
	if err != nil {
		_ = d.notifier.NotifyError(ctx, err, "expiration sweep")
		return err
	}
	if result.Expired > 0 {
		_ = d.notifier.NotifyExpirations(ctx, result.Removed)
	}
	return nil
}

// SyncNow runs a full catalog sync across active servers and notifies the
// outcome. It backs both the scheduled sync and the manual trigger.
func (d *Daemon) SyncNow(ctx context.Context) (catalog.Summary, error) {
	summary, err := d.syncer.SyncAll(ctx)
	if err != nil {
		_ = d.notifier.NotifyError(ctx, err, "catalog sync")
		return summary, err
	}

	var changes []string
	for _, outcome := range summary.Servers {
		changes = append(changes, outcome.Libraries.Changes...)
		changes = append(changes, outcome.Users.Changes...)
	}
	if len(summary.Servers) > 0 {
		_ = d.notifier.NotifySyncCompleted(ctx, len(summary.Servers), len(summary.Failures()), changes)
	}
	return summary, nil
}

// TestServer probes one server's connectivity and records the result.
func (d *Daemon) TestServer(ctx context.Context, id int64) (bool, string, error) {
	server, err := d.store.GetServer(ctx, id)
	if err != nil {
		return false, "", err
	}
	if server == nil {
		return false, "", fmt.Errorf("server %d not found", id)
	}

	client, err := clientFactory(d.cfg)(server)
	if err != nil {
		return false, err.Error(), nil
	}
	ok, message := client.TestConnection(ctx)
	if err := d.store.UpdateServerStatus(ctx, server.ID, ok, message, time.Now().UTC()); err != nil {
		d.logger.Warn("record probe result", logging.Error(err))
	}
	return ok, message, nil
}

// AddServer registers a new media server.
func (d *Daemon) AddServer(ctx context.Context, name, serviceType, baseURL, apiKey string) (*store.Server, error) {
	name = strings.TrimSpace(name)
	baseURL = strings.TrimSpace(baseURL)
	if name == "" || baseURL == "" {
		return nil, errors.New("server name and base URL are required")
	}
	parsed, err := media.ParseServiceType(serviceType)
	if err != nil {
		return nil, err
	}

	server, err := d.store.CreateServer(ctx, &store.Server{
		Name:        name,
		ServiceType: parsed,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      strings.TrimSpace(apiKey),
		IsActive:    true,
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("server added",
		logging.FieldServer, server.Name,
		logging.FieldServerID, server.ID,
		"service_type", string(server.ServiceType))
	return server, nil
}

// RemoveServer deletes a server; its cached libraries, grants, and stream
// events cascade.
func (d *Daemon) RemoveServer(ctx context.Context, id int64) error {
	server, err := d.store.GetServer(ctx, id)
	if err != nil {
		return err
	}
	if server == nil {
		return fmt.Errorf("server %d not found", id)
	}
	if err := d.store.DeleteServer(ctx, id); err != nil {
		return err
	}
	d.logger.Info("server removed",
		logging.FieldServer, server.Name,
		logging.FieldServerID, id)
	return nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status assembles the daemon status payload from the cache.
func (d *Daemon) Status(ctx context.Context) (api.DaemonStatus, error) {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}

	servers, err := d.store.ListServers(ctx, false)
	if err != nil {
		return status, err
	}
	for _, server := range servers {
		status.Servers = append(status.Servers, api.FromServer(server))
	}

	open, err := d.store.OpenStreamEvents(ctx)
	if err != nil {
		return status, err
	}
	status.OpenSessions = len(open)
	return status, nil
}

// OpenSessions returns the currently open stream events with server and
// account names resolved.
func (d *Daemon) OpenSessions(ctx context.Context) ([]api.SessionInfo, error) {
	events, err := d.store.OpenStreamEvents(ctx)
	if err != nil {
		return nil, err
	}

	serverNames := make(map[int64]string)
	sessions := make([]api.SessionInfo, 0, len(events))
	for _, event := range events {
		name, ok := serverNames[event.ServerID]
		if !ok {
			server, err := d.store.GetServer(ctx, event.ServerID)
			if err != nil {
				return nil, err
			}
			if server != nil {
				name = server.Name
			}
			serverNames[event.ServerID] = name
		}

		username := ""
		if event.AccessID != nil {
			access, err := d.store.GetAccess(ctx, *event.AccessID)
			if err != nil {
				return nil, err
			}
			if access != nil {
				username = access.Username
			}
		}
		sessions = append(sessions, api.FromStreamEvent(event, name, username))
	}
	return sessions, nil
}

// Servers returns every configured server in API form.
func (d *Daemon) Servers(ctx context.Context) ([]api.ServerStatus, error) {
	servers, err := d.store.ListServers(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]api.ServerStatus, 0, len(servers))
	for _, server := range servers {
		out = append(out, api.FromServer(server))
	}
	return out, nil
}

// LockPath returns the daemon lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// APIAddr returns the bound API listen address, empty until Start.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}
