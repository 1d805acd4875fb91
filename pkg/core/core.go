package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baluhost/baluhost/pkg/auth"
	"github.com/baluhost/baluhost/pkg/config"
	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/files"
	"github.com/baluhost/baluhost/pkg/host"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/metrics"
	"github.com/baluhost/baluhost/pkg/monitor"
	"github.com/baluhost/baluhost/pkg/raid"
	"github.com/baluhost/baluhost/pkg/scheduler"
	"github.com/baluhost/baluhost/pkg/store"
	"github.com/baluhost/baluhost/pkg/tokens"
	"github.com/baluhost/baluhost/pkg/types"
)

// tempMaxAge is how long an entry may sit in the temp mountpoint before
// the temp-cleanup job removes it.
const tempMaxAge = 24 * time.Hour

// Core owns every component and exposes the collaborator API.
type Core struct {
	cfg    *config.Config
	logger zerolog.Logger

	store      *store.SQLiteStore
	broker     *events.Broker
	runner     host.Runner
	controller raid.Controller
	sim        *raid.SimController
	simStore   *raid.SimStore

	monitor   *monitor.Monitor
	scheduler *scheduler.Scheduler
	tokens    *tokens.Service
	auth      *auth.Service
	files     *files.Service
	collector *metrics.Collector

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires all components from config. Nothing runs until Start.
func New(cfg *config.Config) (*Core, error) {
	c := &Core{
		cfg:    cfg,
		logger: log.WithComponent("core"),
		broker: events.NewBroker(),
		runner: host.NewExecRunner(),
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		c.broker.Close()
		return nil, err
	}
	c.store = st

	// An empty secret would make every token forgeable. Generate one per
	// process instead; access tokens then just don't survive restarts.
	if cfg.AccessTokenSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			c.close()
			return nil, errdefs.Wrap(err, errdefs.KindBug, "core.New")
		}
		cfg.AccessTokenSecret = hex.EncodeToString(buf)
		c.logger.Warn().Msg("no access token secret configured, generated an ephemeral one")
	}

	switch cfg.Mode {
	case config.ModeDev:
		snap, err := raid.OpenSimStore(cfg.SimStatePath)
		if err != nil {
			c.close()
			return nil, err
		}
		sim, err := raid.NewSimController(c.broker, raid.WithSnapshots(snap))
		if err != nil {
			snap.Close()
			c.close()
			return nil, err
		}
		c.sim, c.simStore, c.controller = sim, snap, sim
	default:
		c.controller = raid.NewMdadmController(c.runner, c.broker)
	}

	c.monitor = monitor.New(cfg, st, c.runner, c.broker)
	c.scheduler = scheduler.New(st, c.broker, cfg.GracePeriod())
	c.tokens = tokens.New(st, c.broker, cfg.RefreshTTL())
	c.auth, err = auth.New(cfg, st, c.tokens)
	if err != nil {
		c.close()
		return nil, err
	}
	c.files = files.New(cfg, st, c.controller, c.broker)
	return c, nil
}

// Start boots persistence, launches every background worker, and
// registers the built-in jobs.
func (c *Core) Start(ctx context.Context) error {
	if err := c.store.Migrate(ctx); err != nil {
		metrics.UpdateComponent("store", false, err.Error())
		return err
	}
	metrics.RegisterComponent("store", true, "")

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.sim != nil {
		c.sim.Start(runCtx)
	}
	metrics.RegisterComponent("raid", true, "")

	c.monitor.Start(runCtx)
	metrics.RegisterComponent("monitor", true, "")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.files.RunReconciler(runCtx)
	}()

	c.collector = metrics.NewCollector(c.files.Mountpoints)
	c.collector.Start(runCtx)

	if err := c.registerJobs(runCtx); err != nil {
		metrics.UpdateComponent("scheduler", false, err.Error())
		return err
	}
	c.scheduler.Start(runCtx)
	metrics.RegisterComponent("scheduler", true, "")

	c.logger.Info().Str("mode", string(c.cfg.Mode)).Msg("control plane started")
	return nil
}

// Stop shuts everything down in reverse of Start.
func (c *Core) Stop() {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if c.collector != nil {
		c.collector.Stop()
	}
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
	c.close()
	c.logger.Info().Msg("control plane stopped")
}

func (c *Core) close() {
	if c.sim != nil {
		c.sim.Stop()
	}
	if c.simStore != nil {
		c.simStore.Close()
	}
	if c.broker != nil {
		c.broker.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Error().Err(err).Msg("failed to close store")
		}
	}
}

func (c *Core) registerJobs(ctx context.Context) error {
	transient := types.RetryPolicy{MaxAttempts: 3, BackoffSeconds: 60, MaxBackoffSeconds: 600}

	jobs := []struct {
		name  string
		spec  string
		retry types.RetryPolicy
		fn    scheduler.JobFunc
	}{
		{"raid-scrub", c.cfg.Scheduler.ScrubInterval, types.RetryPolicy{}, c.scrubArrays},
		{"smart-scan", c.cfg.Scheduler.SmartInterval, transient, func(ctx context.Context) error {
			_, err := c.monitor.ScanSmart(ctx)
			return err
		}},
		{"token-cleanup", "daily:03:30", transient, func(ctx context.Context) error {
			_, err := c.tokens.Cleanup(ctx, time.Now())
			return err
		}},
		{"auto-backup", c.cfg.Scheduler.AutoBackupInterval, transient, func(ctx context.Context) error {
			return c.store.Backup(ctx, c.cfg.DatabasePath+".bak")
		}},
		{"temp-cleanup", "daily:04:00", types.RetryPolicy{}, c.cleanTemp},
		{"notification-check", "interval:15m", types.RetryPolicy{}, c.notifyUnhealthy},
	}
	for _, j := range jobs {
		if err := c.scheduler.Register(ctx, j.name, j.spec, j.retry, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// scrubArrays starts a check pass on every optimal array. Arrays that are
// degraded or already syncing are left alone.
func (c *Core) scrubArrays(ctx context.Context) error {
	arrays, err := c.controller.List(ctx)
	if err != nil {
		return err
	}
	for _, a := range arrays {
		if a.Status != types.ArrayStatusOptimal || a.SyncAction != types.SyncIdle {
			continue
		}
		if err := c.controller.StartScrub(ctx, a.Name, types.ScrubCheck); err != nil {
			return err
		}
		c.logger.Info().Str("array", a.Name).Msg("scheduled scrub started")
	}
	return nil
}

// notifyUnhealthy re-publishes every currently unhealthy RAID and SMART
// state on its topic. Transitions fire once at the moment they happen;
// this pass lets late subscribers see standing problems too.
func (c *Core) notifyUnhealthy(ctx context.Context) error {
	arrays, err := c.controller.List(ctx)
	if err != nil {
		return err
	}
	for _, a := range arrays {
		switch a.Status {
		case types.ArrayStatusDegraded:
			c.broker.Publish(events.TopicRaidState, events.EventArrayDegraded, map[string]string{"array": a.Name})
		case types.ArrayStatusFailed:
			c.broker.Publish(events.TopicRaidState, events.EventArrayFailed, map[string]string{"array": a.Name})
		default:
			continue
		}
		for _, d := range a.Devices {
			if d.State == types.DeviceFaulty {
				c.broker.Publish(events.TopicRaidState, events.EventDeviceFailed,
					map[string]string{"array": a.Name, "device": d.Name})
			}
		}
	}

	for _, rec := range c.monitor.CurrentSmartAll() {
		if rec.Health == types.SmartFailed {
			c.broker.Publish(events.TopicDiskSmart, events.EventSmartFailing, map[string]string{"device": rec.DeviceName})
		}
	}
	return nil
}

// cleanTemp drops top-level temp entries older than tempMaxAge.
func (c *Core) cleanTemp(ctx context.Context) error {
	entries, err := os.ReadDir(c.cfg.TempPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errdefs.Wrap(err, errdefs.KindIO, "core.cleanTemp")
	}

	cutoff := time.Now().Add(-tempMaxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		target := filepath.Join(c.cfg.TempPath, e.Name())
		if err := os.RemoveAll(target); err != nil {
			c.logger.Warn().Err(err).Str("path", target).Msg("failed to remove temp entry")
		}
	}
	return nil
}
