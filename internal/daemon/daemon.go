// Package daemon wires capture, the statistics engine and the presentation
// surfaces into one process and manages their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/resmeter/internal/config"
	"firestige.xyz/resmeter/internal/core"
	"firestige.xyz/resmeter/internal/engine"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
	"firestige.xyz/resmeter/internal/profile"
	"firestige.xyz/resmeter/internal/report"
	"firestige.xyz/resmeter/internal/server"
	"firestige.xyz/resmeter/internal/stats"
	"firestige.xyz/resmeter/pkg/plugin"
)

const shutdownTimeout = 5 * time.Second

// Daemon manages the meter process lifecycle.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string

	profiles      profile.Store
	engine        *engine.Engine
	closeDecoder  func()
	capturer      plugin.Capturer
	web           *server.Server  // nil if server disabled
	metricsServer *metrics.Server // nil if metrics disabled
	reporters     report.Set

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errCh   chan error
	sigChan chan os.Signal
	stopped bool
}

// New creates a daemon for cfg. configPath is re-read on SIGHUP; it may be empty.
func New(cfg *config.GlobalConfig, configPath string) *Daemon {
	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		errCh:      make(chan error, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start initializes and starts all components. On failure the components
// started so far are stopped.
func (d *Daemon) Start() error {
	if err := log.Init(LogConfig(d.config.Log)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log.GetLogger().
		WithField("capture", d.config.Capture.Type).
		WithField("config", d.configPath).
		Info("starting resmeter")

	if err := d.start(); err != nil {
		d.Stop()
		return err
	}
	log.GetLogger().Info("waiting for the game server, start or switch a map if nothing shows up")
	return nil
}

func (d *Daemon) start() error {
	if err := d.startMetrics(); err != nil {
		return err
	}

	store, err := profile.Open(d.config.Profile)
	if err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}
	d.profiles = store

	opts, closeDecoder, err := engine.OptionsFromConfig(d.config)
	if err != nil {
		return fmt.Errorf("failed to configure engine: %w", err)
	}
	d.closeDecoder = closeDecoder
	d.engine = engine.New(opts, stats.NewRegistry(store))

	capturer, err := plugin.NewCapturer(d.config.Capture.Type, d.config.Capture.PluginOptions())
	if err != nil {
		return fmt.Errorf("failed to create capturer: %w", err)
	}
	if err := capturer.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start capturer: %w", err)
	}
	d.capturer = capturer

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.engine.Run(d.ctx)
	}()
	d.startCapture()

	if d.config.Server.Enabled {
		d.web = server.New(d.config.Server, d.engine)
		if err := d.web.Start(d.ctx); err != nil {
			return fmt.Errorf("failed to start web server: %w", err)
		}
	}

	reporters, err := report.Open(d.ctx, d.config.Reporters, d.engine.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to start reporters: %w", err)
	}
	d.reporters = reporters
	return nil
}

// startCapture runs the capturer and the segment feed. A capture that ends
// on its own (end of file) leaves the rest of the process running.
func (d *Daemon) startCapture() {
	packets := make(chan core.RawPacket, d.config.Capture.QueueSize)

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		defer close(packets)
		err := d.capturer.Capture(d.ctx, packets)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			d.fail(fmt.Errorf("capture failed: %w", err))
		case d.ctx.Err() == nil:
			log.GetLogger().WithField("capture", d.capturer.Name()).Info("capture source exhausted")
		}
	}()
	go func() {
		defer d.wg.Done()
		err := d.engine.Feed(d.ctx, packets)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, core.ErrEngineStopped) {
			d.fail(fmt.Errorf("feed failed: %w", err))
		}
	}()
}

func (d *Daemon) fail(err error) {
	select {
	case d.errCh <- err:
	default:
	}
}

// Stop performs graceful shutdown of all components. It is safe to call more than once.
func (d *Daemon) Stop() {
	if d.stopped {
		return
	}
	d.stopped = true
	log.GetLogger().Info("initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 1. Stop reporters first so they see the final statistics.
	if err := d.reporters.Close(ctx); err != nil {
		log.GetLogger().WithError(err).Error("error stopping reporters")
	}

	// 2. Stop capture and the engine.
	d.cancel()
	if d.capturer != nil {
		if err := d.capturer.Stop(ctx); err != nil {
			log.GetLogger().WithError(err).Error("error stopping capturer")
		}
	}
	d.wg.Wait()
	if d.closeDecoder != nil {
		d.closeDecoder()
	}

	// 3. Stop presentation.
	if d.web != nil {
		if err := d.web.Stop(ctx); err != nil {
			log.GetLogger().WithError(err).Error("error stopping web server")
		}
	}

	// 4. Persist profiles.
	if d.profiles != nil {
		if err := d.profiles.Close(); err != nil {
			metrics.ProfileStoreErrorsTotal.WithLabelValues("flush").Inc()
			log.GetLogger().WithError(err).Error("error closing profile store")
		}
	}

	// 5. Stop metrics server
	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(ctx); err != nil {
			log.GetLogger().WithError(err).Error("error stopping metrics server")
		}
	}

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}
	log.GetLogger().Info("resmeter stopped")
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT or a capture
// failure. SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				log.GetLogger().WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					log.GetLogger().WithError(err).Error("failed to reload config")
				}
			}
		case err := <-d.errCh:
			log.GetLogger().WithError(err).Error("shutting down")
			d.Stop()
			return err
		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level. Everything else requires a restart.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return errors.New("no config file to reload")
	}
	log.GetLogger().WithField("path", d.configPath).Info("reloading configuration")

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if newConfig.Log.Level != d.config.Log.Level {
		if err := log.SetLevel(newConfig.Log.Level); err != nil {
			return err
		}
		hotReloaded = append(hotReloaded, "log.level")
	}

	requiresRestart := []string{}
	if newConfig.Capture.Type != d.config.Capture.Type || newConfig.Capture.Interface != d.config.Capture.Interface {
		requiresRestart = append(requiresRestart, "capture")
	}
	if newConfig.Server.Listen != d.config.Server.Listen {
		requiresRestart = append(requiresRestart, "server.listen")
	}
	if newConfig.Metrics.Listen != d.config.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}
	d.config.Log.Level = newConfig.Log.Level

	log.GetLogger().
		WithField("hot_reloaded", hotReloaded).
		WithField("requires_restart", requiresRestart).
		Info("configuration reloaded")
	return nil
}

// Engine returns the running statistics engine.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		log.GetLogger().Debug("metrics server disabled")
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	return nil
}

// LogConfig maps the log section of the configuration to the logger options.
func LogConfig(c config.LogConfig) log.Config {
	out := log.Config{
		Level:   c.Level,
		Pattern: c.Pattern,
		Time:    c.Time,
		Caller:  c.Caller,
	}
	if c.Outputs.File.Enabled {
		out.File = log.FileAppenderOpt{
			Filename:   c.Outputs.File.Path,
			MaxSize:    c.Outputs.File.Rotation.MaxSizeMB,
			MaxBackups: c.Outputs.File.Rotation.MaxBackups,
			MaxAge:     c.Outputs.File.Rotation.MaxAgeDays,
			Compress:   c.Outputs.File.Rotation.Compress,
		}
	}
	return out
}
