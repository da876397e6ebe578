// Package app wires configuration, logging, the progress store, the
// Telegram adapter, the publish pipeline, and the chat listener into one
// supervised bot process.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"scoopbot/internal/config"
	"scoopbot/internal/feed"
	"scoopbot/internal/imaging"
	"scoopbot/internal/listener"
	"scoopbot/internal/pipeline"
	"scoopbot/internal/progress"
	kit "scoopbot/internal/transport"
	"scoopbot/internal/transport/telegram"
	logx "scoopbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   progress.Store
	pipe    *pipeline.Service
	listen  *listener.Service

	cron    *cron.Cron
	updates chan kit.Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	storePath := cfg.Storage.Path
	if storePath == "" {
		storePath = "./scoopbot_state.json"
	}
	store, err := progress.Open(progress.Config{
		Driver:      cfg.Storage.Driver,
		Path:        storePath,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "progress")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open progress store: %w", err)
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		adapter: ad,
		store:   store,
		updates: make(chan kit.Update, 256),
	}

	if cfg.Pipeline.Enabled {
		if err := a.buildPipeline(cfg, ad, store, log); err != nil {
			_ = store.Close()
			_ = logSvc.Close()
			return nil, err
		}
	}

	if cfg.Listener.Enabled {
		httpTimeout, err := config.ParseDurationField("listener.http_timeout", cfg.Listener.HTTPTimeout)
		if err != nil {
			return nil, err
		}
		a.listen = listener.New(listener.Config{
			ScrapeURL:   cfg.Listener.ScrapeURL,
			WorkoutURL:  cfg.Listener.WorkoutURL,
			Memes:       cfg.Listener.Memes,
			HTTPTimeout: httpTimeout,
		}, ad, log.With(logx.String("comp", "listener")))
	}

	return a, nil
}

func (a *App) buildPipeline(cfg *config.Config, ad *telegram.Adapter, store progress.Store, log logx.Logger) error {
	httpTimeout, err := config.ParseDurationField("feed.http_timeout", cfg.Feed.HTTPTimeout)
	if err != nil {
		return err
	}
	pace, err := config.ParseDurationOrDefault("pipeline.pace", cfg.Pipeline.Pace, 100*time.Millisecond)
	if err != nil {
		return err
	}

	source := feed.New(feed.Config{
		BaseURL:     cfg.Feed.BaseURL,
		ImageDomain: cfg.Feed.ImageDomain,
		HTTPTimeout: httpTimeout,
	})
	transformer := imaging.NewTransformer(httpTimeout)

	emoji := cfg.Pipeline.StickerEmoji
	if emoji == "" {
		emoji = "🍆"
	}
	title := cfg.Pipeline.SetTitle
	if title == "" {
		title = cfg.Pipeline.SetPrefix
	}
	namer := pipeline.Namer{
		Prefix: cfg.Pipeline.SetPrefix,
		Title:  title,
		Owner:  ad.Identity().Username,
	}
	publisher := pipeline.NewPublisher(ad, store, namer, emoji,
		kit.ChatTarget{ChatID: cfg.Telegram.AnnounceChatID},
		log.With(logx.String("comp", "publisher")))

	a.pipe = pipeline.New(pipeline.Config{
		Workers: cfg.Pipeline.Workers,
		SetSize: cfg.Pipeline.SetSize,
		Pace:    pace,
	}, source, transformer, publisher, store, log.With(logx.String("comp", "pipeline")))
	return nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	cfg := a.cfgm.Get()

	// Long polling is only needed when something consumes updates.
	if a.listen != nil {
		if err := a.adapter.Start(runCtx, a.updates); err != nil {
			cancel()
			return err
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.listen.Run(runCtx, a.updates)
		}()
	}

	if a.pipe != nil {
		if err := a.startSchedule(runCtx, cfg.Pipeline); err != nil {
			cancel()
			return err
		}
	}

	// Config hot reload: logging is the only section applied live; the
	// rest takes effect on restart.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sub := a.cfgm.Subscribe(1)
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case next := <-sub:
				if next == nil {
					continue
				}
				a.logs.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File: logx.FileConfig{
						Enabled: next.Logging.File.Enabled,
						Path:    next.Logging.File.Path,
					},
				})
				a.log.Info("logging config applied")
			}
		}
	}()

	a.notifySystemd(runCtx)

	id := a.adapter.Identity()
	a.log.Info("started", logx.Int64("bot_id", id.ID), logx.String("bot", id.Username))
	return nil
}

func (a *App) startSchedule(ctx context.Context, cfg config.PipelineConfig) error {
	run := func() {
		_, err := a.pipe.RunOnce(ctx)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			a.log.Warn("run trigger skipped: previous run still active")
		case err != nil:
			a.log.Error("run failed", logx.Err(err))
		}
	}

	if cfg.Schedule != "" {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		c := cron.New(cron.WithParser(parser))
		if _, err := c.AddFunc(cfg.Schedule, run); err != nil {
			return fmt.Errorf("pipeline.schedule: %w", err)
		}
		c.Start()
		a.cron = c
	}

	if cfg.RunOnStart {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			run()
		}()
	}
	return nil
}

// notifySystemd signals readiness and keeps the watchdog fed when the
// process runs under systemd; a no-op everywhere else.
func (a *App) notifySystemd(ctx context.Context) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	_ = a.adapter.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out waiting for workers")
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("progress store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
