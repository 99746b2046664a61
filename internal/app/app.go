// Package app assembles the relay: config, logging, side-channel,
// automation driver, web surface and the background machinery, with
// ordered startup and bounded shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"hermes/internal/config"
	"hermes/internal/portal"
	"hermes/internal/report"
	"hermes/internal/runtime/supervisor"
	"hermes/internal/sendjob"
	"hermes/internal/session"
	"hermes/internal/spool"
	"hermes/internal/transport"
	"hermes/internal/transport/telegram"
	"hermes/internal/web"
	"hermes/internal/wweb"
	logx "hermes/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	notifier *telegram.Adapter
	portal   *portal.Client
	reg      *session.Registry
	boot     *session.Bootstrap
	runner   *sendjob.Runner
	spool    *spool.Spool
	janitor  *spool.Janitor
	web      *web.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))

	tgTimeout, _ := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	notifier, err := telegram.New(telegram.Config{
		Token:   cfg.Telegram.Token,
		Timeout: tgTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	portalCfg, _ := mapPortal(cfg)
	pc := portal.New(portalCfg)

	sp, err := spool.New(cfg.Spool.Dir, log.With(logx.String("comp", "spool")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	janitorCfg, _ := mapJanitor(cfg)
	janitor := spool.NewJanitor(sp, janitorCfg, log.With(logx.String("comp", "spool")))

	browserCfg, _ := mapBrowser(cfg)
	driver := wweb.NewDriver(browserCfg, log.With(logx.String("comp", "wweb")))

	reg := session.NewRegistry()
	bootCfg, _ := mapBootstrap(cfg)
	boot := session.NewBootstrap(
		func(ctx context.Context) (session.Client, error) {
			c, err := driver.Open(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		reg, bootCfg, log.With(logx.String("comp", "session")),
	)

	runner := sendjob.NewRunner(sendjob.Config{
		RatePerSec:   cfg.Sender.RatePerSec,
		ChatLinkBase: cfg.Sender.ChatLinkBase,
		CountryCode:  cfg.Sender.CountryCode,
	}, reg, report.NewReporter(log.With(logx.String("comp", "report"))), log.With(logx.String("comp", "sendjob")))

	// One supervisor owns every background goroutine for the process life.
	sup := supervisor.New(context.Background(),
		supervisor.WithLogger(log),
		supervisor.WithCancelOnError(true))

	webCfg, _ := mapWeb(cfg)
	webSrv, err := web.New(webCfg, web.Deps{
		Portal:      pc,
		Boot:        boot,
		Registry:    reg,
		Runner:      runner,
		Sup:         sup,
		Spool:       sp,
		Notifier:    notifier,
		LogChannel:  transport.ChatTarget{ChatID: cfg.Telegram.LogChannel},
		ReportPhone: cfg.Session.VerifyPhone,
	}, log.With(logx.String("comp", "web")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	return &App{
		cfgm:     cfgm,
		sup:      sup,
		log:      log,
		logs:     logSvc,
		notifier: notifier,
		portal:   pc,
		reg:      reg,
		boot:     boot,
		runner:   runner,
		spool:    sp,
		janitor:  janitor,
		web:      webSrv,
	}, nil
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} { return a.sup.Context().Done() }

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error { return a.sup.Err() }

func (a *App) Start(ctx context.Context) error {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.janitor.Start(); err != nil {
		return err
	}
	if err := a.web.Start(); err != nil {
		return err
	}

	// Hot reload: logging settings apply live; everything else is wired at
	// construction and needs a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(mapLogging(newCfg))
				a.log.Info("config reloaded; non-logging changes take effect on restart")
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	// Refuse new work before canceling background jobs.
	a.step(ctx, "web", 2*time.Second, a.web.Stop)

	// Canceling the supervisor context unwinds in-flight send jobs: they
	// mark unattempted recipients failed, report, and release sessions.
	a.sup.Cancel()

	a.step(ctx, "janitor", time.Second, func(context.Context) error {
		a.janitor.Stop()
		return nil
	})
	a.step(ctx, "supervisor", 35*time.Second, a.sup.Wait)
	a.step(ctx, "sessions", 5*time.Second, func(context.Context) error {
		return a.reg.Drain()
	})

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// step runs one shutdown action with an upper bound so a stuck component
// cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()

	stepCtx := ctx
	var cancel context.CancelFunc
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)))
	}
}
