// Package app wires configuration, logging, the realtime subsystem and its
// presentation surfaces into one process with hot config reload.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"roomnotify/internal/config"
	"roomnotify/internal/eventbus"
	"roomnotify/internal/observability/status"
	"roomnotify/internal/present"
	"roomnotify/internal/realtime"
	"roomnotify/internal/runtime/supervisor"
	logx "roomnotify/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	rt      *realtime.Subsystem
	console *present.Console
	digest  *digestJob
	status  *status.Service
	sd      *sdNotifier

	stdin  io.Reader
	stdout io.Writer
}

type Option func(*App)

// WithIO replaces stdin/stdout for the console presenter.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.stdin, a.stdout = in, out }
}

// WithEnvLookup replaces os.LookupEnv for the credential overrides.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(a *App) { a.cfgm.SetEnvLookup(fn) }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	a := &App{
		cfgPath: cfgPath,
		cfgm:    config.NewConfigManager(cfgPath),
		stdin:   os.Stdin,
		stdout:  logx.Stdout(),
	}
	for _, o := range opts {
		o(a)
	}

	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	rtOpts, dialer, err := mapRealtimeOptions(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	dialer.Log = log.With(logx.String("comp", "stomp"))
	rtOpts.Dialer = realtime.STOMPDialer(dialer)
	rtOpts.Log = log
	rtOpts.Bus = a.bus
	a.rt, err = realtime.NewSubsystem(rtOpts)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	loc := cfg.Console.Location()
	if cfg.Console.Enabled {
		var in io.Reader
		if cfg.Console.Interactive {
			in = a.stdin
		}
		a.console = present.NewConsole(a.rt, present.Options{
			Out:      a.stdout,
			In:       in,
			Location: loc,
			NoColor:  cfg.Console.NoColor,
			Log:      log.With(logx.String("comp", "console")),
		})
	}

	a.digest = newDigestJob(loc, func() string { return present.Summary(a.rt) }, log.With(logx.String("comp", "digest")))
	if err := a.digest.Apply(cfg.Digest); err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("digest.schedule: %w", err)
	}
	a.status = status.New(mapStatusConfig(cfg), a.rt, log.With(logx.String("comp", "status")))
	a.sd = newSDNotifier(log.With(logx.String("comp", "systemd")))

	return a, nil
}

// Subsystem exposes the realtime subsystem to embedding callers.
func (a *App) Subsystem() *realtime.Subsystem { return a.rt }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, _, err := mapRealtimeOptions(cfg)
		return err
	})

	// Debug event log plus systemd STATUS= on connection state changes.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if ch, ok := e.Data.(realtime.StateChange); ok {
					a.sd.Status(ch)
				}
			}
		}
	})

	cfg := a.cfgm.Get()
	a.rt.Start(mapBootstrap(cfg))

	if a.console != nil {
		a.sup.Go("console", a.console.Run)
	}
	a.digest.Start()
	if a.status.Enabled() {
		a.status.Start(a.sup.Context())
	}
	a.sup.Go0("systemd.watchdog", a.sd.watchdog)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready()
	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.String("entity_id", strings.TrimSpace(cfg.Viewer.EntityID)),
		logx.Bool("console", a.console != nil),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("digest", time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("realtime", 3*time.Second, a.rt.Close)

	// Finally, wait for supervised goroutines (console, config watch/reload, event log).
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
