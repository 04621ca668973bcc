package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/othala-run/othala/pkg/config"
	"github.com/othala-run/othala/pkg/configwatch"
	"github.com/othala-run/othala/pkg/delta"
	"github.com/othala-run/othala/pkg/eventbus"
	"github.com/othala-run/othala/pkg/eventlog"
	"github.com/othala-run/othala/pkg/metrics"
	"github.com/othala-run/othala/pkg/notify"
	"github.com/othala-run/othala/pkg/runtime"
	"github.com/othala-run/othala/pkg/service"
	"github.com/othala-run/othala/pkg/stackqueue"
	"github.com/othala-run/othala/pkg/store"
	"github.com/othala-run/othala/pkg/task"
	"github.com/othala-run/othala/pkg/vcs"
)

// App wires together every long-lived component a running othalad
// instance needs: durable storage, the JSONL mirror, notification sinks,
// the event bus, metrics, and the runtime engine that drives task state
// forward one tick at a time.
type App struct {
	cfg *config.Config

	store    *store.Store
	eventLog *eventlog.JSONLEventLog
	svc      *service.Service
	engine   *runtime.Engine
	queue    *stackqueue.Queue
	bus      *eventbus.Bus
	metrics  *metrics.Registry
	reporter *delta.Reporter
	watcher  *configwatch.Watcher

	modelAvailability map[task.ModelKind]bool
}

// NewApp constructs an App from a loaded Config. It connects to Postgres,
// applies migrations, and prepares the JSONL event-log layout, but starts
// no background goroutines — call Run for that.
func NewApp(ctx context.Context, cfg *config.Config, configDir string) (*App, error) {
	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load db config: %w", err)
	}

	st, err := store.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	slog.Info("connected to postgres and applied migrations")

	elog := eventlog.New(eventDir(configDir))
	if err := elog.EnsureLayout(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("prepare event log: %w", err)
	}

	busCfg := eventbus.DefaultConfig()
	busCfg.Enabled = cfg.Org.Notify.Slack.Enabled // piggy-backs on whether operators asked for any external fan-out
	bus, err := eventbus.Connect(busCfg)
	if err != nil {
		slog.Warn("event bus unavailable, continuing without it", "error", err)
		bus, _ = eventbus.Connect(eventbus.Config{Enabled: false})
	}

	reg := metrics.New()

	sinks := buildNotifySinks(cfg)
	dispatcher := notify.NewDispatcher(sinks...)
	svc := service.NewWithNotifier(st, elog, dispatcher, bus, reg)

	var firstRepo config.RepoConfig
	for _, rc := range cfg.Repos {
		firstRepo = rc
		break
	}
	stackCfg := cfg.StackToolConfigFor(firstRepo.RepoID)
	engine := runtime.New(vcs.StackToolConfig{Binary: stackCfg.Binary, Timeout: stackCfg.Timeout}, cfg.Org.Verify.Timeout, reg)

	queue := stackqueue.NewQueue(reg)

	avail := make(map[task.ModelKind]bool, 3)
	for _, m := range []task.ModelKind{task.ModelClaude, task.ModelCodex, task.ModelGemini} {
		avail[m] = true
	}

	app := &App{
		cfg:               cfg,
		store:             st,
		eventLog:          elog,
		svc:               svc,
		engine:            engine,
		queue:             queue,
		bus:               bus,
		metrics:           reg,
		reporter:          delta.NewReporter(delta.DefaultSuppressionPolicy()),
		watcher:           configwatch.New(configDir),
		modelAvailability: avail,
	}
	app.watcher.OnReload = app.reloadConfig
	app.watcher.OnError = func(err error) { slog.Warn("config reload error", "error", err) }

	return app, nil
}

func (a *App) reloadConfig(cfg *config.Config) {
	a.cfg = cfg
}

// Close releases every resource the App holds.
func (a *App) Close() {
	a.bus.Close()
	_ = a.eventLog.Close()
	_ = a.store.Close()
}

// Tick runs one runtime engine pass and feeds the result into the delta
// reporter, logging a human-readable report when one is due.
func (a *App) Tick(ctx context.Context, at time.Time) error {
	started := time.Now()
	summary, err := a.engine.Tick(ctx, a.svc, a.cfg, a.modelAvailability, at)
	a.metrics.TickDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	a.metrics.TicksTotal.Inc()
	if summary.Touched() {
		slog.Info("tick completed",
			"initialized", summary.Initialized,
			"restacked", summary.Restacked,
			"verify_passed", summary.VerifyPassed,
			"verify_failed", summary.VerifyFailed,
			"submitted", summary.Submitted,
			"errors", summary.Errors,
		)
	}

	snapshot, err := a.buildSnapshot(ctx, at)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	if report := a.reporter.ProcessTick(snapshot, at); report != nil {
		a.metrics.DeltaReportsEmitted.Inc()
		fmt.Println(delta.Render(*report))
	}
	return nil
}

func (a *App) buildSnapshot(ctx context.Context, at time.Time) (delta.Snapshot, error) {
	snapshot := delta.NewSnapshot(at)
	tasks, err := a.svc.ListTasks(ctx)
	if err != nil {
		return snapshot, err
	}
	a.metrics.TasksByState.Reset()
	counts := make(map[string]float64)
	for _, t := range tasks {
		snapshot.TaskStates[t.ID] = string(t.State)
		counts[string(t.State)]++
	}
	for state, count := range counts {
		a.metrics.TasksByState.WithLabelValues(state).Set(count)
	}
	for model, healthy := range a.modelAvailability {
		state := delta.ModelDisabled
		if healthy {
			state = delta.ModelHealthy
		}
		snapshot.ModelHealth[string(model)] = state
		a.metrics.ModelHealth.WithLabelValues(string(model)).Set(metrics.ModelHealthValue(healthy, false))
	}
	return snapshot, nil
}

func eventDir(configDir string) string {
	return configDir + "/events"
}

func buildNotifySinks(cfg *config.Config) []notify.Sink {
	var sinks []notify.Sink
	sinks = append(sinks, notify.NewLogSink(slog.Default()))
	if cfg.Org.Notify.Slack.Enabled {
		if token := os.Getenv(cfg.Org.Notify.Slack.TokenEnv); token != "" {
			sinks = append(sinks, notify.NewSlackSink(token, cfg.Org.Notify.Slack.Channel, ""))
		}
	}
	return sinks
}
