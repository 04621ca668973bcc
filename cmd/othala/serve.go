package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/othala-run/othala/pkg/config"
)

// group runs a set of goroutines together, canceling every member's
// context as soon as the first one returns a non-nil error (or all exit
// cleanly), and reports that first error back to the caller.
type group struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	err    error
}

func errGroupWithContext(ctx context.Context) (*group, context.Context) {
	gctx, cancel := context.WithCancel(ctx)
	return &group{cancel: cancel}, gctx
}

func (g *group) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.once.Do(func() { g.err = err })
			g.cancel()
		}
	}()
}

func (g *group) Wait() error {
	g.wg.Wait()
	g.cancel()
	return g.err
}

func newServeCmd(configDir *string) *cobra.Command {
	var (
		httpAddr     string
		tickInterval time.Duration
		maintEvery   time.Duration
		qaEvery      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon: tick loop, HTTP admin surface, background generators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configDir, httpAddr, tickInterval, maintEvery, qaEvery)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", getEnv("OTHALA_HTTP_ADDR", ":8080"), "address the admin HTTP server listens on")
	cmd.Flags().DurationVar(&tickInterval, "tick-interval", 5*time.Second, "interval between runtime engine ticks")
	cmd.Flags().DurationVar(&maintEvery, "maintenance-interval", 2*time.Minute, "interval between context-gen/QA-spec-gen sweeps")
	cmd.Flags().DurationVar(&qaEvery, "qa-interval", 90*time.Second, "interval between QA validation sweeps of reviewing tasks")
	return cmd
}

func runServe(ctx context.Context, configDir, httpAddr string, tickInterval, maintEvery, qaEvery time.Duration) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("configuration loaded", "repos", len(cfg.Repos), "config_dir", configDir)

	app, err := NewApp(ctx, cfg, configDir)
	if err != nil {
		return err
	}
	defer app.Close()

	g, gctx := errGroupWithContext(ctx)

	g.Go(func() error { return app.watcher.Run(gctx) })

	g.Go(func() error {
		newMaintainer(app.metrics).Run(gctx, app.cfg, maintEvery)
		return nil
	})

	g.Go(func() error {
		newQARunner(app.svc, app.metrics).Run(gctx, app.cfg, qaEvery)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := app.Tick(gctx, time.Now()); err != nil {
					slog.Error("tick failed", "error", err)
				}
			}
		}
	})

	srv := &http.Server{Addr: httpAddr, Handler: buildRouter(app)}
	g.Go(func() error {
		slog.Info("admin HTTP server listening", "addr", httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func buildRouter(app *App) *gin.Engine {
	gin.SetMode(getEnv("GIN_MODE", "release"))
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		health, err := app.store.Health(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "store": health, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "store": health, "repos": len(app.cfg.Repos)})
	})

	r.GET("/tasks", func(c *gin.Context) {
		tasks, err := app.svc.ListTasks(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	})

	r.GET("/tasks/:id/events", func(c *gin.Context) {
		events, err := app.svc.TaskEvents(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.metrics.Registry(), promhttp.HandlerOpts{})))

	return r
}
