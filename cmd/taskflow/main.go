// @title			TaskFlow API
// @version		1.0
// @description	Task delivery workflow for the project management portal: state machine, QA review queue and realtime updates.
// @BasePath		/

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/sourcegraph/conc"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/taskflow/internal/bus"
	"github.com/mtlprog/taskflow/internal/config"
	"github.com/mtlprog/taskflow/internal/database"
	"github.com/mtlprog/taskflow/internal/handler"
	"github.com/mtlprog/taskflow/internal/logger"
	"github.com/mtlprog/taskflow/internal/realtime"
	"github.com/mtlprog/taskflow/internal/repository"
	"github.com/mtlprog/taskflow/internal/service"
)

func main() {
	app := &cli.App{
		Name:  "taskflow",
		Usage: "Task delivery workflow for the project management portal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:     "database-url",
				Aliases:  []string{"d"},
				Value:    config.DefaultDatabaseURL,
				Usage:    "PostgreSQL database URL",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
		},
		Before: func(c *cli.Context) error {
			logger.Setup(logger.ParseLevel(c.String("log-level")))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the web server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   config.DefaultPort,
						Usage:   "HTTP server port",
						EnvVars: []string{"PORT"},
					},
				},
				Action: runServe,
			},
			{
				Name:   "sweep",
				Usage:  "Run one sweep pass (promote QA queue, finalize approvals, overdue alerts) and exit",
				Action: runSweep,
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func runServe(c *cli.Context) error {
	ctx := c.Context

	port := c.String("port")
	if port == "" {
		port = config.DefaultPort
	}
	databaseURL := c.String("database-url")

	env, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("failed to load environment: %w", err)
	}

	db, err := database.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	taskRepo := repository.NewTaskRepository(db.Pool())
	eventRepo := repository.NewTaskEventRepository(db.Pool())
	userRepo := repository.NewUserRepository(db.Pool())

	eventBus := bus.New()
	taskService := service.NewTaskService(db.Pool(), taskRepo, eventRepo, userRepo, eventBus)

	hub := realtime.NewHub(env.Realtime, userRepo, taskService)
	defer hub.Close()

	dispatcher := bus.NewDispatcher(eventBus, hub)
	sweeper := service.NewSweeper(taskService, env.Sweep)

	h := handler.New(db.Pool(), taskService, hub, userRepo)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           cors.AllowAll().Handler(mux),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers conc.WaitGroup
	workers.Go(func() { dispatcher.Run(workerCtx) })
	workers.Go(func() { sweeper.Run(workerCtx) })

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "server_addr", "http://localhost:"+port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stopWorkers()
		workers.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	stopWorkers()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func runSweep(c *cli.Context) error {
	ctx := c.Context
	databaseURL := c.String("database-url")

	env, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("failed to load environment: %w", err)
	}

	db, err := database.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	taskRepo := repository.NewTaskRepository(db.Pool())
	eventRepo := repository.NewTaskEventRepository(db.Pool())
	userRepo := repository.NewUserRepository(db.Pool())

	// No live connections in one-shot mode; events are persisted only.
	taskService := service.NewTaskService(db.Pool(), taskRepo, eventRepo, userRepo, nil)
	sweeper := service.NewSweeper(taskService, env.Sweep)

	sweeper.Sweep(ctx)
	slog.Info("sweep completed")

	return nil
}
