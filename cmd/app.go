package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aluccaroni/majordodo/app/handler"
	"github.com/aluccaroni/majordodo/app/router"
	"github.com/aluccaroni/majordodo/internal/broker"
	"github.com/aluccaroni/majordodo/internal/commitlog"
	"github.com/aluccaroni/majordodo/internal/commitlog/redislog"
	"github.com/aluccaroni/majordodo/internal/jobs"
	"github.com/aluccaroni/majordodo/pkg/config"
	"github.com/aluccaroni/majordodo/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// Application manages the lifecycle of the broker process
type Application struct {
	config *config.Config

	commitLog   commitlog.StatusChangesLog
	redisClient *redis.Client

	broker *broker.Broker

	taskHandler   *handler.TaskHandler
	workerHandler *handler.WorkerHandler

	httpServer *http.Server
	ginEngine  *gin.Engine

	jobsManager *jobs.Manager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize initializes all broker components
func (app *Application) Initialize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Status Changes Log", app.initCommitLog},
		{"Broker", app.initBroker},
		{"Background Jobs", app.initJobs},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.Infof("initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	logger.Infof("broker initialization completed")
	return nil
}

func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

func (app *Application) initLogger() error {
	return logger.Init()
}

func (app *Application) initCommitLog() error {
	switch app.config.Log.Backend {
	case "file":
		fileLog, err := commitlog.NewFileLog(app.config.Log.Dir)
		if err != nil {
			return err
		}
		app.commitLog = fileLog
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     app.config.Redis.Addr,
			Password: app.config.Redis.Password,
			DB:       app.config.Redis.DB,
		})
		if err := client.Ping(app.ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redisClient = client
		app.commitLog = redislog.NewRedisLog(client, "majordodo")
	default:
		app.commitLog = commitlog.NewMemoryLog()
	}
	return nil
}

func (app *Application) initBroker() error {
	app.broker = broker.NewBroker(app.config.Broker, app.commitLog, broker.NewTasksHeap())
	return nil
}

func (app *Application) initJobs() error {
	manager := jobs.NewManager(app.ctx)
	manager.Register(jobs.NewCheckpointJob(app.config.Broker.CheckpointIntervalDuration(), app.broker))
	manager.Register(jobs.NewFinishedTaskCollectorJob(app.config.Broker.PurgeIntervalDuration(), app.broker))
	app.jobsManager = manager
	return nil
}

func (app *Application) initHTTPServer() error {
	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()

	app.taskHandler = handler.NewTaskHandler(app.broker)
	app.workerHandler = handler.NewWorkerHandler(app.broker)

	r := router.NewRouter(app.taskHandler, app.workerHandler)
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}
	return nil
}

// Start starts all broker components
func (app *Application) Start() error {
	if err := app.broker.Start(); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	// checkpoints must run in leader mode and in follower mode alike
	app.jobsManager.Start()
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.jobsManager.Wait()
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		logger.Infof("HTTP server listening on %s", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts the broker down
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.Infof("starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	app.cancel()
	app.jobsManager.Stop()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	app.broker.Stop()

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infof("all background tasks completed")
	case <-shutdownCtx.Done():
		logger.Warnf("shutdown timeout, some tasks may not have completed")
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			logger.Errorf("failed to close redis client: %v", err)
		}
	}

	logger.Sync()
	logger.Infof("graceful shutdown completed")
	return nil
}
