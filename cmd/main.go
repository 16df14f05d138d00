package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluccaroni/majordodo/pkg/logger"
)

func main() {
	app := NewApplication()

	if err := app.Initialize(); err != nil {
		logger.Fatalf("broker initialization failed: %v", err)
	}

	if err := app.Start(); err != nil {
		logger.Fatalf("broker startup failed: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Infof("received exit signal: %v", sig)

	if err := app.Shutdown(30 * time.Second); err != nil {
		logger.Errorf("broker shutdown failed: %v", err)
		os.Exit(1)
	}

	logger.Infof("broker safely exited")
}
