package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/app"
	"github.com/openhall/hiringhall/internal/sweep"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	flag.Parse()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	sweeper, err := sweep.NewSweeper(service.Config, service.Store, service.Engine)
	if err != nil {
		logger.Error.Fatalf("Failed to initialize sweeper: %v", err)
	}
	defer sweeper.Stop()

	logger.Info.Println("Daily sweeps scheduled")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info.Println("Sweeper shutting down")
}
