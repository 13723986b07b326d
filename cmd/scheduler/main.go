package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jobmq/jobmq/config"
	"github.com/jobmq/jobmq/logging"
	"github.com/jobmq/jobmq/scheduler"
	"github.com/jobmq/jobmq/util"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := util.Getenv("JOBMQ_CONFIG", "")
	endpoint := util.Getenv("JOBMQ_ROUTER_ADDR", "tcp://localhost:47290")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Fatal("failed to load configuration")
	}

	logging.Initialize(logging.Options{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		LokiAddress: cfg.LokiAddress,
		App:         "scheduler",
	})

	runtime, err := scheduler.NewRuntime(cfg, endpoint)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Fatal("failed to initialize scheduler")
	}

	if err := runtime.Connect(); err != nil {
		log.WithFields(log.Fields{"error": err}).Fatal("failed to connect to router")
	}
	defer runtime.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runtime.Run(ctx)
	}()

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-done:
	case sig := <-term:
		log.WithFields(log.Fields{"signal": sig}).Info("caught signal, shutting down")
		cancel()
		err = <-done
	}

	cancel()

	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("scheduler stopped with error")
		os.Exit(1)
	}

	log.Debug("scheduler exiting")
}
