package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jobmq/jobmq/broker"
	"github.com/jobmq/jobmq/config"
	"github.com/jobmq/jobmq/logging"
	"github.com/jobmq/jobmq/util"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := util.Getenv("JOBMQ_CONFIG", "")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Fatal("failed to load configuration")
	}

	logging.Initialize(logging.Options{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		LokiAddress: cfg.LokiAddress,
		App:         "router",
	})

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)

	for {
		router := broker.NewRouter(cfg)
		if err := router.Bind(); err != nil {
			log.WithFields(log.Fields{"error": err}).Fatal("failed to bind endpoints")
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- router.Run(ctx)
		}()

		reload := false
		select {
		case err = <-done:
		case <-sighup:
			log.Info("caught SIGHUP, reloading configuration")
			reload = true
			cancel()
			err = <-done
		case sig := <-term:
			log.WithFields(log.Fields{"signal": sig}).Info("caught signal, shutting down")
			cancel()
			err = <-done
		}

		cancel()
		router.Close()

		if err != nil {
			log.WithFields(log.Fields{
				"error":  err,
				"errors": router.ErrorCount(),
			}).Error("router stopped with error")
			os.Exit(1)
		}

		if !reload {
			break
		}

		if cfg, err = config.Load(configPath); err != nil {
			log.WithFields(log.Fields{"error": err}).Fatal("failed to reload configuration")
		}
	}

	log.Debug("router exiting")
}
