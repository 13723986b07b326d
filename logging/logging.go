// Package logging configures the process-wide logrus logger.
package logging

import (
	log "github.com/sirupsen/logrus"
	loki "github.com/yukitsune/lokirus"
)

// Options controls logger initialization.
type Options struct {
	Level       string
	Format      string
	LokiAddress string
	App         string
}

// Initialize sets the logrus level, formatter and, when a Loki address is
// configured, attaches the Loki hook.
func Initialize(opts Options) {
	if level, err := log.ParseLevel(opts.Level); err == nil {
		log.SetLevel(level)
	}

	if opts.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	if opts.LokiAddress == "" {
		return
	}

	lokiOpts := loki.NewLokiHookOptions().WithLevelMap(
		loki.LevelMap{log.PanicLevel: "critical"},
	).WithFormatter(
		&log.JSONFormatter{},
	).WithStaticLabels(
		loki.Labels{
			"app": opts.App,
		},
	)

	hook := loki.NewLokiHookWithOpts(
		opts.LokiAddress,
		lokiOpts,
		log.InfoLevel,
		log.WarnLevel,
		log.ErrorLevel,
		log.FatalLevel,
	)

	log.AddHook(hook)
}
