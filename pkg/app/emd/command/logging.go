package command

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/slimtoolkit/emd/pkg/config"
)

func parseLogLevel(name string) (log.Level, error) {
	switch name {
	case "trace":
		return log.TraceLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "", "warn":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	case "panic":
		return log.PanicLevel, nil
	}

	return log.WarnLevel, errors.Errorf("unknown log-level %q", name)
}

func setLogFormat(format string) error {
	switch format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{DisableColors: true})
	case "json":
		log.SetFormatter(new(log.JSONFormatter))
	default:
		return errors.Errorf("unknown log-format %q", format)
	}

	return nil
}

func setLogFile(path string) error {
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.SetOutput(f)
	return nil
}

// ConfigureLogging applies the logging flags.
func ConfigureLogging(gparams *GenericParams) error {
	switch {
	case gparams.Debug:
		log.SetLevel(log.DebugLevel)
	case gparams.Verbose:
		log.SetLevel(log.InfoLevel)
	default:
		level, err := parseLogLevel(gparams.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}

	if err := setLogFile(gparams.Log); err != nil {
		return err
	}

	return setLogFormat(gparams.LogFormat)
}

// ApplyLogConfig applies the log block of the config file. Bad values are
// reported and otherwise ignored.
func ApplyLogConfig(lc config.LogConfig) {
	if lc.Level != "" {
		if level, err := parseLogLevel(lc.Level); err == nil {
			log.SetLevel(level)
		} else {
			log.WithError(err).Warn("emd: config log.level ignored")
		}
	}

	if err := setLogFile(lc.File); err != nil {
		log.WithError(err).Warn("emd: config log.file ignored")
	}

	if lc.Format != "" {
		if err := setLogFormat(lc.Format); err != nil {
			log.WithError(err).Warn("emd: config log.format ignored")
		}
	}
}
