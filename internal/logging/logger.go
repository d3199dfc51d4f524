// Package logging provides the structured loggers shared across the IAS
// scheduler and its subcontrollers. Every package asks for a named logger
// here rather than constructing its own, so log level and formatting stay
// consistent across the binary.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	logger          *logrus.Logger
	schedulerLogger *logrus.Logger
	bandwidthLogger *logrus.Logger
	htpairingLogger *logrus.Logger
)

func init() {
	logger = newLogger("")
	schedulerLogger = newLogger("ias")
	bandwidthLogger = newLogger("bandwidth")
	htpairingLogger = newLogger("htpairing")
}

func newLogger(msgKey string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	formatter := &logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
	}
	if msgKey != "" {
		formatter.FieldMap = logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   msgKey + "_msg",
		}
	}
	l.SetFormatter(formatter)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// GetLogger returns the general-purpose application logger (CLI, config).
func GetLogger() *logrus.Logger { return logger }

// GetSchedulerLogger returns the logger used by internal/ias.
func GetSchedulerLogger() *logrus.Logger { return schedulerLogger }

// GetBandwidthLogger returns the logger used by internal/bandwidth.
func GetBandwidthLogger() *logrus.Logger { return bandwidthLogger }

// GetHTPairingLogger returns the logger used by internal/htpairing.
func GetHTPairingLogger() *logrus.Logger { return htpairingLogger }

// SetLogLevel parses level and applies it to every logger in this package.
func SetLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	for _, l := range []*logrus.Logger{logger, schedulerLogger, bandwidthLogger, htpairingLogger} {
		l.SetLevel(parsed)
	}
	return nil
}
