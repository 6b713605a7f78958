package logger

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

/*
Process-wide structured logger.

Packages grab a component entry once (logger.WithComponent("bufferpool")) at init time,
so Init reconfigures the one shared logrus.Logger in place instead of replacing it.
*/

var std = newDefault()

// Config controls level and destination of the process logger
type Config struct {
	Level  string // trace, debug, info, warn, error
	File   string // append to this file when set
	Stderr bool   // log to stderr even when File is set
}

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{DisableLevelTruncation: true})
	l.SetLevel(logrus.WarnLevel)
	l.SetOutput(os.Stderr)
	return l
}

// Init applies cfg to the shared logger. The returned closer releases the log file, if any.
func Init(cfg Config) (io.Closer, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	std.SetLevel(lvl)

	if cfg.File == "" || cfg.Stderr {
		std.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", cfg.File)
	}
	std.SetOutput(f)
	return f, nil
}

// ParseLevel accepts the logrus level names plus "warning"; empty means info.
func ParseLevel(level string) (logrus.Level, error) {
	if strings.TrimSpace(level) == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel, errors.Wrapf(err, "bad log level %q", level)
	}
	return lvl, nil
}

// L returns the shared logger
func L() *logrus.Logger { return std }

func WithComponent(name string) *logrus.Entry {
	return std.WithField("component", name)
}

func WithTx(trxID int32) *logrus.Entry {
	return std.WithField("trx", trxID)
}

func WithPage(tableID int64, pageNum uint64) *logrus.Entry {
	return std.WithFields(logrus.Fields{"table": tableID, "page": pageNum})
}

func WithLock(tableID int64, pageNum uint64, slot int) *logrus.Entry {
	return std.WithFields(logrus.Fields{"table": tableID, "page": pageNum, "slot": slot})
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
