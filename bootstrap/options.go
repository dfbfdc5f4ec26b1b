package bootstrap

import (
	"os"
	"syscall"
	"time"

	"github.com/kbukum/stepflow/logger"
)

// Option adjusts an App built by NewApp.
type Option func(*settings)

type settings struct {
	log     *logger.Logger
	grace   time.Duration
	signals []os.Signal
}

func defaultSettings() settings {
	return settings{grace: 15 * time.Second, signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM}}
}

// WithLogger replaces the logger otherwise built from the Logging section.
func WithLogger(l *logger.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithGracefulTimeout bounds the shutdown sequence as a whole.
func WithGracefulTimeout(d time.Duration) Option {
	return func(s *settings) { s.grace = d }
}

// WithSignals sets the signals that end Run or cancel a RunTask task.
func WithSignals(sig ...os.Signal) Option {
	return func(s *settings) { s.signals = sig }
}
