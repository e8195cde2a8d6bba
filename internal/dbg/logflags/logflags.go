// Package logflags configures the loggers of the debugger layers.
package logflags

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.Mutex
	logger = newLogger(os.Stderr, logrus.WarnLevel)
	closer io.Closer
)

func newLogger(out io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.Out = out
	l.Level = level
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	return l
}

// Setup sets the level and destination of every layer logger. An empty
// file logs to stderr.
func Setup(level, file string) error {
	lvl := logrus.WarnLevel
	if level != "" {
		var err error
		if lvl, err = logrus.ParseLevel(level); err != nil {
			return err
		}
	}

	var out io.Writer = os.Stderr
	var c io.Closer
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		out, c = f, f
	}

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer.Close()
	}
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	closer = c
	return nil
}

// SetOutput redirects all layers, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

func layer(name string) *logrus.Entry {
	return logger.WithField("layer", name)
}

// DebuggerLogger logs the event loop and the session.
func DebuggerLogger() *logrus.Entry { return layer("debugger") }

// NativeLogger logs the process control backend.
func NativeLogger() *logrus.Entry { return layer("native") }

// DAPLogger logs the DAP server.
func DAPLogger() *logrus.Entry { return layer("dap") }
