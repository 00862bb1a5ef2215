package main

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ryansname/bmsbridge/src/config"
)

// readlineWriter wraps log output so it does not clobber the debug prompt
type readlineWriter struct {
	mu sync.Mutex
	rl *readline.Instance
}

func (w *readlineWriter) SetReadline(rl *readline.Instance) {
	w.mu.Lock()
	w.rl = rl
	w.mu.Unlock()
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// setupLogging configures the global logger from cfg.
// Console output goes to console; a log file is added when cfg.File is set.
func setupLogging(cfg config.LogConfig, console io.Writer) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}
	zerolog.SetGlobalLevel(level)

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339},
	}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return nil
}
