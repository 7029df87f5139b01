package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	log    *logrus.Logger
	initMu sync.Mutex
)

// Options controls logger initialization.
type Options struct {
	Level string // logrus level name, defaults to "info"
	File  string // optional rolling log file; empty means console only
}

// Init configures the process logger. Safe to call more than once; the last
// call wins.
func Init(opts Options) {
	initMu.Lock()
	defer initMu.Unlock()

	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	out := io.Writer(os.Stderr)
	if opts.File != "" {
		_ = os.MkdirAll(filepath.Dir(opts.File), 0o755)
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
	}
	l.SetOutput(out)

	log = l
}

// L returns the process logger, initializing a default one if needed.
func L() *logrus.Logger {
	initMu.Lock()
	defer initMu.Unlock()
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// Component returns an entry tagged with a component name.
func Component(name string) *logrus.Entry {
	return L().WithField("component", name)
}
