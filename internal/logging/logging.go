// Package logging wires the module's global logrus logger: structured
// JSON output split across stdout/stderr by level, optional rotated
// file sinks per level, and Sentry for panics — the same shape every
// dendrite entrypoint sets up before anything else runs.
package logging

import (
	"os"
	"time"

	"github.com/MFAshby/stdemuxerhook"
	"github.com/getsentry/sentry-go"
	"github.com/matrix-org/dugong"
	"github.com/sirupsen/logrus"
)

const flushTimeout = 5 * time.Second

// FileHook describes one rotated log file sink for a minimum level.
type FileHook struct {
	Type  string // "std" (ignored here, kept for config-shape parity) or "file"
	Level string // logrus level name: "debug", "info", "warn", "error"
	Path  string
	Daily bool
}

// SetupStdLogging configures logrus to emit structured JSON, Info and
// below to stdout and Warn and above to stderr via stdemuxerhook — so a
// process supervisor can route the two streams independently without
// this module parsing its own log lines.
func SetupStdLogging() {
	logrus.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)
	logrus.AddHook(stdemuxerhook.New(logrus.StandardLogger()))
}

// SetupHookLogging adds one level-filtered hook per entry on top of
// whatever SetupStdLogging already configured. Only an entry with Daily
// set gets a file writer (dugong's daily-rotating file at Path); an
// entry without Daily adds a hook with no writer.
func SetupHookLogging(hooks []FileHook) error {
	for _, h := range hooks {
		level, err := logrus.ParseLevel(h.Level)
		if err != nil {
			return err
		}
		var writer *dugong.DailyRotateFile
		if h.Daily {
			writer, err = dugong.NewDailyRotateFile(h.Path)
			if err != nil {
				return err
			}
		}
		logrus.AddHook(&levelFileHook{minLevel: level, writer: writer})
	}
	return nil
}

// SetupSentry initialises Sentry reporting when dsn is non-empty, so
// panics recovered anywhere in the process are reported upstream.
func SetupSentry(dsn string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
		return err
	}
	logrus.RegisterExitHandler(func() { sentry.Flush(flushTimeout) })
	return nil
}

type levelFileHook struct {
	minLevel logrus.Level
	writer   *dugong.DailyRotateFile
}

func (h *levelFileHook) Levels() []logrus.Level {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= h.minLevel {
			levels = append(levels, l)
		}
	}
	return levels
}

func (h *levelFileHook) Fire(entry *logrus.Entry) error {
	if h.writer == nil {
		return nil
	}
	line, err := entry.Bytes()
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}
