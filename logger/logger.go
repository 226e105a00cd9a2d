package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger represents a structured logger
type Logger struct {
	logger zerolog.Logger
}

// Fields represents log fields
type Fields map[string]interface{}

var (
	// Default is the default logger instance
	Default *Logger
)

// Init initializes the default logger. Every sink receives the raw JSON
// events alongside the console output.
func Init(sinks ...io.Writer) {
	level := getLogLevel()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	writers := append([]io.Writer{console}, sinks...)
	Default = New(zerolog.MultiLevelWriter(writers...))

	Default.Info().
		Str("level", level.String()).
		Int("sinks", len(sinks)).
		Msg("Logger initialized")
}

// New creates a logger writing JSON events to w
func New(w io.Writer) *Logger {
	return &Logger{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// getLogLevel returns the log level from environment variable
func getLogLevel() zerolog.Level {
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		if os.Getenv("SNIPEDEAL_ENVIRONMENT") == "production" {
			return zerolog.InfoLevel
		}
		return zerolog.DebugLevel
	}

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// WithFields creates a new logger with fields
func (l *Logger) WithFields(fields Fields) *Logger {
	newLogger := l.logger.With()
	for k, v := range fields {
		newLogger = newLogger.Interface(k, v)
	}
	return &Logger{logger: newLogger.Logger()}
}

// WithField creates a new logger with a single field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

// Debug returns a debug event
func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

// Info returns an info event
func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

// Warn returns a warn event
func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

// Error returns an error event
func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// Fatal returns a fatal event
func (l *Logger) Fatal() *zerolog.Event {
	return l.logger.Fatal()
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	ensure()
	Default.Info().Msgf(format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	ensure()
	Default.Warn().Msgf(format, v...)
}

// LogError is a convenience method for logging errors with context
func LogError(component string, err error, format string, v ...interface{}) {
	ensure()
	Default.Error().
		Str("component", component).
		Err(err).
		Msg(fmt.Sprintf(format, v...))
}

func ensure() {
	if Default == nil {
		Init()
	}
}

func forComponent(name string) *Logger {
	ensure()
	return Default.WithField("component", name)
}

// ForFetcher creates a logger for the page fetcher
func ForFetcher() *Logger { return forComponent("fetcher") }

// ForExtractor creates a logger for listing extraction
func ForExtractor() *Logger { return forComponent("extractor") }

// ForOrchestrator creates a logger for one campaign's cycles
func ForOrchestrator(campaignID int64) *Logger {
	return forComponent("orchestrator").WithField("campaign_id", campaignID)
}

// ForNotifier creates a logger for the notifier
func ForNotifier() *Logger { return forComponent("notifier") }

// ForScheduler creates a logger for the scheduler
func ForScheduler() *Logger { return forComponent("scheduler") }

// ForDedup creates a logger for the dedup store
func ForDedup() *Logger { return forComponent("dedup") }

// ForStorage creates a logger for the listing store
func ForStorage() *Logger { return forComponent("storage") }

// ForPublisher creates a logger for the publisher
func ForPublisher() *Logger { return forComponent("publisher") }

// ForCache creates a logger for the cache
func ForCache() *Logger { return forComponent("cache") }

// ForAPI creates a logger for the ops HTTP surface
func ForAPI() *Logger { return forComponent("api") }
