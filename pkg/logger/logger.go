package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog.Logger with additional functionality
type Logger struct {
	logger zerolog.Logger
}

// Config represents logger configuration
type Config struct {
	Level      string `yaml:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `yaml:"format" mapstructure:"format"`           // json, console
	Output     string `yaml:"output" mapstructure:"output"`           // stdout, stderr, file path
	Timestamp  bool   `yaml:"timestamp" mapstructure:"timestamp"`     // include timestamp
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // include caller info
	PrettyMode bool   `yaml:"pretty_mode" mapstructure:"pretty_mode"` // enable pretty console output
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		Timestamp:  true,
		Caller:     false,
		PrettyMode: true,
	}
}

// globalLogger holds the process-wide logger used by the CLI entry point
var globalLogger *Logger

// New builds a logger from config without touching any global state.
func New(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}

	output, err := openOutput(config.Output)
	if err != nil {
		return nil, err
	}

	return newWithWriter(config, output).level(level), nil
}

// NewWithWriter builds a logger that writes to w. Output in config is ignored.
func NewWithWriter(config *Config, w io.Writer) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	return newWithWriter(config, w).level(level)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func newWithWriter(config *Config, output io.Writer) *Logger {
	var logger zerolog.Logger

	switch {
	case config.Format == "console" && config.PrettyMode:
		consoleWriter := zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}

		consoleWriter.FormatLevel = func(i interface{}) string {
			var l string
			if ll, ok := i.(string); ok {
				switch ll {
				case "trace":
					l = "🔍 TRACE"
				case "debug":
					l = "🐛 DEBUG"
				case "info":
					l = "ℹ️  INFO"
				case "warn":
					l = "⚠️  WARN"
				case "error":
					l = "❌ ERROR"
				case "fatal":
					l = "💀 FATAL"
				case "panic":
					l = "🔥 PANIC"
				default:
					l = strings.ToUpper(ll)
				}
			}
			return l
		}

		consoleWriter.FormatMessage = func(i interface{}) string {
			if msg, ok := i.(string); ok {
				return msg
			}
			return ""
		}

		logger = zerolog.New(consoleWriter)
	case config.Format == "console":
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	default:
		logger = zerolog.New(output)
	}

	if config.Timestamp {
		logger = logger.With().Timestamp().Logger()
	}

	if config.Caller {
		logger = logger.With().Caller().Logger()
	}

	return &Logger{logger: logger}
}

func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nil
	case "stderr", "":
		return os.Stderr, nil
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, err
		}
		return file, nil
	}
}

func (l *Logger) level(level zerolog.Level) *Logger {
	return &Logger{logger: l.logger.Level(level)}
}

// Initialize sets up the process-wide logger with the provided configuration.
// Library packages never read it; it backs Get for the CLI entry point.
func Initialize(config *Config) error {
	logger, err := New(config)
	if err != nil {
		return err
	}

	globalLogger = logger
	log.Logger = logger.logger

	return nil
}

// Get returns the process-wide logger instance
func Get() *Logger {
	if globalLogger == nil {
		_ = Initialize(nil)
	}
	return globalLogger
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	logger := l.logger.With()
	for k, v := range fields {
		logger = logger.Interface(k, v)
	}
	return &Logger{logger: logger.Logger()}
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", component).Logger()}
}

// WithError adds an error field to the logger
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{logger: l.logger.With().Err(err).Logger()}
}

// Debug logs a debug message
func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

// Info logs an info message
func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

// Warn logs a warning message
func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

// Error logs an error message
func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() zerolog.Level {
	return l.logger.GetLevel()
}
