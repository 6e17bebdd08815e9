package libsimconnect_log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogStdoutWriter struct {
	io.Writer
}

func (w *LogStdoutWriter) Close() {
}

func (w *LogStdoutWriter) Flush() error {
	return nil
}

func NewLogStdoutWriter() *LogStdoutWriter {
	return &LogStdoutWriter{os.Stdout}
}

type LogStderrWriter struct {
	io.Writer
}

func (w *LogStderrWriter) Close() {
}

func (w *LogStderrWriter) Flush() error {
	return nil
}

func NewLogStderrWriter() *LogStderrWriter {
	return &LogStderrWriter{os.Stderr}
}

// LogRotatingWriter writes into a size rotated file.
type LogRotatingWriter struct {
	mu     sync.Mutex
	logger *lumberjack.Logger
}

// NewLogRotatingWriter creates a rotating writer. maxSizeMB, maxBackups and maxAgeDays follow
// lumberjack, 0 keeps its defaults.
func NewLogRotatingWriter(path string, maxSizeMB int, maxBackups int, maxAgeDays int, compress bool) (*LogRotatingWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	return &LogRotatingWriter{
		logger: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
			LocalTime:  true,
		},
	}, nil
}

func (w *LogRotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logger.Write(p)
}

// Rotate closes the current file and starts a new one.
func (w *LogRotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logger.Rotate()
}

func (w *LogRotatingWriter) Flush() error {
	return nil
}

func (w *LogRotatingWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger.Close()
}

// LogSinkConfigure describes one output of a logger.
type LogSinkConfigure struct {
	// Type is stdout, stderr or file
	Type     string `yaml:"type" toml:"type"`
	MinLevel string `yaml:"min_level" toml:"min_level"`
	MaxLevel string `yaml:"max_level" toml:"max_level"`
	Format   string `yaml:"format" toml:"format"`

	AutoFlushLevel   string `yaml:"auto_flush_level" toml:"auto_flush_level"`
	StackTraceLevel  string `yaml:"stack_trace_level" toml:"stack_trace_level"`
	EnableStackTrace bool   `yaml:"enable_stack_trace" toml:"enable_stack_trace"`

	Path       string `yaml:"path" toml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// LogConfigure is the log section of the configuration.
type LogConfigure struct {
	Level string             `yaml:"level" toml:"level"`
	Sinks []LogSinkConfigure `yaml:"sinks" toml:"sinks"`
}

// SetDefaultLogConfigure logs info and above to stderr.
func SetDefaultLogConfigure(conf *LogConfigure) {
	conf.Level = "info"
	conf.Sinks = []LogSinkConfigure{{Type: "stderr"}}
}

// NewLoggerFromConfigure builds a logger and returns the function closing its writers.
func NewLoggerFromConfigure(conf *LogConfigure) (*slog.Logger, func(), error) {
	if conf == nil || len(conf.Sinks) == 0 {
		def := &LogConfigure{}
		SetDefaultLogConfigure(def)
		if conf != nil && conf.Level != "" {
			def.Level = conf.Level
		}
		conf = def
	}

	baseLevel := ConvertLogLevel(conf.Level)
	writers := make([]LogHandlerWriter, 0, len(conf.Sinks))
	closeAll := func() {
		for _, w := range writers {
			w.Out.Close()
		}
	}

	for i := range conf.Sinks {
		sink := &conf.Sinks[i]

		var out LogWriter
		switch strings.ToLower(sink.Type) {
		case "", "stderr":
			out = NewLogStderrWriter()
		case "stdout":
			out = NewLogStdoutWriter()
		case "file":
			rotating, err := NewLogRotatingWriter(sink.Path, sink.MaxSizeMB, sink.MaxBackups, sink.MaxAgeDays, sink.Compress)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("log sink %d: %w", i, err)
			}
			out = rotating
		default:
			closeAll()
			return nil, nil, fmt.Errorf("log sink %d: unknown type %q", i, sink.Type)
		}

		minLevel := baseLevel
		if sink.MinLevel != "" {
			minLevel = ConvertLogLevel(sink.MinLevel)
		}
		maxLevel := slog.LevelError
		if sink.MaxLevel != "" {
			maxLevel = ConvertLogLevel(sink.MaxLevel)
		}
		autoFlush := slog.LevelWarn
		if sink.AutoFlushLevel != "" {
			autoFlush = ConvertLogLevel(sink.AutoFlushLevel)
		}
		stackTrace := slog.LevelError
		if sink.StackTraceLevel != "" {
			stackTrace = ConvertLogLevel(sink.StackTraceLevel)
		}

		writers = append(writers, LogHandlerWriter{
			Out:              out,
			MinLevel:         minLevel,
			MaxLevel:         maxLevel,
			EnableStackTrace: sink.EnableStackTrace,
			StackTraceLevel:  stackTrace,
			AutoFlushLevel:   autoFlush,
			Format:           sink.Format,
		})
	}

	return NewLogger(writers...), closeAll, nil
}
