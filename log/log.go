// Package libsimconnect_log provides the slog handler and writers used by libsimconnect.
package libsimconnect_log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	logBufferInitSize = 1024
	logBufferKeepSize = 16 << 10
)

type logBuffer []byte

var logBufferPool = sync.Pool{
	New: func() any {
		b := make(logBuffer, 0, logBufferInitSize)
		return &b
	},
}

func newLogBuffer() *logBuffer {
	return logBufferPool.Get().(*logBuffer)
}

// Free recycles the buffer, grown ones are left to the gc.
func (b *logBuffer) Free() {
	if cap(*b) > logBufferKeepSize {
		return
	}
	*b = (*b)[:0]
	logBufferPool.Put(b)
}

func (b *logBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func (b *logBuffer) WriteString(s string) (int, error) {
	*b = append(*b, s...)
	return len(s), nil
}

func (b *logBuffer) WriteByte(c byte) error {
	*b = append(*b, c)
	return nil
}

func (b *logBuffer) String() string { return string(*b) }

// LogWriter is an output of the handler.
type LogWriter interface {
	io.Writer
	// Close is called when the logger is replaced
	Close()
	// Flush is required by buffered writers
	Flush() error
}

// LogHandlerWriter binds a writer to a level window.
type LogHandlerWriter struct {
	Out LogWriter

	MinLevel slog.Level
	MaxLevel slog.Level

	EnableStackTrace bool
	StackTraceLevel  slog.Level

	AutoFlushLevel slog.Level

	// Format is an optional prefix format, see LogFormat. Empty uses "[%L][%F %T](%k:%n): "
	Format string
}

// Enabled reports whether level falls into the writer's window.
func (w *LogHandlerWriter) Enabled(level slog.Level) bool {
	return w.MinLevel <= level && level <= w.MaxLevel
}

// callsite is a resolved log pc. stack is filled lazily the first time a writer wants it.
type callsite struct {
	function string
	file     string
	line     int

	stackOnce sync.Once
	stack     string
}

func (s *callsite) fileOr(fallback string) string {
	if s == nil || s.file == "" {
		return fallback
	}
	return s.file
}

func (s *callsite) functionOr(fallback string) string {
	if s == nil || s.function == "" {
		return fallback
	}
	return s.function
}

// stackTrace renders the goroutine stack above the slog frames, the two runtime
// frames at the bottom are left out.
func (s *callsite) stackTrace() string {
	s.stackOnce.Do(func() {
		pcs := make([]uintptr, 32)
		frames := runtime.CallersFrames(pcs[:runtime.Callers(7, pcs)])

		var lines []string
		for {
			f, more := frames.Next()
			lines = append(lines, fmt.Sprintf("  at %s (%s:%d)\n", f.Function, filepath.Base(f.File), f.Line))
			if !more {
				break
			}
		}
		if len(lines) > 2 {
			lines = lines[:len(lines)-2]
		}
		s.stack = strings.Join(lines, "")
	})
	return s.stack
}

type logHandlerImpl struct {
	writers []LogHandlerWriter
	attrs   []slog.Attr
	group   string

	mu    *sync.Mutex
	sites *sync.Map // pc -> *callsite
}

// NewLogHandler creates a handler writing to every writer whose level window matches.
func NewLogHandler(writers ...LogHandlerWriter) slog.Handler {
	return &logHandlerImpl{
		writers: writers,
		mu:      &sync.Mutex{},
		sites:   &sync.Map{},
	}
}

// NewLogger creates a slog.Logger over NewLogHandler.
func NewLogger(writers ...LogHandlerWriter) *slog.Logger {
	return slog.New(NewLogHandler(writers...))
}

func (h *logHandlerImpl) lookupSite(pc uintptr) *callsite {
	if pc == 0 {
		return nil
	}
	if cached, ok := h.sites.Load(pc); ok {
		return cached.(*callsite)
	}

	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	site, _ := h.sites.LoadOrStore(pc, &callsite{
		function: frame.Function,
		file:     filepath.Base(frame.File),
		line:     frame.Line,
	})
	return site.(*callsite)
}

func (h *logHandlerImpl) Enabled(_ context.Context, level slog.Level) bool {
	for i := range h.writers {
		if h.writers[i].Enabled(level) {
			return true
		}
	}
	return false
}

func (h *logHandlerImpl) appendAttr(body *logBuffer, a slog.Attr) {
	body.WriteByte(' ')
	if h.group != "" {
		body.WriteString(h.group)
		body.WriteByte('.')
	}
	fmt.Fprintf(body, "%s=%v", a.Key, a.Value)
}

func (h *logHandlerImpl) Handle(_ context.Context, r slog.Record) error {
	site := h.lookupSite(r.PC)
	caller := CallerInfo{Now: r.Time, LogLevel: r.Level, Site: site}

	body := newLogBuffer()
	defer body.Free()
	body.WriteString(r.Message)
	for _, a := range h.attrs {
		h.appendAttr(body, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(body, a)
		return true
	})
	body.WriteByte('\n')

	line := newLogBuffer()
	defer line.Free()

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.writers {
		w := &h.writers[i]
		if !w.Enabled(r.Level) {
			continue
		}

		*line = (*line)[:0]
		format := w.Format
		if format == "" {
			format = defaultLogFormat
		}
		LogFormat(format, line, caller)
		line.Write(*body)
		if site != nil && w.EnableStackTrace && r.Level >= w.StackTraceLevel {
			line.WriteString("Stacktrace:\n")
			line.WriteString(site.stackTrace())
		}

		w.Out.Write(*line)
		if r.Level >= w.AutoFlushLevel {
			w.Out.Flush()
		}
	}
	return nil
}

func (h *logHandlerImpl) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *logHandlerImpl) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = strings.TrimPrefix(h.group+"."+name, ".")
	return &next
}

// LevelDisabled is above every level a logger emits.
const LevelDisabled = slog.Level(1 << 10)

// ConvertLogLevel parses a level name, unknown names are info.
func ConvertLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	case "disable", "disabled", "none":
		return LevelDisabled
	default:
		return slog.LevelInfo
	}
}

// LogInner writes a record with an explicit time and caller pc, for helpers that log on
// behalf of their caller.
func LogInner(logger *slog.Logger, now time.Time, pc uintptr, ctx context.Context, level slog.Level, msg string, args ...any) {
	if logger == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !logger.Enabled(ctx, level) {
		return
	}

	r := slog.NewRecord(now, level, msg, pc)
	r.Add(args...)
	_ = logger.Handler().Handle(ctx, r)
}

// GetCaller returns the pc of the function skip frames above the caller of GetCaller.
func GetCaller(skip int) uintptr {
	var pcs [1]uintptr
	// runtime.Callers, GetCaller, then the caller
	runtime.Callers(skip+2, pcs[:])
	return pcs[0]
}
