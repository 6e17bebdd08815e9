package libsimconnect_log

import (
	"io"
	"log/slog"
	"strconv"
	"time"
)

const defaultLogFormat = "[%L][%F %T](%k:%n): "

// LogFormatBufferWriter is the sink LogFormat writes into.
type LogFormatBufferWriter interface {
	io.Writer
	io.StringWriter
	io.ByteWriter
}

// CallerInfo is what a log prefix can refer to.
type CallerInfo struct {
	Now      time.Time
	LogLevel slog.Level
	Site     *callsite
}

// LogFormat expands a prefix format into sb.
//
//	%Y %m %d %H %M %S  date and time fields
//	%F %T              %Y-%m-%d and %H:%M:%S
//	%P                 %F %T.milliseconds
//	%f                 microseconds, five digits
//	%L %l              level name and level number
//	%k %n %C           file name, line and function of the call site
//	%%                 a literal %
func LogFormat(format string, sb LogFormatBufferWriter, caller CallerInfo) {
	if format == "" {
		return
	}

	now := caller.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(time.Local)

	escaped := false
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if !escaped {
			if ch == '%' {
				escaped = true
			} else {
				sb.WriteByte(ch)
			}
			continue
		}

		escaped = false
		switch ch {
		case 'Y':
			appendPadded(sb, now.Year(), 4)
		case 'm':
			appendPadded(sb, int(now.Month()), 2)
		case 'd':
			appendPadded(sb, now.Day(), 2)
		case 'H':
			appendPadded(sb, now.Hour(), 2)
		case 'M':
			appendPadded(sb, now.Minute(), 2)
		case 'S':
			appendPadded(sb, now.Second(), 2)
		case 'F':
			appendClock(sb, '-', now.Year(), 4, int(now.Month()), now.Day())
		case 'T':
			appendClock(sb, ':', now.Hour(), 2, now.Minute(), now.Second())
		case 'P':
			appendClock(sb, '-', now.Year(), 4, int(now.Month()), now.Day())
			sb.WriteByte(' ')
			appendClock(sb, ':', now.Hour(), 2, now.Minute(), now.Second())
			sb.WriteByte('.')
			appendPadded(sb, now.Nanosecond()/int(time.Millisecond), 3)
		case 'f':
			appendPadded(sb, now.Nanosecond()/10_000, 5)
		case 'L':
			sb.WriteString(LevelNameResolver(caller.LogLevel))
		case 'l':
			sb.WriteString(strconv.Itoa(int(caller.LogLevel)))
		case 'k':
			sb.WriteString(caller.Site.fileOr("unknown_file"))
		case 'n':
			line := 0
			if caller.Site != nil {
				line = caller.Site.line
			}
			sb.WriteString(strconv.Itoa(line))
		case 'C':
			sb.WriteString(caller.Site.functionOr("unknown_function"))
		default:
			// covers %% as well
			sb.WriteByte(ch)
		}
	}
}

// LevelNameResolver returns the five column level name.
func LevelNameResolver(level slog.Level) string {
	if level >= slog.LevelError {
		return "ERROR"
	}
	if level >= slog.LevelWarn {
		return " WARN"
	}
	if level >= slog.LevelInfo {
		return " INFO"
	}
	return "DEBUG"
}

// appendPadded writes value in decimal, left padded with zeros to width digits.
func appendPadded(sb LogFormatBufferWriter, value int, width int) {
	var digits [8]byte
	if width > len(digits) {
		width = len(digits)
	}
	for i := width - 1; i >= 0; i-- {
		digits[i] = byte('0' + value%10)
		value /= 10
	}
	sb.Write(digits[:width])
}

// appendClock writes first, second and third joined by sep, second and third always two digits.
func appendClock(sb LogFormatBufferWriter, sep byte, first int, firstWidth int, second int, third int) {
	appendPadded(sb, first, firstWidth)
	sb.WriteByte(sep)
	appendPadded(sb, second, 2)
	sb.WriteByte(sep)
	appendPadded(sb, third, 2)
}
