package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mdobak/go-xerrors"
)

// SecurityEvent names a rejected or suspicious inbound request.
type SecurityEvent string

const (
	SecurityEventBadWebhookToken SecurityEvent = "bad_webhook_token"
	SecurityEventRateLimited     SecurityEvent = "rate_limited"
	SecurityEventNonAdminAccess  SecurityEvent = "non_admin_access"
	SecurityEventSuspiciousAgent SecurityEvent = "suspicious_agent"
)

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// Initialize installs a JSON slog handler on stdout as the default logger.
func Initialize(level string) {
	slog.SetDefault(New(os.Stdout, level))
}

func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       decodeLogLevel(level),
		ReplaceAttr: replaceAttr,
	})
	return slog.New(handler)
}

func decodeLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindAny {
		if err, ok := a.Value.Any().(error); ok {
			a.Value = fmtErr(err)
		}
	}
	return a
}

func marshalStack(err error) []stackFrame {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}

	frames := trace.Frames()
	s := make([]stackFrame, len(frames))
	for i, v := range frames {
		s[i] = stackFrame{
			Source: filepath.Join(filepath.Base(filepath.Dir(v.File)), filepath.Base(v.File)),
			Func:   filepath.Base(v.Function),
			Line:   v.Line,
		}
	}
	return s
}

// fmtErr renders an error as {msg, trace}.
func fmtErr(err error) slog.Value {
	attrs := []slog.Attr{slog.String("msg", err.Error())}
	if frames := marshalStack(err); frames != nil {
		attrs = append(attrs, slog.Any("trace", frames))
	}
	return slog.GroupValue(attrs...)
}

// WrapError annotates err with msg and captures the caller's stack. The
// result still matches the original error through errors.Is.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, xerrors.WithStackTrace(err, 1))
}

// Event logs a named observability event with the given attributes.
func Event(ctx context.Context, level slog.Level, event string, args ...any) {
	slog.Log(ctx, level, event, append([]any{slog.String("event", event)}, args...)...)
}

func LogSecurityEvent(ctx context.Context, event SecurityEvent, msg string, args ...any) {
	slog.WarnContext(ctx, msg, append([]any{slog.String("security_event", string(event))}, args...)...)
}
