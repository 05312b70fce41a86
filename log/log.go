package log

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/logging"
)

const (
	ErrorMsgLogField = "errorMsg"
	traceLogField    = "logging.googleapis.com/trace"
)

type ctxKey struct{}

type traceKey struct{}

var defaultLogger atomic.Pointer[slog.Logger]

// CloudLoggingHandler is a slog.Handler implementation for Google Cloud Functions.
// It writes one JSON object per record in Google Cloud structured format.
type CloudLoggingHandler struct {
	attrs []slog.Attr
	level slog.Leveler
	mu    *sync.Mutex
	w     io.Writer
}

// NewCloudLoggingHandler creates a new handler that writes logs in Google Cloud structured format.
func NewCloudLoggingHandler(w io.Writer, level slog.Leveler) *CloudLoggingHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &CloudLoggingHandler{w: w, level: level, mu: &sync.Mutex{}}
}

// Handle processes log records.
func (h *CloudLoggingHandler) Handle(ctx context.Context, r slog.Record) error {
	jsonData, err := json.Marshal(entry(ctx, r, h.attrs))
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.Write(append(jsonData, '\n')); err != nil {
		return err
	}
	return nil
}

func (h *CloudLoggingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// WithAttrs returns a new handler with additional attributes.
func (h *CloudLoggingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CloudLoggingHandler{attrs: appendAttrs(h.attrs, attrs), level: h.level, mu: h.mu, w: h.w}
}

// WithGroup returns the same handler, as grouping is not implemented.
func (h *CloudLoggingHandler) WithGroup(_ string) slog.Handler {
	return h
}

// CloudClientHandler ships records through the Cloud Logging API instead
// of stdout.
type CloudClientHandler struct {
	attrs  []slog.Attr
	level  slog.Leveler
	logger *logging.Logger
}

func NewCloudClientHandler(logger *logging.Logger, level slog.Leveler) *CloudClientHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &CloudClientHandler{logger: logger, level: level}
}

func (h *CloudClientHandler) Handle(ctx context.Context, r slog.Record) error {
	payload := entry(ctx, r, h.attrs)
	e := logging.Entry{
		Timestamp: r.Time,
		Severity:  logging.ParseSeverity(severity(r.Level)),
		Payload:   payload,
	}
	if traceID := getTraceID(ctx); traceID != "" {
		e.Trace = traceID
	}
	h.logger.Log(e)
	return nil
}

func (h *CloudClientHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CloudClientHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CloudClientHandler{attrs: appendAttrs(h.attrs, attrs), level: h.level, logger: h.logger}
}

func (h *CloudClientHandler) WithGroup(_ string) slog.Handler {
	return h
}

func entry(ctx context.Context, r slog.Record, attrs []slog.Attr) map[string]any {
	e := map[string]any{
		"severity": severity(r.Level),
		"time":     r.Time.Format("2006-01-02T15:04:05.000Z07:00"),
		"message":  r.Message,
	}
	if traceID := getTraceID(ctx); traceID != "" {
		e[traceLogField] = traceID
	}
	for _, attr := range attrs {
		e[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(attr slog.Attr) bool {
		e[attr.Key] = attr.Value.Resolve().Any()
		return true
	})
	return e
}

func appendAttrs(base, extra []slog.Attr) []slog.Attr {
	newAttrs := make([]slog.Attr, len(base)+len(extra))
	copy(newAttrs, base)
	copy(newAttrs[len(base):], extra)
	return newAttrs
}

func severity(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}

// ParseLevel accepts slog and Cloud Logging spellings, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithTraceID attaches the Cloud Trace resource name read from the
// X-Cloud-Trace-Context header.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func getTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceKey{}).(string)
	return traceID
}

func SetDefault(logger *slog.Logger) {
	defaultLogger.Store(logger)
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	if logger := defaultLogger.Load(); logger != nil {
		return logger
	}
	return slog.New(NewCloudLoggingHandler(os.Stdout, slog.LevelInfo))
}
