package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"afiliados.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes audit events through an injected logger.
type Logger struct {
	log logrus.FieldLogger
}

// New returns an audit Logger writing to log.
func New(log logrus.FieldLogger) *Logger {
	return &Logger{log: log}
}

var _ auth.Auditor = (*Logger)(nil)

// LogEvent writes an audit entry enriched with request and actor context.
func (l *Logger) LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := logrus.Fields{
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if actor, ok := auth.AccountIDFromContext(ctx); ok {
		entry["actor_id"] = actor
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	l.log.WithFields(entry).Info("audit")
	return nil
}

// Record implements auth.Auditor.
func (l *Logger) Record(ctx context.Context, event string, fields map[string]any) {
	if err := l.LogEvent(ctx, event, fields); err != nil {
		l.log.WithError(err).Warn("audit event dropped")
	}
}
