// Package logging builds the gateway's root slog logger: JSON lines with
// recursive secret redaction by attribute-key pattern.
//
// Every subsystem receives a child of the root logger via logger.With(...),
// so redaction applies uniformly no matter which layer emitted the record.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Mask is the literal that replaces any redacted attribute value. It matches
// config.SecretMask so log output and settings responses are
// indistinguishable on the secret axis.
const Mask = "********"

// secretKeys are the attribute-key fragments that force redaction. Matching
// is case-insensitive and ignores '_' and '-', so "api_key", "apiKey" and
// "API-KEY" all redact.
var secretKeys = []string{"token", "apikey", "authheader", "authorization", "secret", "password"}

// New constructs the root logger writing JSON lines to w at the given level.
func New(level slog.Level, w io.Writer) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(&redactHandler{inner: h})
}

// ParseLevel maps a config string to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// secretKey reports whether an attribute named key must be redacted.
func secretKey(key string) bool {
	k := strings.ToLower(key)
	k = strings.ReplaceAll(k, "_", "")
	k = strings.ReplaceAll(k, "-", "")
	for _, s := range secretKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// redactAttr returns a copy of a with secret values masked. Group values are
// walked recursively so nested config dumps stay safe.
func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		masked := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			masked[i] = redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(masked...)}
	}
	if secretKey(a.Key) {
		return slog.String(a.Key, Mask)
	}
	return a
}

// redactHandler wraps another slog.Handler and masks secret-keyed attributes
// before they reach the sink.
type redactHandler struct {
	inner slog.Handler
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = redactAttr(a)
	}
	return &redactHandler{inner: h.inner.WithAttrs(masked)}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{inner: h.inner.WithGroup(name)}
}
