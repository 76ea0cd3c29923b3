package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Sink posts diagnostic lines to an HTTP side-channel. Delivery is
// fire-and-forget: failures are swallowed so the sink can never break the
// client.
type Sink struct {
	url    string
	client *http.Client
}

// NewSink builds a sink for the given URL. An empty URL yields a nil sink,
// which is safe to call.
func NewSink(url string) *Sink {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	return &Sink{
		url:    url,
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

// Post sends one {"msg": line} body without waiting for the result.
func (s *Sink) Post(line string) {
	if s == nil {
		return
	}
	body, err := json.Marshal(map[string]string{"msg": line})
	if err != nil {
		return
	}
	go func() {
		resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
		if err != nil {
			return
		}
		_ = resp.Body.Close()
	}()
}

// SinkHandler mirrors records to a remote sink after delegating to the
// wrapped handler.
type SinkHandler struct {
	inner slog.Handler
	sink  *Sink
}

// NewSinkHandler wraps inner so every record is also posted to sink.
func NewSinkHandler(inner slog.Handler, sink *Sink) *SinkHandler {
	return &SinkHandler{inner: inner, sink: sink}
}

func (h *SinkHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SinkHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.inner.Handle(ctx, record)

	var b strings.Builder
	b.WriteString(record.Time.UTC().Format(time.RFC3339))
	b.WriteString(" [visage] ")
	b.WriteString(record.Message)
	record.Attrs(func(attr slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value.Any())
		return true
	})
	h.sink.Post(b.String())

	return err
}

func (h *SinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SinkHandler{inner: h.inner.WithAttrs(attrs), sink: h.sink}
}

func (h *SinkHandler) WithGroup(name string) slog.Handler {
	return &SinkHandler{inner: h.inner.WithGroup(name), sink: h.sink}
}
