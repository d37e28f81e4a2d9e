package audit

import (
	"context"
	"io"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event is one audit record. Failed events carry an error label in Error, never the
// error text or token material.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	AppID     string            `json:"app_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler with the same field names as
// the JSON tags. Empty optional fields are omitted.
func (e Event) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("timestamp", e.Timestamp)
	enc.AddString("event_type", e.EventType)
	addNonEmpty(enc, "request_id", e.RequestID)
	addNonEmpty(enc, "app_id", e.AppID)
	addNonEmpty(enc, "user_id", e.UserID)
	addNonEmpty(enc, "provider", e.Provider)
	enc.AddBool("success", e.Success)
	addNonEmpty(enc, "error", e.Error)
	if len(e.Metadata) > 0 {
		return enc.AddObject("metadata", zapcore.ObjectMarshalerFunc(func(m zapcore.ObjectEncoder) error {
			keys := make([]string, 0, len(e.Metadata))
			for k := range e.Metadata {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				m.AddString(k, e.Metadata[k])
			}
			return nil
		}))
	}
	return nil
}

func addNonEmpty(enc zapcore.ObjectEncoder, key, value string) {
	if value != "" {
		enc.AddString(key, value)
	}
}

// Sink receives audit events on the dispatcher goroutine.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a buffered channel. Emit blocks while the channel is full.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line, encoded with zap's JSON encoder.
type JSONWriterSink struct {
	mu  sync.Mutex
	w   io.Writer
	enc zapcore.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		w: w,
		enc: zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			LineEnding: zapcore.DefaultLineEnding,
			EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		}),
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.w == nil {
		return
	}
	buf, err := s.enc.EncodeEntry(zapcore.Entry{}, []zapcore.Field{zap.Inline(event)})
	if err != nil {
		return
	}
	defer buf.Free()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(buf.Bytes())
}

// ZapSink logs each event at info level under the message "audit".
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Emit(_ context.Context, event Event) {
	s.logger.Info("audit", zap.Inline(event))
}
