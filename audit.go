package goAuthClient

import (
	"io"

	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/internal/audit"
)

// AuditEvent is one audit record. Failed events carry an error label, never the raw
// error text or any token.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink forwards audit events to a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// ZapSink logs each audit event at info level under the message "audit".
type ZapSink = audit.ZapSink

func NewZapSink(logger *zap.Logger) *ZapSink {
	return audit.NewZapSink(logger)
}
