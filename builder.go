package goAuthClient

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goAuthClient/internal/audit"
	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/refresh"
	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/storage"
	"github.com/MrEthical07/goAuthClient/transport"
)

// Builder assembles an Engine. Configure it once, call Build, and discard it; a
// builder cannot build twice.
type Builder struct {
	config    Config
	transport transport.Transport
	storage   session.Storage
	logger    *zap.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTransport sets the transport every network call goes through. Required.
func (b *Builder) WithTransport(t transport.Transport) *Builder {
	b.transport = t
	return b
}

// WithStorage sets where session state persists. Defaults to an in-memory store that
// does not survive the process.
func (b *Builder) WithStorage(s session.Storage) *Builder {
	b.storage = s
	return b
}

// WithLogger sets the logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit sink. It only receives events when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the time source used for LastAuthActivity and token expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, loads persisted session state and returns the
// engine. A corrupt or unreadable persisted state never fails Build: the engine starts
// empty and the problem is logged and counted.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.transport == nil {
		return nil, ErrTransportRequired
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("goauthclient").With(zap.String("app_id", cfg.App.ID))

	now := b.now
	if now == nil {
		now = time.Now
	}

	store := b.storage
	if store == nil {
		store = storage.NewMemory()
	}

	metrics := NewMetrics(cfg.Metrics)

	engine := &Engine{
		config:    cloneConfig(cfg),
		transport: b.transport,
		routes:    flows.Routes{BasePath: cfg.Routes.BasePath, AppID: cfg.App.ID},
		logger:    logger,
		metrics:   metrics,
		now:       now,
	}
	engine.notifier = &notifier{engine: engine}

	engine.store = session.NewStore(store, cfg.namespace(), session.WithLoadErrorHandler(func(err error) {
		metrics.Inc(MetricLoadFailure)
		logger.Warn("skipped persisted session state", zap.Error(err))
	}))

	engine.refresher = refresh.New(refresh.Policy{
		Lookahead: cfg.Refresh.Lookahead,
		Interval:  cfg.Refresh.BackgroundInterval,
		Now:       now,
	})

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:      cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		DrainTimeout: cfg.Audit.DrainTimeout,
		OnSinkPanic: func(recovered any) {
			logger.Warn("audit sink panicked", zap.Any("panic", recovered))
		},
	}, b.auditSink)

	if cfg.Refresh.BackgroundInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		engine.stopRefresh = cancel
		engine.refreshGroup.Add(1)
		go engine.runBackgroundRefresh(ctx)
	}

	b.built = true

	return engine, nil
}
