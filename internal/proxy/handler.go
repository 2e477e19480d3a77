// Package proxy serves inbound proxy requests: replay from the interaction
// store on a hit, forward and record on a miss.
package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NikZak/pact-proxy/internal/api/middleware"
	"github.com/NikZak/pact-proxy/internal/domain"
	"github.com/NikZak/pact-proxy/internal/forward"
	"github.com/NikZak/pact-proxy/internal/journal"
	"github.com/NikZak/pact-proxy/internal/pact"
	"github.com/NikZak/pact-proxy/internal/telemetry"
	"github.com/NikZak/pact-proxy/internal/translate"
)

// Store is the interaction cache the handler reads and records into.
type Store interface {
	Lookup(ctx context.Context, key domain.InteractionKey, descriptor string) (*pact.Response, bool)
	Insert(ctx context.Context, key domain.InteractionKey, req *pact.Request, resp *pact.Response) error
	Persist(ctx context.Context, key domain.InteractionKey) error
	Count(key domain.InteractionKey) int
}

// Forwarder performs the real call on a cache miss.
type Forwarder interface {
	Forward(ctx context.Context, req *pact.Request) (*forward.Result, error)
}

// Handler is the per-request proxy pipeline.
type Handler struct {
	store     Store
	forwarder Forwarder
	consumer  string
	metrics   *telemetry.Metrics
	journal   journal.Journal
	tracer    trace.Tracer
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithConsumer sets the consumer name recorded interactions are keyed under.
func WithConsumer(name string) Option {
	return func(h *Handler) {
		if name != "" {
			h.consumer = name
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithJournal sets the exchange journal.
func WithJournal(j journal.Journal) Option {
	return func(h *Handler) {
		if j != nil {
			h.journal = j
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler creates a handler over store and forwarder.
func NewHandler(store Store, forwarder Forwarder, opts ...Option) *Handler {
	h := &Handler{
		store:     store,
		forwarder: forwarder,
		consumer:  domain.DefaultConsumer,
		journal:   journal.Nop{},
		tracer:    telemetry.Tracer(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP runs translate, lookup and, on a miss, forward, insert and
// persist. Any error aborts this request only, with the status of its kind.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "proxy.request")
	defer span.End()

	entry := &journal.Entry{Consumer: h.consumer}
	resp, err := h.serve(ctx, r, entry)
	entry.Duration = time.Since(start)

	if err != nil {
		status := domain.StatusCode(err)
		entry.Outcome = journal.OutcomeError
		entry.Status = status
		entry.Error = err.Error()

		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		middleware.AddError(ctx, err)
		http.Error(w, err.Error(), status)
	} else {
		entry.Status = resp.Status
		if werr := WriteResponse(w, resp); werr != nil {
			h.logger.DebugContext(ctx, "write response failed", slog.String("error", werr.Error()))
		}
	}

	span.SetAttributes(
		attribute.String("proxy.outcome", string(entry.Outcome)),
		attribute.Int("http.response.status_code", entry.Status),
	)
	h.metrics.ObserveRequest(string(entry.Outcome), entry.Duration)

	if jerr := h.journal.Record(context.WithoutCancel(ctx), entry); jerr != nil {
		h.logger.WarnContext(ctx, "journal record failed", slog.String("error", jerr.Error()))
	}
}

func (h *Handler) serve(ctx context.Context, r *http.Request, entry *journal.Entry) (*pact.Response, error) {
	req, err := translate.Request(r)
	if err != nil {
		return nil, err
	}

	key, err := translate.Key(h.consumer, req)
	if err != nil {
		return nil, err
	}
	descriptor := translate.Descriptor(req)

	entry.Provider = key.Provider
	entry.Descriptor = descriptor
	middleware.AddLogField(ctx, "provider", key.Provider)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("pact.provider", key.Provider),
		attribute.String("pact.descriptor", descriptor),
	)

	if resp, ok := h.store.Lookup(ctx, key, descriptor); ok {
		h.metrics.RecordLookup(key.Provider, true)
		entry.Outcome = journal.OutcomeHit
		middleware.AddLogField(ctx, "cache", "hit")
		return resp, nil
	}
	h.metrics.RecordLookup(key.Provider, false)
	entry.Outcome = journal.OutcomeMiss
	middleware.AddLogField(ctx, "cache", "miss")

	resp, attempts, err := h.forward(ctx, req)
	entry.Attempts = attempts
	if err != nil {
		return nil, err
	}

	if err := h.store.Insert(ctx, key, req, resp); err != nil {
		return nil, err
	}
	h.metrics.SetInteractions(key.Consumer, key.Provider, h.store.Count(key))

	if err := h.persist(ctx, key); err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "interaction recorded",
		slog.String("key", key.String()),
		slog.String("descriptor", descriptor),
		slog.Int("status", resp.Status))
	return resp, nil
}

func (h *Handler) forward(ctx context.Context, req *pact.Request) (*pact.Response, int, error) {
	ctx, span := h.tracer.Start(ctx, "proxy.forward")
	defer span.End()

	res, err := h.forwarder.Forward(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "forward failed")
		return nil, 0, err
	}
	span.SetAttributes(attribute.Int("proxy.forward.attempts", res.Attempts))
	middleware.AddLogField(ctx, "attempts", strconv.Itoa(res.Attempts))
	return res.Response, res.Attempts, nil
}

func (h *Handler) persist(ctx context.Context, key domain.InteractionKey) error {
	ctx, span := h.tracer.Start(ctx, "proxy.persist")
	defer span.End()

	if err := h.store.Persist(ctx, key); err != nil {
		h.metrics.RecordPersistFailure(key.Provider)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		h.logger.ErrorContext(ctx, "persist failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}
