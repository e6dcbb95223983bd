package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"recap-gateway/internal/models"
	"recap-gateway/internal/provider"
	"recap-gateway/internal/provider/openai"
	"recap-gateway/internal/reasoning"
	"recap-gateway/internal/tokens"
)

const tracerName = "recap-gateway/router"

// Transport sends one normalized request to one vendor.
type Transport interface {
	Complete(ctx context.Context, v provider.Vendor, payload openai.Payload) (*openai.Completion, error)
	OpenStream(ctx context.Context, v provider.Vendor, payload openai.Payload) (*openai.Stream, error)
}

// Router tries vendors one at a time, in order, until one succeeds. It holds no
// per-request state and is safe for concurrent use.
type Router struct {
	registry    *provider.Registry
	transport   Transport
	estimator   tokens.Estimator
	temperature float64
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// Option customises a Router.
type Option func(*Router)

// WithLogger sets the logger; the default is slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEstimator sets the estimator used when a vendor omits usage.
func WithEstimator(est tokens.Estimator) Option {
	return func(r *Router) {
		if est != nil {
			r.estimator = est
		}
	}
}

// WithTemperature sets the sampling temperature used when a request names none.
func WithTemperature(temperature float64) Option {
	return func(r *Router) {
		r.temperature = temperature
	}
}

// New constructs a router backed by the registry and transport.
func New(registry *provider.Registry, transport Transport, opts ...Option) *Router {
	r := &Router{
		registry:    registry,
		transport:   transport,
		estimator:   tokens.CharEstimator{},
		temperature: models.DefaultTemperature,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r
}

// Registry exposes the vendor registry the router resolves against.
func (r *Router) Registry() *provider.Registry {
	return r.registry
}

// Chat performs a batch call with failover. On exhaustion the error is an
// *ExhaustedError; an unknown explicit provider yields provider.ErrUnknownProvider.
func (r *Router) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResult, error) {
	req.Stream = false

	var result *models.ChatResult
	attempts, err := r.failover(ctx, req, func(ctx context.Context, v provider.Vendor) error {
		res, err := r.attemptBatch(ctx, v, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Attempts = attempts
	return result, nil
}

// attemptFunc runs one candidate. A returned error means "try the next one" unless it
// is a *haltError.
type attemptFunc func(ctx context.Context, v provider.Vendor) error

// haltError stops the failover loop and surfaces err as-is.
type haltError struct {
	err error
}

func (e *haltError) Error() string { return e.err.Error() }

func (e *haltError) Unwrap() error { return e.err }

func (r *Router) failover(ctx context.Context, req models.ChatRequest, attempt attemptFunc) ([]models.Attempt, error) {
	candidates, err := r.registry.Candidates(req.Provider, req.AfterProvider)
	if err != nil {
		return nil, err
	}

	attempts := make([]models.Attempt, 0, len(candidates))
	var last error

	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		v, usable, err := r.registry.Resolve(id)
		if err != nil || !usable {
			r.logger.Debug("skipping provider", "provider", id, "reason", "unusable")
			attempts = append(attempts, models.Attempt{Provider: id, Outcome: models.AttemptSkipped})
			continue
		}
		if req.Options.Timeout > 0 {
			v.Timeout = req.Options.Timeout
		}

		start := r.now()
		err = r.traced(ctx, v, req.Stream, attempt)
		elapsed := r.now().Sub(start)

		if err == nil {
			attempts = append(attempts, models.Attempt{Provider: id, Outcome: models.AttemptSucceeded, Elapsed: elapsed})
			r.logger.Info("provider served request", "provider", id, "model", v.Model, "stream", req.Stream, "elapsed_ms", elapsed.Milliseconds())
			return attempts, nil
		}

		var halt *haltError
		if errors.As(err, &halt) {
			return attempts, halt.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempts, ctxErr
		}

		failed := models.Attempt{
			Provider: id,
			Outcome:  models.AttemptFailed,
			Kind:     string(provider.KindOf(err)),
			Error:    err.Error(),
			Elapsed:  elapsed,
		}
		var vendorErr *provider.VendorError
		if errors.As(err, &vendorErr) {
			failed.Status = vendorErr.StatusCode
		}
		attempts = append(attempts, failed)
		last = err

		r.logger.Warn("provider attempt failed",
			"provider", id,
			"kind", failed.Kind,
			"status", failed.Status,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		)
	}

	if last == nil {
		last = ErrNoUsableProvider
	}
	return attempts, &ExhaustedError{Attempts: attempts, Last: last}
}

func (r *Router) traced(ctx context.Context, v provider.Vendor, stream bool, attempt attemptFunc) error {
	ctx, span := r.tracer.Start(ctx, "gateway.attempt", trace.WithAttributes(
		attribute.String("llm.provider", v.ID),
		attribute.String("llm.model", v.Model),
		attribute.Bool("llm.stream", stream),
	))
	defer span.End()

	err := attempt(ctx, v)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind := provider.KindOf(err); kind != "" {
			span.SetAttributes(attribute.String("llm.failure_kind", string(kind)))
		}
	}
	return err
}

func (r *Router) attemptBatch(ctx context.Context, v provider.Vendor, req models.ChatRequest) (*models.ChatResult, error) {
	payload, err := openai.BuildPayload(v, req, r.temperature)
	if err != nil {
		return nil, &haltError{err: err}
	}

	start := r.now()
	completion, err := r.transport.Complete(ctx, v, payload)
	if err != nil {
		return nil, err
	}
	elapsed := r.now().Sub(start)

	return r.assemble(v, completion.Content, completion.Reasoning, completion.Model, completion.Usage, elapsed, elapsed, completion.Raw), nil
}

func (r *Router) assemble(v provider.Vendor, content, separate, model string, reported *models.Usage, ttft, elapsed time.Duration, raw []byte) *models.ChatResult {
	split := reasoning.Extract(content, separate)
	usage := tokens.Resolve(reported, split.Answer, split.Reasoning, r.estimator)
	if model == "" {
		model = v.Model
	}

	return &models.ChatResult{
		Content:         split.Answer,
		Reasoning:       split.Reasoning,
		ReasoningFormat: split.Format,
		Model:           model,
		Usage:           usage,
		Metrics:         tokens.Metrics(ttft, elapsed, usage.CompletionTokens),
		Provider:        v.ID,
		Raw:             raw,
	}
}
