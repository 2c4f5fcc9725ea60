package agent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/velsin/swarmflow/internal/metrics"
	"github.com/velsin/swarmflow/types"
)

const instrumentationName = "github.com/velsin/swarmflow/agent"

// InvokerConfig tunes the invocation decorator.
type InvokerConfig struct {
	// Timeout bounds one agent call. Zero means no deadline.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// RatePerSecond throttles calls across the wrapped agent. Zero
	// disables throttling.
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`
	// Burst is the limiter's burst size.
	Burst int `json:"burst" yaml:"burst"`
}

// DefaultInvokerConfig returns the default invocation settings.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		Timeout: 2 * time.Minute,
		Burst:   1,
	}
}

// Invoker wraps an Agent with timeout, rate limiting, logging, metrics and
// tracing. It implements Agent so it is transparent to callers.
type Invoker struct {
	inner     Agent
	config    InvokerConfig
	limiter   *rate.Limiter
	logger    *zap.Logger
	collector *metrics.Collector
	tracer    trace.Tracer
}

// NewInvoker decorates an agent. collector and logger may be nil.
func NewInvoker(inner Agent, config InvokerConfig, collector *metrics.Collector, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if config.RatePerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
	}
	return &Invoker{
		inner:     inner,
		config:    config,
		limiter:   limiter,
		logger:    logger.With(zap.String("component", "invoker"), zap.String("agent_id", inner.ID())),
		collector: collector,
		tracer:    otel.Tracer(instrumentationName),
	}
}

// ID implements Agent.
func (i *Invoker) ID() string { return i.inner.ID() }

// Invoke implements Agent. Timeouts and limiter waits surface as transient
// errors so the recovery layer applies retry policy.
func (i *Invoker) Invoke(ctx context.Context, prompt Prompt) (*types.AgentResponse, error) {
	ctx, span := i.tracer.Start(ctx, "agent.invoke",
		trace.WithAttributes(
			attribute.String("agent.id", i.inner.ID()),
			attribute.Int("prompt.tools", len(prompt.Tools)),
		))
	defer span.End()

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, "rate limit wait canceled")
			return nil, types.NewError(types.ErrRateLimited, "rate limit wait canceled").
				WithCause(err).WithAgent(i.inner.ID())
		}
	}

	if i.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := i.inner.Invoke(ctx, prompt)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = types.NewError(types.ErrTimeout, "agent call timed out").
				WithCause(err).WithAgent(i.inner.ID())
		}
		span.SetStatus(codes.Error, err.Error())
		i.logger.Warn("agent invocation failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		if i.collector != nil {
			i.collector.RecordInvocation(i.inner.ID(), "error", elapsed)
		}
		return nil, err
	}

	i.logger.Debug("agent invocation succeeded",
		zap.Duration("elapsed", elapsed),
		zap.Int("tool_calls", len(resp.ToolCalls)))
	if i.collector != nil {
		i.collector.RecordInvocation(i.inner.ID(), "ok", elapsed)
	}
	return resp, nil
}
