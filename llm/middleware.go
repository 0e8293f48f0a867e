package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/lexcodex/codeforge/framework"
)

// Middleware decorates a LanguageModel with a cross-cutting concern.
type Middleware func(framework.LanguageModel) framework.LanguageModel

// Wrap applies middlewares in left-to-right order, so Wrap(inner, A, B)
// yields A(B(inner)).
func Wrap(inner framework.LanguageModel, mws ...Middleware) framework.LanguageModel {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			out = mws[i](out)
		}
	}
	return out
}

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
)

// RetryPolicy controls how recoverable provider errors are retried.
type RetryPolicy struct {
	// MaxAttempts counts the first call.
	MaxAttempts int
	// Backoff is multiplied by the attempt number before the next call.
	Backoff   time.Duration
	Telemetry framework.Telemetry
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retry retries calls that fail with a recoverable *framework.ProviderError,
// waiting Backoff, 2*Backoff, ... between attempts. Fatal errors and
// cancellation return immediately.
func Retry(policy RetryPolicy) Middleware {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Backoff < 0 {
		policy.Backoff = 0
	}
	if policy.Sleep == nil {
		policy.Sleep = sleepContext
	}
	return func(next framework.LanguageModel) framework.LanguageModel {
		return &retrying{next: next, policy: policy}
	}
}

type retrying struct {
	next   framework.LanguageModel
	policy RetryPolicy
}

func (r *retrying) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return r.do(ctx, func() (*framework.LLMResponse, error) {
		return r.next.Generate(ctx, prompt, options)
	})
}

func (r *retrying) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return r.do(ctx, func() (*framework.LLMResponse, error) {
		return r.next.Chat(ctx, messages, options)
	})
}

func (r *retrying) do(ctx context.Context, call func() (*framework.LLMResponse, error)) (*framework.LLMResponse, error) {
	var last error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		resp, err := call()
		if err == nil {
			return resp, nil
		}
		last = err
		if !framework.IsRecoverable(err) || attempt == r.policy.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		wait := r.policy.Backoff * time.Duration(attempt)
		scope, _ := RunScopeFrom(ctx)
		framework.Emit(r.policy.Telemetry, framework.Event{
			Type:    framework.EventProviderRetry,
			RunID:   scope.RunID,
			Agent:   scope.Agent,
			Message: "retrying provider call",
			Metadata: map[string]interface{}{
				"attempt": attempt,
				"wait_ms": wait.Milliseconds(),
				"error":   err.Error(),
			},
		})
		if err := r.policy.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, last
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RateLimit caps the request rate with a token bucket. rps <= 0 disables it.
func RateLimit(rps float64, burst int) Middleware {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return func(next framework.LanguageModel) framework.LanguageModel {
		return &rateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
	}
}

type rateLimited struct {
	next    framework.LanguageModel
	limiter *rate.Limiter
}

func (r *rateLimited) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Generate(ctx, prompt, options)
}

func (r *rateLimited) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Chat(ctx, messages, options)
}

// Instrument emits prompt and response telemetry around every call.
func Instrument(telemetry framework.Telemetry, debug bool) Middleware {
	if telemetry == nil {
		return nil
	}
	return func(next framework.LanguageModel) framework.LanguageModel {
		return NewInstrumentedModel(next, telemetry, debug)
	}
}
