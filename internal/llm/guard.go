package llm

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/rendis/diagrammer/internal/logging"
	"github.com/rendis/diagrammer/pkg/schema"
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// RatePerSecond caps calls to the backend. Zero disables the limiter.
	RatePerSecond float64
	// Burst is the limiter bucket size; defaults to 1.
	Burst   int
	Breaker BreakerConfig
}

// Guard decorates a Generator with a rate limiter and a circuit breaker.
// Calls rejected by either surface as GENERATION_UNAVAILABLE.
type Guard struct {
	next    Generator
	limiter *rate.Limiter
	breaker *Breaker
	logger  *slog.Logger
}

// NewGuard wraps next. onChange observes breaker transitions and may be nil.
func NewGuard(next Generator, cfg GuardConfig, logger *slog.Logger, onChange func(from, to CircuitState)) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{next: next, logger: logger}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	g.breaker = NewBreaker(next.Name(), cfg.Breaker, func(from, to CircuitState) {
		logger.Warn("generator circuit state changed",
			slog.String("backend", next.Name()),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		if onChange != nil {
			onChange(from, to)
		}
	})
	return g
}

func (g *Guard) Name() string { return g.next.Name() }

// Breaker exposes the underlying breaker for health reporting.
func (g *Guard) Breaker() *Breaker { return g.breaker }

func (g *Guard) Generate(ctx context.Context, prompt string, mode Mode, opts Options) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", Classify(g.Name(), ctx.Err())
			}
			// The limiter refuses waits that would outlive the deadline.
			return "", Timeout(g.Name(), err)
		}
	}
	if err := g.breaker.Allow(); err != nil {
		return "", Classify(g.Name(), err)
	}

	out, err := g.next.Generate(ctx, prompt, mode, opts)
	if err != nil {
		err = Classify(g.Name(), err)
		if schema.IsCode(err, schema.ErrCodeCancelled) {
			g.breaker.Release()
			return "", err
		}
		g.breaker.RecordFailure()
		logging.LogWith(ctx, g.logger).Warn("generation failed",
			slog.String("backend", g.Name()),
			slog.String("mode", string(mode)),
			slog.String("error", err.Error()))
		return "", err
	}
	g.breaker.RecordSuccess()
	return out, nil
}
