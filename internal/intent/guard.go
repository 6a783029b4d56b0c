package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/flowbot/internal/logging"
)

// Guard turns fallible providers into a Classifier. Providers are tried in
// order; the first one that answers wins. Each attempt is bounded by the
// guard's timeout and by ctx, and panics are contained.
type Guard struct {
	providers []Provider
	timeout   time.Duration
	log       *logging.Logger
}

// NewGuard creates a guard. A zero timeout relies on ctx alone.
func NewGuard(log *logging.Logger, timeout time.Duration, providers ...Provider) *Guard {
	return &Guard{
		providers: providers,
		timeout:   timeout,
		log:       log.Sub("intent"),
	}
}

// Providers returns the provider names in failover order.
func (g *Guard) Providers() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.Name()
	}
	return names
}

func (g *Guard) Classify(ctx context.Context, text string, options []Option) Result {
	if len(options) == 0 {
		return NoMatch(ReasonNoMatch)
	}
	if len(g.providers) == 0 {
		return NoMatch(ReasonNoProvider)
	}

	reason := ReasonProviderError
	for _, p := range g.providers {
		answer, err := g.detect(ctx, p, text, options)
		if err == nil {
			res := Resolve(strings.TrimSpace(answer), options)
			if res.Reason == ReasonOutOfVocabulary {
				g.log.Debug().Str("provider", p.Name()).Msg("provider answered outside the vocabulary")
			}
			return res
		}

		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		} else {
			reason = ReasonProviderError
		}
		g.log.Warn().Str("provider", p.Name()).Err(err).Msg("intent provider failed, trying next")

		if ctx.Err() != nil {
			break
		}
	}
	return NoMatch(reason)
}

type detectResult struct {
	answer string
	err    error
}

// detect runs one provider call in its own goroutine so a provider that
// ignores ctx cannot stall the caller past the deadline.
func (g *Guard) detect(ctx context.Context, p Provider, text string, options []Option) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan detectResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- detectResult{err: fmt.Errorf("provider %s panicked: %v", p.Name(), r)}
			}
		}()
		answer, err := p.Detect(ctx, text, options)
		done <- detectResult{answer: answer, err: err}
	}()

	select {
	case r := <-done:
		return r.answer, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("provider %s: %w", p.Name(), ctx.Err())
	}
}
