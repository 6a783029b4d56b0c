// Package intent maps free-form user text onto one of a small set of labels.
package intent

import "context"

// Option is one candidate label with the example keywords describing it.
type Option struct {
	Label    string
	Keywords []string
}

// Reason explains why classification produced no label.
type Reason string

const (
	ReasonNoMatch         Reason = "no_match"
	ReasonOutOfVocabulary Reason = "out_of_vocabulary"
	ReasonProviderError   Reason = "provider_error"
	ReasonTimeout         Reason = "timeout"
	ReasonNoProvider      Reason = "no_provider"
)

// UnknownLabel is what providers answer when nothing fits.
const UnknownLabel = "unknown"

// Result is either a matched label or a no-match with a reason. It is never
// both.
type Result struct {
	Label  string
	Reason Reason
}

// Match returns a matched result.
func Match(label string) Result { return Result{Label: label} }

// NoMatch returns a no-match result.
func NoMatch(reason Reason) Result { return Result{Reason: reason} }

// IsMatch reports whether a label was chosen.
func (r Result) IsMatch() bool { return r.Label != "" }

// Outcome is a short label for logs and metrics.
func (r Result) Outcome() string {
	if r.IsMatch() {
		return "match"
	}
	return string(r.Reason)
}

// Classifier chooses among options for the given text. Implementations must
// honour ctx, return only labels present in options and never fail: every
// problem is reported as a no-match.
type Classifier interface {
	Classify(ctx context.Context, text string, options []Option) Result
}

// Provider is a raw classification backend that may fail. Wrap providers in
// a Guard to obtain a Classifier.
type Provider interface {
	Name() string
	Detect(ctx context.Context, text string, options []Option) (string, error)
}

// Labels returns the option labels in order.
func Labels(options []Option) []string {
	out := make([]string, len(options))
	for i, o := range options {
		out[i] = o.Label
	}
	return out
}

// Resolve maps a provider answer onto the vocabulary. A label present in
// options always matches, even when it is spelled like UnknownLabel.
func Resolve(answer string, options []Option) Result {
	if answer == "" {
		return NoMatch(ReasonNoMatch)
	}
	for _, o := range options {
		if o.Label == answer {
			return Match(answer)
		}
	}
	if answer == UnknownLabel {
		return NoMatch(ReasonNoMatch)
	}
	return NoMatch(ReasonOutOfVocabulary)
}
