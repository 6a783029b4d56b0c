package intent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/flowbot/internal/logging"
)

var weatherTravel = []Option{
	{Label: "weather", Keywords: []string{"weather", "forecast", "temperature"}},
	{Label: "travel", Keywords: []string{"travel", "vacation", "road trip"}},
}

// stubProvider answers with a fixed label or error and counts calls.
type stubProvider struct {
	name   string
	answer string
	err    error
	delay  time.Duration
	panics bool
	calls  atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Detect(ctx context.Context, _ string, _ []Option) (string, error) {
	s.calls.Add(1)
	if s.panics {
		panic("boom")
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.answer, s.err
}

func silent() *logging.Logger { return logging.New(nil, "silent") }

func TestResolve(t *testing.T) {
	assert.Equal(t, Match("travel"), Resolve("travel", weatherTravel))
	assert.Equal(t, NoMatch(ReasonNoMatch), Resolve("unknown", weatherTravel))
	assert.Equal(t, NoMatch(ReasonNoMatch), Resolve("", weatherTravel))
	assert.Equal(t, NoMatch(ReasonOutOfVocabulary), Resolve("Weather", weatherTravel))

	withUnknown := []Option{{Label: "unknown", Keywords: []string{"dunno"}}, {Label: "weather"}}
	assert.Equal(t, Match("unknown"), Resolve("unknown", withUnknown))
}

func TestGuardRoutesIntentLabelledUnknown(t *testing.T) {
	options := []Option{{Label: "unknown", Keywords: []string{"dunno"}}, {Label: "weather", Keywords: []string{"rain"}}}
	g := NewGuard(silent(), time.Second, KeywordProvider{})

	assert.Equal(t, Match("unknown"), g.Classify(context.Background(), "i dunno", options))
	assert.Equal(t, NoMatch(ReasonNoMatch), g.Classify(context.Background(), "hello there", options))
}

func TestResultOutcome(t *testing.T) {
	assert.Equal(t, "match", Match("x").Outcome())
	assert.Equal(t, "timeout", NoMatch(ReasonTimeout).Outcome())
	assert.False(t, NoMatch(ReasonTimeout).IsMatch())
	assert.Equal(t, []string{"weather", "travel"}, Labels(weatherTravel))
}

func TestGuardFirstProviderWins(t *testing.T) {
	primary := &stubProvider{name: "primary", answer: " weather \n"}
	backup := &stubProvider{name: "backup", answer: "travel"}
	g := NewGuard(silent(), time.Second, primary, backup)

	assert.Equal(t, Match("weather"), g.Classify(context.Background(), "sunny?", weatherTravel))
	assert.Zero(t, backup.calls.Load())
	assert.Equal(t, []string{"primary", "backup"}, g.Providers())
}

func TestGuardFailsOver(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("503 overloaded")}
	backup := &stubProvider{name: "backup", answer: "travel"}
	g := NewGuard(silent(), time.Second, primary, backup)

	assert.Equal(t, Match("travel"), g.Classify(context.Background(), "trip", weatherTravel))
	assert.EqualValues(t, 1, primary.calls.Load())
}

func TestGuardReportsProviderError(t *testing.T) {
	g := NewGuard(silent(), time.Second, &stubProvider{name: "only", err: errors.New("bad key")})
	assert.Equal(t, NoMatch(ReasonProviderError), g.Classify(context.Background(), "x", weatherTravel))
}

func TestGuardTimesOutProviderIgnoringContext(t *testing.T) {
	slow := &stubProvider{name: "slow", answer: "weather", delay: time.Second}
	g := NewGuard(silent(), 20*time.Millisecond, slow)

	began := time.Now()
	res := g.Classify(context.Background(), "x", weatherTravel)
	assert.Equal(t, NoMatch(ReasonTimeout), res)
	assert.Less(t, time.Since(began), 500*time.Millisecond)
}

func TestGuardTimeoutFallsOverToKeywords(t *testing.T) {
	slow := &stubProvider{name: "slow", answer: "weather", delay: time.Second}
	g := NewGuard(silent(), 20*time.Millisecond, slow, KeywordProvider{})

	assert.Equal(t, Match("travel"), g.Classify(context.Background(), "planning a vacation", weatherTravel))
}

func TestGuardStopsWhenCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	backup := &stubProvider{name: "backup", answer: "travel"}
	g := NewGuard(silent(), 0, &stubProvider{name: "slow", delay: time.Second}, backup)

	res := g.Classify(ctx, "x", weatherTravel)
	assert.False(t, res.IsMatch())
	assert.Zero(t, backup.calls.Load())
}

func TestGuardContainsPanics(t *testing.T) {
	g := NewGuard(silent(), time.Second, &stubProvider{name: "bad", panics: true})
	assert.NotPanics(t, func() {
		assert.Equal(t, NoMatch(ReasonProviderError), g.Classify(context.Background(), "x", weatherTravel))
	})
}

func TestGuardRejectsOutOfVocabulary(t *testing.T) {
	g := NewGuard(silent(), time.Second, &stubProvider{name: "llm", answer: "sports"})
	assert.Equal(t, NoMatch(ReasonOutOfVocabulary), g.Classify(context.Background(), "x", weatherTravel))
}

func TestGuardEdgeCases(t *testing.T) {
	assert.Equal(t, NoMatch(ReasonNoProvider), NewGuard(silent(), 0).Classify(context.Background(), "x", weatherTravel))
	g := NewGuard(silent(), 0, KeywordProvider{})
	assert.Equal(t, NoMatch(ReasonNoMatch), g.Classify(context.Background(), "x", nil))
}

func TestKeywordProvider(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"single keyword", "What's the FORECAST for tomorrow?", "weather"},
		{"phrase keyword", "thinking about a road trip", "travel"},
		{"partial phrase", "the road is long", ""},
		{"substring is not a word", "weatherproof jacket", ""},
		{"most hits wins", "weather for my travel vacation", "travel"},
		{"tie goes to first", "weather travel", "weather"},
		{"nothing", "hello there", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KeywordProvider{}.Detect(context.Background(), tt.text, weatherTravel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
