package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/flowbot/internal/domain"
	"github.com/soyeahso/flowbot/internal/intent"
	"github.com/soyeahso/flowbot/internal/logging"
	"github.com/soyeahso/flowbot/internal/metric"
)

// classifierFunc adapts a function to intent.Classifier.
type classifierFunc func(ctx context.Context, text string, options []intent.Option) intent.Result

func (f classifierFunc) Classify(ctx context.Context, text string, options []intent.Option) intent.Result {
	return f(ctx, text, options)
}

func fixed(label string) intent.Classifier {
	return classifierFunc(func(context.Context, string, []intent.Option) intent.Result {
		return intent.Match(label)
	})
}

func testEngine(t *testing.T, c intent.Classifier, opts ...EngineOption) (*Engine, *MemorySessionStore) {
	t.Helper()
	store := NewMemorySessionStore()
	return NewEngine(store, c, logging.New(nil, "silent"), opts...), store
}

func mustParse(t *testing.T, s string) *domain.Flow {
	t.Helper()
	f, err := Parse([]byte(s))
	require.NoError(t, err)
	return f
}

func TestStartChainsToFirstSuspendPoint(t *testing.T) {
	e, store := testEngine(t, nil)
	f := mustParse(t, intentFlow)
	ctx := context.Background()

	resp, err := e.Start(ctx, f, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageResponse("Welcome to our chatbot!"), resp)

	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "wait_for_intent", sess.CurrentBlockID)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, domain.DirectionOutgoing, sess.Messages[0].Direction)
	assert.Equal(t, "welcome", sess.Messages[0].BlockID)
}

func TestStartOnWaitBlockPrompts(t *testing.T) {
	e, store := testEngine(t, nil)
	f := domain.NewFlow(domain.Blocks{
		&domain.WaitBlock{ID: "w", Next: "m"},
		&domain.MessageBlock{ID: "m", Text: "ok"},
	}, "w", domain.Metadata{})

	resp, err := e.Start(context.Background(), f, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.PromptResponse(), resp)

	sess, _ := store.Get(context.Background(), "s1")
	assert.Equal(t, "w", sess.CurrentBlockID)
	assert.Empty(t, sess.Messages)
}

func TestStartMissingInitialBlock(t *testing.T) {
	e, store := testEngine(t, nil)
	f := domain.NewFlow(domain.Blocks{&domain.MessageBlock{ID: "a", Text: "hi"}}, "ghost", domain.Metadata{})

	_, err := e.Start(context.Background(), f, "s1")
	var ce *domain.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ghost", ce.BlockID)

	_, err = store.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStartResetsPosition(t *testing.T) {
	e, store := testEngine(t, fixed("weather"))
	f := mustParse(t, intentFlow)
	ctx := context.Background()

	_, err := e.Start(ctx, f, "s1")
	require.NoError(t, err)
	_, err = e.Receive(ctx, f, "s1", domain.TextInbound("hello"))
	require.NoError(t, err)

	_, err = e.Start(ctx, f, "s1")
	require.NoError(t, err)
	sess, _ := store.Get(ctx, "s1")
	assert.Equal(t, "wait_for_intent", sess.CurrentBlockID)
}

func TestChainedMessagesReturnLastOnly(t *testing.T) {
	e, store := testEngine(t, nil)
	f := domain.NewFlow(domain.Blocks{
		&domain.MessageBlock{ID: "a", Text: "one", Next: "b"},
		&domain.MessageBlock{ID: "b", Text: "two", Next: "c"},
		&domain.MessageBlock{ID: "c", Text: "three"},
	}, "a", domain.Metadata{})

	resp, err := e.Start(context.Background(), f, "s1")
	require.NoError(t, err)
	assert.Equal(t, "three", resp.Message)

	sess, _ := store.Get(context.Background(), "s1")
	assert.Equal(t, "c", sess.CurrentBlockID)
	require.Len(t, sess.Messages, 3)
	var texts []string
	for _, m := range sess.Messages {
		texts = append(texts, m.Content)
	}
	assert.Equal(t, []string{"one", "two", "three"}, texts)
}

func TestMessageCycleFailsWithoutCommit(t *testing.T) {
	e, store := testEngine(t, nil)
	f := domain.NewFlow(domain.Blocks{
		&domain.MessageBlock{ID: "a", Text: "ping", Next: "b"},
		&domain.MessageBlock{ID: "b", Text: "pong", Next: "a"},
	}, "a", domain.Metadata{})

	_, err := e.Start(context.Background(), f, "s1")
	var fe *domain.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "a", fe.BlockID)

	_, err = store.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestReceiveWaitThenDetectIntentPrompts(t *testing.T) {
	e, store := testEngine(t, fixed("weather"))
	f := mustParse(t, intentFlow)
	ctx := context.Background()

	_, err := e.Start(ctx, f, "s1")
	require.NoError(t, err)

	resp, err := e.Receive(ctx, f, "s1", domain.TextInbound("anything"))
	require.NoError(t, err)
	assert.Equal(t, domain.ResponsePrompt, resp.Type)

	sess, _ := store.Get(ctx, "s1")
	assert.Equal(t, "detect_intent", sess.CurrentBlockID)
	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, domain.DirectionIncoming, last.Direction)
	assert.Equal(t, "anything", last.Content)
	assert.Equal(t, "wait_for_intent", last.BlockID)
}

func TestReceiveDetectIntentRoutes(t *testing.T) {
	tests := []struct {
		name       string
		classifier intent.Classifier
		wantText   string
		wantBlock  string
	}{
		{"matched", fixed("travel"), "Here are some travel options.", "travel_response"},
		{"no match", classifierFunc(func(context.Context, string, []intent.Option) intent.Result {
			return intent.NoMatch(intent.ReasonNoMatch)
		}), "I did not understand that.", "unknown_intent"},
		{"out of vocabulary", fixed("sports"), "I did not understand that.", "unknown_intent"},
		{"no classifier", nil, "I did not understand that.", "unknown_intent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := testEngine(t, tt.classifier)
			f := mustParse(t, intentFlow)
			ctx := context.Background()

			_, err := e.Start(ctx, f, "s1")
			require.NoError(t, err)
			_, err = e.Receive(ctx, f, "s1", domain.TextInbound("hi"))
			require.NoError(t, err)

			resp, err := e.Receive(ctx, f, "s1", domain.TextInbound("plan a trip"))
			require.NoError(t, err)
			assert.Equal(t, domain.MessageResponse(tt.wantText), resp)

			sess, _ := store.Get(ctx, "s1")
			assert.Equal(t, tt.wantBlock, sess.CurrentBlockID)
			n := len(sess.Messages)
			assert.Equal(t, "plan a trip", sess.Messages[n-2].Content)
			assert.Equal(t, tt.wantText, sess.Messages[n-1].Content)
		})
	}
}

func TestReceiveRoutesIntentLabelledUnknown(t *testing.T) {
	guard := intent.NewGuard(logging.New(nil, "silent"), time.Second, intent.KeywordProvider{})
	e, store := testEngine(t, guard)
	f := mustParse(t, `{"blocks": [
	  {"id": "d", "type": "detect_intent",
	   "intents": [{"intent": "unknown", "keywords": ["dunno"], "next": "U"}],
	   "fallback": "F"},
	  {"id": "U", "type": "message", "message": "unsure then"},
	  {"id": "F", "type": "message", "message": "fallback"}
	], "initialBlock": "d"}`)
	ctx := context.Background()

	_, err := e.Start(ctx, f, "s1")
	require.NoError(t, err)
	resp, err := e.Receive(ctx, f, "s1", domain.TextInbound("i dunno"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageResponse("unsure then"), resp)

	sess, _ := store.Get(ctx, "s1")
	assert.Equal(t, "U", sess.CurrentBlockID)
}

func TestClassifierSeesOptionsAndContent(t *testing.T) {
	var gotText string
	var gotOptions []intent.Option
	e, _ := testEngine(t, classifierFunc(func(_ context.Context, text string, options []intent.Option) intent.Result {
		gotText, gotOptions = text, options
		return intent.Match("weather")
	}))
	f := mustParse(t, intentFlow)
	ctx := context.Background()

	_, _ = e.Start(ctx, f, "s1")
	_, _ = e.Receive(ctx, f, "s1", domain.TextInbound("x"))
	raw, err := domain.ParseInbound([]byte(`{"choice": 2}`))
	require.NoError(t, err)
	_, err = e.Receive(ctx, f, "s1", raw)
	require.NoError(t, err)

	assert.Equal(t, `{"choice": 2}`, gotText)
	require.Len(t, gotOptions, 2)
	assert.Equal(t, "weather", gotOptions[0].Label)
	assert.Equal(t, []string{"travel", "vacation", "trip"}, gotOptions[1].Keywords)
}

func TestClassifierTimeoutTakesFallback(t *testing.T) {
	slow := classifierFunc(func(ctx context.Context, _ string, _ []intent.Option) intent.Result {
		<-ctx.Done()
		return intent.NoMatch(intent.ReasonTimeout)
	})
	e, _ := testEngine(t, slow, WithClassifyTimeout(20*time.Millisecond))
	f := mustParse(t, intentFlow)
	ctx := context.Background()

	_, _ = e.Start(ctx, f, "s1")
	_, _ = e.Receive(ctx, f, "s1", domain.TextInbound("x"))

	began := time.Now()
	resp, err := e.Receive(ctx, f, "s1", domain.TextInbound("weather?"))
	require.NoError(t, err)
	assert.Less(t, time.Since(began), 2*time.Second)
	assert.Equal(t, "I did not understand that.", resp.Message)
}

func TestDetectIntentChainsIntoNextSuspendPoint(t *testing.T) {
	e, store := testEngine(t, fixed("again"))
	f := domain.NewFlow(domain.Blocks{
		&domain.DetectIntentBlock{
			ID:       "d",
			Intents:  []domain.Intent{{Label: "again", Keywords: []string{"again"}, Next: "d"}},
			Fallback: "bye",
		},
		&domain.MessageBlock{ID: "bye", Text: "bye"},
	}, "d", domain.Metadata{})
	ctx := context.Background()

	resp, err := e.Start(ctx, f, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResponsePrompt, resp.Type)

	resp, err = e.Receive(ctx, f, "s1", domain.TextInbound("again"))
	require.NoError(t, err)
	assert.Equal(t, domain.ResponsePrompt, resp.Type)

	sess, _ := store.Get(ctx, "s1")
	assert.Equal(t, "d", sess.CurrentBlockID)
}

func TestUnexpectedInput(t *testing.T) {
	e, store := testEngine(t, nil)
	f := domain.NewFlow(domain.Blocks{&domain.MessageBlock{ID: "end", Text: "done"}}, "end", domain.Metadata{})
	ctx := context.Background()

	_, err := e.Start(ctx, f, "s1")
	require.NoError(t, err)

	resp, err := e.Receive(ctx, f, "s1", domain.TextInbound("hello?"))
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseError, resp.Type)
	assert.Equal(t, domain.CodeUnexpectedInput, resp.Code)
	assert.Equal(t, UnexpectedInputMessage, resp.Message)

	sess, _ := store.Get(ctx, "s1")
	assert.Equal(t, "end", sess.CurrentBlockID)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, domain.DirectionIncoming, sess.Messages[1].Direction)
}

func TestReceiveWithoutSessionIsUnexpected(t *testing.T) {
	e, store := testEngine(t, nil)
	f := mustParse(t, intentFlow)

	resp, err := e.Receive(context.Background(), f, "fresh", domain.TextInbound("hi"))
	require.NoError(t, err)
	assert.Equal(t, domain.CodeUnexpectedInput, resp.Code)

	sess, err := store.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Empty(t, sess.CurrentBlockID)
	assert.Len(t, sess.Messages, 1)
}

func TestDanglingRuntimeReferenceKeepsPriorState(t *testing.T) {
	e, store := testEngine(t, nil)
	f := domain.NewFlow(domain.Blocks{
		&domain.MessageBlock{ID: "hi", Text: "hi", Next: "w"},
		&domain.WaitBlock{ID: "w", Next: "gone"},
	}, "hi", domain.Metadata{})
	ctx := context.Background()

	_, err := e.Start(ctx, f, "s1")
	require.NoError(t, err)

	_, err = e.Receive(ctx, f, "s1", domain.TextInbound("go"))
	var fe *domain.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "w", fe.BlockID)

	sess, _ := store.Get(ctx, "s1")
	assert.Equal(t, "w", sess.CurrentBlockID)
	assert.Len(t, sess.Messages, 1)
}

func TestResume(t *testing.T) {
	e, store := testEngine(t, nil)
	f := mustParse(t, intentFlow)
	ctx := context.Background()

	resp, err := e.Resume(ctx, f, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome to our chatbot!", resp.Message)

	resp, err = e.Resume(ctx, f, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.PromptResponse(), resp)

	sess, _ := store.Get(ctx, "s1")
	assert.Equal(t, "wait_for_intent", sess.CurrentBlockID)
	assert.Len(t, sess.Messages, 1)
}

func TestConcurrentReceivesAreSerialized(t *testing.T) {
	m := metric.New()
	e, store := testEngine(t, nil, WithMetrics(m))
	f := domain.NewFlow(domain.Blocks{
		&domain.WaitBlock{ID: "w", Next: "echo"},
		&domain.MessageBlock{ID: "echo", Text: "got it", Next: "w"},
	}, "w", domain.Metadata{})
	ctx := context.Background()

	_, err := e.Start(ctx, f, "shared")
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := e.Receive(ctx, f, "shared", domain.TextInbound("ping"))
			assert.NoError(t, err)
			assert.Equal(t, "got it", resp.Message)
		}()
	}
	wg.Wait()

	sess, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2*n)
	assert.Equal(t, "w", sess.CurrentBlockID)
	assert.Zero(t, e.locks.size())
}

func TestIndependentSessionsDoNotBlock(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	blocking := classifierFunc(func(context.Context, string, []intent.Option) intent.Result {
		entered <- struct{}{}
		<-release
		return intent.Match("weather")
	})
	e, _ := testEngine(t, blocking)
	f := mustParse(t, intentFlow)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, _ = e.Start(ctx, f, id)
		_, _ = e.Receive(ctx, f, id, domain.TextInbound("x"))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Receive(ctx, f, "a", domain.TextInbound("weather"))
	}()
	<-entered

	resp, err := e.Start(ctx, f, "b")
	require.NoError(t, err)
	assert.Equal(t, "Welcome to our chatbot!", resp.Message)

	close(release)
	<-done
}

type failingStore struct {
	*MemorySessionStore
	saveErr error
}

func (s *failingStore) Save(context.Context, *domain.Session) error { return s.saveErr }

func TestSaveFailureSurfaces(t *testing.T) {
	boom := errors.New("disk full")
	store := &failingStore{MemorySessionStore: NewMemorySessionStore(), saveErr: boom}
	e := NewEngine(store, nil, logging.New(nil, "silent"))

	_, err := e.Start(context.Background(), mustParse(t, intentFlow), "s1")
	assert.ErrorIs(t, err, boom)
}
