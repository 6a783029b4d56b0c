// Package flow validates conversational flows and executes them one turn at
// a time.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/flowbot/internal/domain"
	"github.com/soyeahso/flowbot/internal/intent"
	"github.com/soyeahso/flowbot/internal/logging"
	"github.com/soyeahso/flowbot/internal/metric"
)

// DefaultClassifyTimeout bounds a single intent classification.
const DefaultClassifyTimeout = 10 * time.Second

// UnexpectedInputMessage is sent when a message arrives while the flow is
// not waiting for one.
const UnexpectedInputMessage = "Unexpected message received"

// Engine drives sessions through a flow. It keeps no flow state between
// calls; everything lives in the SessionStore. Turns for the same session id
// are serialized, turns for different sessions run concurrently.
type Engine struct {
	sessions   SessionStore
	classifier intent.Classifier
	log        *logging.Logger
	metrics    *metric.Metrics
	timeout    time.Duration
	now        func() time.Time
	locks      *keyedMutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClassifyTimeout bounds each classifier call.
func WithClassifyTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMetrics records turn and classification metrics.
func WithMetrics(m *metric.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. A nil classifier makes every detect_intent
// block take its fallback.
func NewEngine(sessions SessionStore, classifier intent.Classifier, log *logging.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		sessions:   sessions,
		classifier: classifier,
		log:        log.Sub("engine"),
		timeout:    DefaultClassifyTimeout,
		now:        time.Now,
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start (re)starts the flow for a session at its initial block and returns
// the first response.
func (e *Engine) Start(ctx context.Context, f *domain.Flow, sessionID string) (domain.Response, error) {
	return e.turn("start", sessionID, func() (domain.Response, error) {
		return e.start(ctx, f, sessionID)
	})
}

// Receive feeds one user message into the session's flow.
func (e *Engine) Receive(ctx context.Context, f *domain.Flow, sessionID string, in domain.Inbound) (domain.Response, error) {
	return e.turn("receive", sessionID, func() (domain.Response, error) {
		return e.receive(ctx, f, sessionID, in)
	})
}

// Resume reattaches to an existing session. A session parked on a wait or
// detect_intent block is prompted again without moving; anything else starts
// over.
func (e *Engine) Resume(ctx context.Context, f *domain.Flow, sessionID string) (domain.Response, error) {
	return e.turn("resume", sessionID, func() (domain.Response, error) {
		sess, err := e.sessions.Get(ctx, sessionID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return e.start(ctx, f, sessionID)
		}
		if err != nil {
			return domain.Response{}, fmt.Errorf("load session %s: %w", sessionID, err)
		}
		cur, ok := f.Lookup(sess.CurrentBlockID)
		if !ok || !domain.Awaits(cur) {
			return e.start(ctx, f, sessionID)
		}
		sess.LastActivity = e.now()
		if err := e.save(ctx, sess); err != nil {
			return domain.Response{}, err
		}
		return domain.PromptResponse(), nil
	})
}

func (e *Engine) turn(op, sessionID string, fn func() (domain.Response, error)) (domain.Response, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	began := e.now()
	resp, err := fn()
	outcome := string(resp.Type)
	if err != nil {
		outcome = "failed"
		e.log.Warn().Err(err).Str("op", op).Str("session", sessionID).Msg("turn failed")
	}
	e.metrics.RecordTurn(op, outcome, e.now().Sub(began))
	return resp, err
}

func (e *Engine) start(ctx context.Context, f *domain.Flow, sessionID string) (domain.Response, error) {
	initial, ok := f.Initial()
	if !ok {
		return domain.Response{}, &domain.ConfigError{
			BlockID: f.InitialBlock,
			Message: "initial block not found",
		}
	}

	sess, err := e.load(ctx, sessionID)
	if err != nil {
		return domain.Response{}, err
	}
	sess.CurrentBlockID = initial.BlockID()
	sess.LastActivity = e.now()

	resp, err := e.advance(ctx, f, sess, initial, nil)
	if err != nil {
		return domain.Response{}, err
	}
	if err := e.save(ctx, sess); err != nil {
		return domain.Response{}, err
	}
	e.log.Debug().Str("session", sessionID).Str("block", sess.CurrentBlockID).Msg("flow started")
	return resp, nil
}

func (e *Engine) receive(ctx context.Context, f *domain.Flow, sessionID string, in domain.Inbound) (domain.Response, error) {
	sess, err := e.load(ctx, sessionID)
	if err != nil {
		return domain.Response{}, err
	}

	current, ok := f.Lookup(sess.CurrentBlockID)
	sess.Append(domain.DirectionIncoming, in.Content(), sess.CurrentBlockID, e.now())

	var resp domain.Response
	switch b := current.(type) {
	case *domain.WaitBlock:
		next, found := f.Lookup(b.Next)
		if !found {
			return domain.Response{}, danglingRef(b.ID, "next", b.Next)
		}
		sess.CurrentBlockID = next.BlockID()
		resp, err = e.advance(ctx, f, sess, next, nil)
	case *domain.DetectIntentBlock:
		resp, err = e.advance(ctx, f, sess, b, &in)
	default:
		e.log.Debug().Str("session", sessionID).Str("block", sess.CurrentBlockID).Bool("known", ok).
			Msg("message received while not awaiting input")
		pe := &domain.ProtocolError{Code: domain.CodeUnexpectedInput, Message: UnexpectedInputMessage}
		resp = pe.Response()
	}
	if err != nil {
		return domain.Response{}, err
	}
	if err := e.save(ctx, sess); err != nil {
		return domain.Response{}, err
	}
	return resp, nil
}

// advance runs the flow from b until it reaches a suspend point or a message
// block without a successor. Chained messages are all recorded but only the
// last one is returned. in is the user message an entered detect_intent
// block may consume; it is used at most once.
func (e *Engine) advance(ctx context.Context, f *domain.Flow, sess *domain.Session, b domain.Block, in *domain.Inbound) (domain.Response, error) {
	visited := make(map[string]bool, f.Len())

	for {
		switch blk := b.(type) {
		case *domain.MessageBlock:
			if visited[blk.ID] {
				return domain.Response{}, &domain.FlowError{BlockID: blk.ID, Message: "cycle of message blocks without a wait"}
			}
			visited[blk.ID] = true

			sess.Append(domain.DirectionOutgoing, blk.Text, blk.ID, e.now())
			resp := domain.MessageResponse(blk.Text)
			if blk.Next == "" {
				sess.CurrentBlockID = blk.ID
				return resp, nil
			}
			next, ok := f.Lookup(blk.Next)
			if !ok {
				return domain.Response{}, danglingRef(blk.ID, "next", blk.Next)
			}
			sess.CurrentBlockID = next.BlockID()
			if domain.Awaits(next) {
				return resp, nil
			}
			b = next

		case *domain.WaitBlock:
			sess.CurrentBlockID = blk.ID
			return domain.PromptResponse(), nil

		case *domain.DetectIntentBlock:
			if in == nil {
				sess.CurrentBlockID = blk.ID
				return domain.PromptResponse(), nil
			}
			result := e.classify(ctx, sess.SessionID, blk, in.Content())
			in = nil

			target := blk.Route(result.Label)
			next, ok := f.Lookup(target)
			if !ok {
				field := "fallback"
				if result.IsMatch() {
					field = "intent " + result.Label + " next"
				}
				return domain.Response{}, danglingRef(blk.ID, field, target)
			}
			sess.CurrentBlockID = next.BlockID()
			b = next

		default:
			return domain.Response{}, &domain.FlowError{
				BlockID: b.BlockID(),
				Message: fmt.Sprintf("unsupported block type %q", b.Kind()),
			}
		}
	}
}

func (e *Engine) classify(ctx context.Context, sessionID string, blk *domain.DetectIntentBlock, text string) intent.Result {
	began := e.now()
	result := intent.NoMatch(intent.ReasonNoProvider)
	options := OptionsFor(blk)

	if e.classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		result = e.classifier.Classify(cctx, text, options)
		cancel()
		if result.IsMatch() {
			result = intent.Resolve(result.Label, options)
		}
	}

	e.metrics.RecordClassification(result.Outcome(), e.now().Sub(began))
	e.log.Debug().
		Str("session", sessionID).
		Str("block", blk.ID).
		Str("outcome", result.Outcome()).
		Str("label", result.Label).
		Msg("intent classified")
	return result
}

func (e *Engine) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.NewSession(sessionID, e.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (e *Engine) save(ctx context.Context, sess *domain.Session) error {
	if err := e.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sess.SessionID, err)
	}
	return nil
}

// OptionsFor converts a block's intents into classifier options.
func OptionsFor(b *domain.DetectIntentBlock) []intent.Option {
	out := make([]intent.Option, len(b.Intents))
	for i, in := range b.Intents {
		out[i] = intent.Option{Label: in.Label, Keywords: in.Keywords}
	}
	return out
}

func danglingRef(blockID, field, target string) error {
	return &domain.FlowError{
		BlockID: blockID,
		Message: fmt.Sprintf("%s references missing block %q", field, target),
	}
}
