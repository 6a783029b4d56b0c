package domain

import (
	"encoding/json"
	"fmt"
)

// Kind names a block variant on the wire.
type Kind string

const (
	KindMessage      Kind = "message"
	KindWait         Kind = "wait"
	KindDetectIntent Kind = "detect_intent"
)

// Kinds lists the supported block kinds in their canonical order.
var Kinds = []Kind{KindMessage, KindWait, KindDetectIntent}

// Block is one node of a conversational flow. The set of implementations is
// closed: *MessageBlock, *WaitBlock and *DetectIntentBlock.
type Block interface {
	BlockID() string
	Kind() Kind
	isBlock()
}

// MessageBlock emits Text and moves on to Next, if set.
type MessageBlock struct {
	ID   string
	Text string
	Next string
}

// WaitBlock pauses the flow until the user sends any message.
type WaitBlock struct {
	ID   string
	Next string
}

// DetectIntentBlock pauses the flow, classifies the next user message against
// Intents and routes to the matching intent or to Fallback.
type DetectIntentBlock struct {
	ID       string
	Intents  []Intent
	Fallback string
}

// Intent is one routing option of a DetectIntentBlock.
type Intent struct {
	Label    string   `json:"intent"`
	Keywords []string `json:"keywords"`
	Next     string   `json:"next"`
}

func (b *MessageBlock) BlockID() string      { return b.ID }
func (b *WaitBlock) BlockID() string         { return b.ID }
func (b *DetectIntentBlock) BlockID() string { return b.ID }

func (*MessageBlock) Kind() Kind      { return KindMessage }
func (*WaitBlock) Kind() Kind         { return KindWait }
func (*DetectIntentBlock) Kind() Kind { return KindDetectIntent }

func (*MessageBlock) isBlock()      {}
func (*WaitBlock) isBlock()         {}
func (*DetectIntentBlock) isBlock() {}

// Awaits reports whether the block suspends the flow until the next user
// message arrives.
func Awaits(b Block) bool {
	switch b.(type) {
	case *WaitBlock, *DetectIntentBlock:
		return true
	default:
		return false
	}
}

// Route returns the next block id for a classified label, falling back when
// the label matches no intent.
func (b *DetectIntentBlock) Route(label string) string {
	if label != "" {
		for _, in := range b.Intents {
			if in.Label == label {
				return in.Next
			}
		}
	}
	return b.Fallback
}

// blockDoc is the flat wire representation shared by all block kinds.
type blockDoc struct {
	ID       string   `json:"id"`
	Type     Kind     `json:"type"`
	Message  string   `json:"message,omitempty"`
	Next     string   `json:"next,omitempty"`
	Intents  []Intent `json:"intents,omitempty"`
	Fallback string   `json:"fallback,omitempty"`
}

// Blocks is an ordered block list with a JSON codec for the flat wire format.
type Blocks []Block

func (bs Blocks) MarshalJSON() ([]byte, error) {
	docs := make([]blockDoc, 0, len(bs))
	for _, b := range bs {
		switch v := b.(type) {
		case *MessageBlock:
			docs = append(docs, blockDoc{ID: v.ID, Type: KindMessage, Message: v.Text, Next: v.Next})
		case *WaitBlock:
			docs = append(docs, blockDoc{ID: v.ID, Type: KindWait, Next: v.Next})
		case *DetectIntentBlock:
			docs = append(docs, blockDoc{ID: v.ID, Type: KindDetectIntent, Intents: v.Intents, Fallback: v.Fallback})
		default:
			return nil, fmt.Errorf("marshal block %q: unsupported block type %T", b.BlockID(), b)
		}
	}
	return json.Marshal(docs)
}

func (bs *Blocks) UnmarshalJSON(data []byte) error {
	var docs []blockDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return err
	}
	out := make(Blocks, 0, len(docs))
	for _, d := range docs {
		switch d.Type {
		case KindMessage:
			out = append(out, &MessageBlock{ID: d.ID, Text: d.Message, Next: d.Next})
		case KindWait:
			out = append(out, &WaitBlock{ID: d.ID, Next: d.Next})
		case KindDetectIntent:
			out = append(out, &DetectIntentBlock{ID: d.ID, Intents: d.Intents, Fallback: d.Fallback})
		default:
			return fmt.Errorf("block %q: unsupported block type %q", d.ID, d.Type)
		}
	}
	*bs = out
	return nil
}
