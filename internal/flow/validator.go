package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/flowbot/internal/domain"
)

// Result is the outcome of validating a flow document.
type Result struct {
	OK     bool     `json:"isValid"`
	Errors []string `json:"errors"`
}

// Err returns a *domain.ValidationError for a failed result, nil otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &domain.ValidationError{Issues: r.Errors}
}

// ValidateJSON validates an encoded flow document. Input that is not JSON is
// reported the same way as a non-object document.
func ValidateJSON(data []byte) Result {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Validate(nil)
	}
	return Validate(doc)
}

// Parse validates data and decodes it into a Flow.
func Parse(data []byte) (*domain.Flow, error) {
	if res := ValidateJSON(data); !res.OK {
		return nil, res.Err()
	}
	var f domain.Flow
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &domain.ValidationError{Issues: []string{err.Error()}}
	}
	return &f, nil
}

// Validate checks a generically decoded flow document (as produced by
// encoding/json into an any). It never panics and reports every problem it
// finds; it stops early only when the document or its blocks array is
// unusable.
func Validate(doc any) Result {
	v := &validator{}
	v.run(doc)
	return Result{OK: len(v.errs) == 0, Errors: v.errs}
}

type validator struct {
	errs []string
}

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Sprintf(format, args...))
}

func (v *validator) run(doc any) {
	cfg, ok := doc.(map[string]any)
	if !ok {
		v.addf("Configuration must be an object")
		return
	}

	blocks, ok := cfg["blocks"].([]any)
	if !ok || len(blocks) == 0 {
		v.addf("Configuration must contain a non-empty blocks array")
		return
	}

	ids := make(map[string]int, len(blocks))
	for _, raw := range blocks {
		if b, ok := raw.(map[string]any); ok {
			if id, ok := str(b, "id"); ok {
				ids[id]++
			}
		}
	}

	if initial, ok := str(cfg, "initialBlock"); !ok {
		v.addf("Configuration must specify an initialBlock")
	} else if ids[initial] == 0 {
		v.addf("Initial block with ID %s not found in blocks array", initial)
	}

	for i, raw := range blocks {
		b, ok := raw.(map[string]any)
		if !ok {
			v.addf("Block at index %d must be an object", i)
			continue
		}
		v.block(b, ids)
	}

	for i, raw := range blocks {
		if b, ok := raw.(map[string]any); ok {
			v.references(i, b, ids)
		}
	}
}

func (v *validator) block(b map[string]any, ids map[string]int) {
	id, ok := str(b, "id")
	if !ok {
		v.addf("Each block must have an ID")
		return
	}
	if ids[id] > 1 {
		v.addf("Duplicate block ID: %s", id)
	}

	kind, ok := str(b, "type")
	if !ok {
		v.addf("Block %s must have a type", id)
		return
	}

	switch domain.Kind(kind) {
	case domain.KindMessage:
		if _, ok := str(b, "message"); !ok {
			v.addf("Block %s of type message must have a message property", id)
		}
	case domain.KindWait:
		if _, ok := str(b, "next"); !ok {
			v.addf("Block %s of type wait must have a next property", id)
		}
	case domain.KindDetectIntent:
		intents, ok := b["intents"].([]any)
		if !ok || len(intents) == 0 {
			v.addf("Block %s of type detect_intent must have a non-empty intents array", id)
		}
		for _, raw := range intents {
			in, _ := raw.(map[string]any)
			if _, ok := str(in, "intent"); !ok {
				v.addf("Intent in block %s must have an intent property", id)
			}
			if kw, ok := in["keywords"].([]any); !ok || len(kw) == 0 {
				v.addf("Intent in block %s must have a non-empty keywords array", id)
			}
			if _, ok := str(in, "next"); !ok {
				v.addf("Intent in block %s must have a next property", id)
			}
		}
		if _, ok := str(b, "fallback"); !ok {
			v.addf("Block %s of type detect_intent must have a fallback property", id)
		}
	default:
		v.addf("Unsupported block type: %s. Supported types are: %s", kind, supportedKinds())
	}
}

func (v *validator) references(index int, b map[string]any, ids map[string]int) {
	name, ok := str(b, "id")
	if !ok {
		name = fmt.Sprintf("at index %d", index)
	}

	if next, ok := str(b, "next"); ok && ids[next] == 0 {
		v.addf("Block %s references non-existent next block: %s", name, next)
	}
	if fb, ok := str(b, "fallback"); ok && ids[fb] == 0 {
		v.addf("Block %s references non-existent fallback block: %s", name, fb)
	}
	intents, _ := b["intents"].([]any)
	for _, raw := range intents {
		in, _ := raw.(map[string]any)
		if next, ok := str(in, "next"); ok && ids[next] == 0 {
			label, _ := str(in, "intent")
			v.addf("Intent %s in block %s references non-existent next block: %s", label, name, next)
		}
	}
}

// str returns a non-empty string field. Missing, empty and non-string values
// all count as absent.
func str(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok && s != ""
}

func supportedKinds() string {
	names := make([]string, len(domain.Kinds))
	for i, k := range domain.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
