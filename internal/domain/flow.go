package domain

import (
	"encoding/json"
	"time"
)

// DefaultFlowVersion is stamped on flows saved without a metadata version.
const DefaultFlowVersion = "1.0"

// Metadata is free-form descriptive data attached to a flow.
type Metadata struct {
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// IsZero reports whether no metadata was supplied.
func (m Metadata) IsZero() bool {
	return m.Version == "" && m.Description == ""
}

// Flow is a validated conversational graph plus its persistence fields.
// A Flow is read-only once built and safe to share between goroutines.
type Flow struct {
	ID           string    `json:"id,omitempty"`
	Blocks       Blocks    `json:"blocks"`
	InitialBlock string    `json:"initialBlock"`
	Metadata     Metadata  `json:"metadata"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero"`

	index map[string]Block
}

// NewFlow builds a flow and indexes its blocks by id. When ids repeat the
// first occurrence wins.
func NewFlow(blocks Blocks, initialBlock string, meta Metadata) *Flow {
	f := &Flow{Blocks: blocks, InitialBlock: initialBlock, Metadata: meta}
	f.reindex()
	return f
}

func (f *Flow) reindex() {
	f.index = make(map[string]Block, len(f.Blocks))
	for _, b := range f.Blocks {
		if _, dup := f.index[b.BlockID()]; !dup {
			f.index[b.BlockID()] = b
		}
	}
}

// Lookup resolves a block by id.
func (f *Flow) Lookup(id string) (Block, bool) {
	if id == "" {
		return nil, false
	}
	b, ok := f.index[id]
	return b, ok
}

// Initial resolves the flow's entry block.
func (f *Flow) Initial() (Block, bool) {
	return f.Lookup(f.InitialBlock)
}

// Len returns the number of blocks.
func (f *Flow) Len() int { return len(f.Blocks) }

// WithRecord returns a copy carrying persistence fields. Blocks are shared.
func (f *Flow) WithRecord(id string, createdAt, updatedAt time.Time) *Flow {
	cp := *f
	cp.ID = id
	cp.CreatedAt = createdAt
	cp.UpdatedAt = updatedAt
	return &cp
}

func (f *Flow) UnmarshalJSON(data []byte) error {
	type plain Flow
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = Flow(p)
	f.reindex()
	return nil
}

// MergeRecord prepares next for storage as the single active flow. An
// existing record keeps its id and creation time; empty metadata keeps the
// previous metadata; a missing version defaults to DefaultFlowVersion.
func MergeRecord(prev, next *Flow, newID string, now time.Time) *Flow {
	id, created := newID, now
	meta := next.Metadata
	if prev != nil {
		id, created = prev.ID, prev.CreatedAt
		if meta.IsZero() {
			meta = prev.Metadata
		}
	}
	if meta.Version == "" {
		meta.Version = DefaultFlowVersion
	}
	rec := next.WithRecord(id, created, now)
	rec.Metadata = meta
	return rec
}
