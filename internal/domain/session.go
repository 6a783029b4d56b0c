package domain

import (
	"slices"
	"time"
)

// Direction tells who authored a transcript entry.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// TranscriptEntry is one message in a session's history.
type TranscriptEntry struct {
	Direction Direction `json:"direction"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	BlockID   string    `json:"blockId,omitempty"`
}

// Session tracks one end user's position in the flow and their transcript.
// The transcript is append-only.
type Session struct {
	SessionID      string            `json:"sessionId"`
	StartedAt      time.Time         `json:"startedAt"`
	LastActivity   time.Time         `json:"lastActivity"`
	CurrentBlockID string            `json:"currentBlockId,omitempty"`
	Messages       []TranscriptEntry `json:"messages"`
}

// NewSession creates an empty session started at now.
func NewSession(id string, now time.Time) *Session {
	return &Session{SessionID: id, StartedAt: now, LastActivity: now, Messages: []TranscriptEntry{}}
}

// Append adds a transcript entry and bumps LastActivity.
func (s *Session) Append(dir Direction, content, blockID string, at time.Time) {
	s.Messages = append(s.Messages, TranscriptEntry{Direction: dir, Content: content, Timestamp: at, BlockID: blockID})
	s.LastActivity = at
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = slices.Clone(s.Messages)
	if cp.Messages == nil {
		cp.Messages = []TranscriptEntry{}
	}
	return &cp
}

// SessionPage is one page of sessions ordered by most recent activity.
type SessionPage struct {
	Sessions      []*Session `json:"sessions"`
	TotalPages    int        `json:"totalPages"`
	CurrentPage   int        `json:"currentPage"`
	TotalSessions int        `json:"totalSessions"`
}

// NewSessionPage computes page bookkeeping for total items at the given limit.
func NewSessionPage(sessions []*Session, page, limit, total int) SessionPage {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	return SessionPage{Sessions: sessions, TotalPages: pages, CurrentPage: page, TotalSessions: total}
}
