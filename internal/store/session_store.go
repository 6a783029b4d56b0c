package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soyeahso/flowbot/internal/domain"
	"github.com/soyeahso/flowbot/internal/flow"
)

// SessionStore implements flow.SessionStore on top of a DB. The transcript
// is append-only: Save inserts only entries beyond those already stored.
type SessionStore struct {
	db *DB
}

var _ flow.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	var startedAt, lastActivity string
	err := s.db.sql.QueryRowContext(ctx, s.db.rebind(
		`SELECT session_id, started_at, last_activity, current_block_id
		 FROM sessions WHERE session_id = ?`), id,
	).Scan(&sess.SessionID, &startedAt, &lastActivity, &sess.CurrentBlockID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session %s: %w", id, err)
	}
	sess.StartedAt = parseTime(startedAt)
	sess.LastActivity = parseTime(lastActivity)

	sess.Messages, err = s.messages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) messages(ctx context.Context, id string) ([]domain.TranscriptEntry, error) {
	rows, err := s.db.sql.QueryContext(ctx, s.db.rebind(
		`SELECT direction, content, timestamp, block_id
		 FROM session_messages WHERE session_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("query transcript %s: %w", id, err)
	}
	defer rows.Close()

	out := []domain.TranscriptEntry{}
	for rows.Next() {
		var e domain.TranscriptEntry
		var dir, ts string
		if err := rows.Scan(&dir, &e.Content, &ts, &e.BlockID); err != nil {
			return nil, fmt.Errorf("scan transcript %s: %w", id, err)
		}
		e.Direction = domain.Direction(dir)
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SessionStore) Save(ctx context.Context, sess *domain.Session) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.rebind(
		`INSERT INTO sessions (session_id, started_at, last_activity, current_block_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET
		   last_activity = excluded.last_activity,
		   current_block_id = excluded.current_block_id`),
		sess.SessionID, formatTime(sess.StartedAt), formatTime(sess.LastActivity), sess.CurrentBlockID,
	); err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.SessionID, err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx, s.db.rebind(
		`SELECT COUNT(*) FROM session_messages WHERE session_id = ?`), sess.SessionID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("count transcript %s: %w", sess.SessionID, err)
	}
	if stored > len(sess.Messages) {
		return fmt.Errorf("save session %s: transcript has %d stored entries, snapshot has %d",
			sess.SessionID, stored, len(sess.Messages))
	}

	insert := s.db.rebind(
		`INSERT INTO session_messages (session_id, seq, direction, content, timestamp, block_id)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	for i, e := range sess.Messages[stored:] {
		if _, err := tx.ExecContext(ctx, insert,
			sess.SessionID, stored+i, string(e.Direction), e.Content, formatTime(e.Timestamp), e.BlockID,
		); err != nil {
			return fmt.Errorf("append transcript %s: %w", sess.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", sess.SessionID, err)
	}
	return nil
}

func (s *SessionStore) List(ctx context.Context, page, limit int) (domain.SessionPage, error) {
	page, limit = flow.NormalizePage(page, limit)

	var total int
	if err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return domain.SessionPage{}, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := s.db.sql.QueryContext(ctx, s.db.rebind(
		`SELECT session_id FROM sessions
		 ORDER BY last_activity DESC, session_id
		 LIMIT ? OFFSET ?`), limit, (page-1)*limit)
	if err != nil {
		return domain.SessionPage{}, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return domain.SessionPage{}, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.SessionPage{}, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return domain.SessionPage{}, err
		}
		sessions = append(sessions, sess)
	}
	return domain.NewSessionPage(sessions, page, limit, total), nil
}
