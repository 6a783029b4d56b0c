package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/flowbot/internal/domain"
	"github.com/soyeahso/flowbot/internal/flow"
)

// FlowStore implements flow.ConfigStore on top of a DB. It keeps a single
// active record that every save updates in place.
type FlowStore struct {
	db  *DB
	now func() time.Time
}

var _ flow.ConfigStore = (*FlowStore)(nil)

// NewFlowStore creates a flow store using the given database.
func NewFlowStore(db *DB) *FlowStore {
	return &FlowStore{db: db, now: time.Now}
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *FlowStore) SaveFlow(ctx context.Context, f *domain.Flow) (*domain.Flow, error) {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save flow: %w", err)
	}
	defer tx.Rollback()

	prev, err := s.latest(ctx, tx)
	if err != nil && !errors.Is(err, domain.ErrNoFlow) {
		return nil, err
	}
	rec := domain.MergeRecord(prev, f, uuid.NewString(), s.now().UTC())

	blocks, err := json.Marshal(rec.Blocks)
	if err != nil {
		return nil, fmt.Errorf("encode blocks: %w", err)
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.db.rebind(
		`INSERT INTO flows (id, blocks, initial_block, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   blocks = excluded.blocks,
		   initial_block = excluded.initial_block,
		   metadata = excluded.metadata,
		   updated_at = excluded.updated_at`),
		rec.ID, string(blocks), rec.InitialBlock, string(meta),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	); err != nil {
		return nil, fmt.Errorf("upsert flow %s: %w", rec.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit flow %s: %w", rec.ID, err)
	}
	s.db.log.Info().Str("flow", rec.ID).Int("blocks", rec.Len()).Msg("flow saved")
	return rec, nil
}

func (s *FlowStore) ActiveFlow(ctx context.Context) (*domain.Flow, error) {
	return s.latest(ctx, s.db.sql)
}

func (s *FlowStore) latest(ctx context.Context, q queryRower) (*domain.Flow, error) {
	var id, blocksJSON, initial, metaJSON, createdAt, updatedAt string
	err := q.QueryRowContext(ctx,
		`SELECT id, blocks, initial_block, metadata, created_at, updated_at
		 FROM flows ORDER BY updated_at DESC LIMIT 1`,
	).Scan(&id, &blocksJSON, &initial, &metaJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoFlow
	}
	if err != nil {
		return nil, fmt.Errorf("query active flow: %w", err)
	}

	var blocks domain.Blocks
	if err := json.Unmarshal([]byte(blocksJSON), &blocks); err != nil {
		return nil, fmt.Errorf("decode blocks of flow %s: %w", id, err)
	}
	var meta domain.Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata of flow %s: %w", id, err)
	}
	return domain.NewFlow(blocks, initial, meta).WithRecord(id, parseTime(createdAt), parseTime(updatedAt)), nil
}
