package submission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const batchColumns = `id, alias, study, state, test, artifact, checksum, samples, line_index,
	external_id, outcome, created_at, updated_at`

type batchRepoPG struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo returns the history repository backed by PostgreSQL.
func NewPostgresRepo(pool *pgxpool.Pool) BatchRepository {
	return &batchRepoPG{pool: pool}
}

func (r *batchRepoPG) Create(ctx context.Context, b *Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	enc, err := encodeBatch(b)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO submission_batches (`+batchColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			b.ID, b.Alias, b.Study, string(b.State), b.Test, b.Artifact, b.Checksum,
			enc.samples, enc.index, b.ExternalID, enc.outcome, b.CreatedAt, b.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		return insertTransitionsPG(ctx, tx, b)
	})
}

func (r *batchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := scanBatchPG(r.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM submission_batches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT from_state, to_state, at FROM submission_transitions
		WHERE batch_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t Transition
		var from, to string
		if err := rows.Scan(&from, &to, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From, t.To = State(from), State(to)
		b.Transitions = append(b.Transitions, t)
	}
	return b, rows.Err()
}

func (r *batchRepoPG) Update(ctx context.Context, b *Batch, from State) error {
	enc, err := encodeBatch(b)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE submission_batches SET
				state = $2, external_id = $3, outcome = $4, updated_at = $5
			WHERE id = $1 AND state = $6`,
			b.ID, string(b.State), b.ExternalID, enc.outcome, b.UpdatedAt, string(from),
		)
		if err != nil {
			return fmt.Errorf("update batch: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM submission_batches WHERE id = $1)`, b.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check batch: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrStateConflict
		}
		return insertTransitionsPG(ctx, tx, b)
	})
}

// List returns batches newest first, without their transitions.
func (r *batchRepoPG) List(ctx context.Context, limit, offset int) ([]*Batch, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM submission_batches`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM submission_batches ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	batches := []*Batch{}
	for rows.Next() {
		b, err := scanBatchPG(rows)
		if err != nil {
			return nil, 0, err
		}
		batches = append(batches, b)
	}
	return batches, total, rows.Err()
}

func insertTransitionsPG(ctx context.Context, tx pgx.Tx, b *Batch) error {
	for i, t := range b.Transitions {
		_, err := tx.Exec(ctx, `
			INSERT INTO submission_transitions (batch_id, seq, from_state, to_state, at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (batch_id, seq) DO NOTHING`,
			b.ID, i+1, string(t.From), string(t.To), t.At,
		)
		if err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
	}
	return nil
}

func scanBatchPG(row pgx.Row) (*Batch, error) {
	var b Batch
	var state string
	var enc encodedBatch
	err := row.Scan(
		&b.ID, &b.Alias, &b.Study, &state, &b.Test, &b.Artifact, &b.Checksum,
		&enc.samples, &enc.index, &b.ExternalID, &enc.outcome, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.State = State(state)
	if err := enc.decodeInto(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
