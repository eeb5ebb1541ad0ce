package submission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type batchRepoSQLite struct {
	db *sql.DB
}

// NewSQLiteRepo returns the history repository backed by a sqlite file,
// opened with db.OpenSQLite and migrated from db.SQLiteDir.
func NewSQLiteRepo(db *sql.DB) BatchRepository {
	return &batchRepoSQLite{db: db}
}

// sqliteTimeFormat is fixed width so that timestamps sort as text.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func sqliteTime(t time.Time) string { return t.UTC().Format(sqliteTimeFormat) }

func (r *batchRepoSQLite) Create(ctx context.Context, b *Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	enc, err := encodeBatch(b)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO submission_batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.Alias, b.Study, string(b.State), b.Test, b.Artifact, b.Checksum,
		string(enc.samples), string(enc.index), b.ExternalID, nullableJSON(enc.outcome),
		sqliteTime(b.CreatedAt), sqliteTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if err := insertTransitionsSQLite(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *batchRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := scanBatchSQLite(r.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM submission_batches WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT from_state, to_state, at FROM submission_transitions
		WHERE batch_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var from, to, at string
		if err := rows.Scan(&from, &to, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		ts, err := time.Parse(sqliteTimeFormat, at)
		if err != nil {
			return nil, fmt.Errorf("parse transition time: %w", err)
		}
		b.Transitions = append(b.Transitions, Transition{From: State(from), To: State(to), At: ts})
	}
	return b, rows.Err()
}

func (r *batchRepoSQLite) Update(ctx context.Context, b *Batch, from State) error {
	enc, err := encodeBatch(b)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE submission_batches SET
			state = ?, external_id = ?, outcome = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(b.State), b.ExternalID, nullableJSON(enc.outcome), sqliteTime(b.UpdatedAt), b.ID.String(), string(from),
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM submission_batches WHERE id = ?`, b.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("check batch: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrStateConflict
	}
	if err := insertTransitionsSQLite(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit()
}

// List returns batches newest first, without their transitions.
func (r *batchRepoSQLite) List(ctx context.Context, limit, offset int) ([]*Batch, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submission_batches`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM submission_batches ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	batches := []*Batch{}
	for rows.Next() {
		b, err := scanBatchSQLite(rows)
		if err != nil {
			return nil, 0, err
		}
		batches = append(batches, b)
	}
	return batches, total, rows.Err()
}

func insertTransitionsSQLite(ctx context.Context, tx *sql.Tx, b *Batch) error {
	for i, t := range b.Transitions {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO submission_transitions (batch_id, seq, from_state, to_state, at)
			VALUES (?, ?, ?, ?, ?)`,
			b.ID.String(), i+1, string(t.From), string(t.To), sqliteTime(t.At),
		)
		if err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
	}
	return nil
}

func nullableJSON(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatchSQLite(row rowScanner) (*Batch, error) {
	var b Batch
	var id, state, samples, index, created, updated string
	var outcome sql.NullString
	err := row.Scan(
		&id, &b.Alias, &b.Study, &state, &b.Test, &b.Artifact, &b.Checksum,
		&samples, &index, &b.ExternalID, &outcome, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse batch id %q: %w", id, err)
	}
	if b.CreatedAt, err = time.Parse(sqliteTimeFormat, created); err != nil {
		return nil, fmt.Errorf("parse created_at of batch %s: %w", id, err)
	}
	if b.UpdatedAt, err = time.Parse(sqliteTimeFormat, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at of batch %s: %w", id, err)
	}
	b.State = State(state)

	enc := encodedBatch{samples: []byte(samples), index: []byte(index)}
	if outcome.Valid {
		enc.outcome = []byte(outcome.String)
	}
	if err := enc.decodeInto(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
