package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// ActionStore implements domain.ActionStore using PostgreSQL.
type ActionStore struct {
	pool *pgxpool.Pool
}

// NewActionStore creates a new ActionStore backed by the given connection pool.
func NewActionStore(pool *pgxpool.Pool) *ActionStore {
	return &ActionStore{pool: pool}
}

const actionSelectCols = `id, cycle_id, kind, status, pool, borrower, tx_hash, detail, created_at`

func scanActionRows(rows pgx.Rows) ([]domain.LiquidationAction, error) {
	var actions []domain.LiquidationAction
	for rows.Next() {
		var (
			a      domain.LiquidationAction
			detail []byte
		)
		if err := rows.Scan(
			&a.ID, &a.CycleID, &a.Kind, &a.Status,
			&a.Pool, &a.Borrower, &a.TxHash, &detail, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &a.Detail); err != nil {
				return nil, fmt.Errorf("decode detail for action %d: %w", a.ID, err)
			}
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Record inserts one action row.
func (s *ActionStore) Record(ctx context.Context, a domain.LiquidationAction) error {
	detail, err := json.Marshal(a.Detail)
	if err != nil {
		return fmt.Errorf("postgres: encode action detail: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO liquidation_actions (
			cycle_id, kind, status, pool, borrower, tx_hash, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, query,
		a.CycleID, a.Kind, a.Status, a.Pool, a.Borrower, a.TxHash, detail, a.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: record action: %w", err)
	}
	return nil
}

// List returns actions newest first with pagination and optional filtering.
func (s *ActionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.LiquidationAction, error) {
	query := `SELECT ` + actionSelectCols + ` FROM liquidation_actions WHERE 1=1`
	var args []any
	argIdx := 1

	if opts.Pool != "" {
		query += fmt.Sprintf(" AND pool = $%d", argIdx)
		args = append(args, opts.Pool)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list actions: %w", err)
	}
	defer rows.Close()

	actions, err := scanActionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan actions: %w", err)
	}
	return actions, nil
}

// ListBefore returns actions created before the cutoff, oldest first, capped
// at limit rows (no cap when limit <= 0). Used by the cold-storage archiver.
func (s *ActionStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.LiquidationAction, error) {
	query := `SELECT ` + actionSelectCols + ` FROM liquidation_actions WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list actions before: %w", err)
	}
	defer rows.Close()
	return scanActionRows(rows)
}

// DeleteBefore deletes actions created before the cutoff. Returns the number
// of rows deleted.
func (s *ActionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM liquidation_actions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete actions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.ActionStore = (*ActionStore)(nil)
