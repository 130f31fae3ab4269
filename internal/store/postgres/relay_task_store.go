package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// RelayTaskStore journals relay tasks so operators can trace every task
// id issued for a market.
type RelayTaskStore struct {
	pool *pgxpool.Pool
}

// NewRelayTaskStore creates a RelayTaskStore.
func NewRelayTaskStore(pool *pgxpool.Pool) *RelayTaskStore {
	return &RelayTaskStore{pool: pool}
}

// Save inserts a task or updates its status fields. created_at keeps its
// first value.
func (s *RelayTaskStore) Save(ctx context.Context, t domain.RelayTask) error {
	const query = `
		INSERT INTO relay_tasks (task_id, market_id, target_contract, payload, status, tx_hash, last_check_msg, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO UPDATE SET
			status         = EXCLUDED.status,
			tx_hash        = EXCLUDED.tx_hash,
			last_check_msg = EXCLUDED.last_check_msg,
			updated_at     = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		t.TaskID, t.MarketID, t.TargetContract, t.Payload, string(t.Status), t.TxHash, t.LastCheckMsg, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save relay task %s: %w", t.TaskID, err)
	}
	return nil
}

// ListByMarket returns the tasks for marketID in creation order.
func (s *RelayTaskStore) ListByMarket(ctx context.Context, marketID string) ([]domain.RelayTask, error) {
	const query = `
		SELECT task_id, market_id, target_contract, payload, status, tx_hash, last_check_msg, created_at, updated_at
		FROM relay_tasks WHERE market_id = $1 ORDER BY created_at, task_id`
	rows, err := s.pool.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list relay tasks %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.RelayTask
	for rows.Next() {
		var t domain.RelayTask
		var status string
		if err := rows.Scan(&t.TaskID, &t.MarketID, &t.TargetContract, &t.Payload, &status,
			&t.TxHash, &t.LastCheckMsg, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan relay task: %w", err)
		}
		t.Status = domain.RelayStatus(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list relay tasks rows: %w", err)
	}
	return out, nil
}

var _ domain.RelayTaskStore = (*RelayTaskStore)(nil)
