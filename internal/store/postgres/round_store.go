package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// RoundStore implements domain.RoundStore over consensus_rounds.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a RoundStore.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

// Record inserts rec. Recording the same round twice is a no-op.
func (s *RoundStore) Record(ctx context.Context, rec domain.RoundRecord) error {
	votes, err := json.Marshal(rec.Votes)
	if err != nil {
		return fmt.Errorf("postgres: marshal round votes: %w", err)
	}
	const query = `
		INSERT INTO consensus_rounds (
			round_id, market_id, question, accepted, outcome, confidence,
			consensus_count, total_models, threshold, votes, reason, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (round_id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		rec.RoundID, rec.MarketID, rec.Question, rec.Accepted, int16(rec.Outcome), rec.Confidence,
		rec.ConsensusCount, rec.TotalModels, rec.Threshold, votes, rec.Reason, rec.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record round %s: %w", rec.RoundID, err)
	}
	return nil
}

// ListByMarket returns the rounds for marketID, newest first.
func (s *RoundStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.RoundRecord, error) {
	query, args := withListOpts(`
		SELECT round_id::text, market_id, question, accepted, outcome, confidence,
		       consensus_count, total_models, threshold, votes, reason, computed_at
		FROM consensus_rounds WHERE market_id = $1`,
		[]any{marketID}, opts, "computed_at", "computed_at DESC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds for %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.RoundRecord
	for rows.Next() {
		var r domain.RoundRecord
		var outcome int16
		var votes []byte
		if err := rows.Scan(&r.RoundID, &r.MarketID, &r.Question, &r.Accepted, &outcome, &r.Confidence,
			&r.ConsensusCount, &r.TotalModels, &r.Threshold, &votes, &r.Reason, &r.ComputedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		r.Outcome = domain.Outcome(outcome)
		if err := json.Unmarshal(votes, &r.Votes); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal round votes %s: %w", r.RoundID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rounds rows: %w", err)
	}
	return out, nil
}

var _ domain.RoundStore = (*RoundStore)(nil)
