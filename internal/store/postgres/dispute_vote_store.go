package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// DisputeVoteStore implements domain.DisputeVoteStore. The (market_id,
// voter) primary key enforces one immutable vote per voter.
type DisputeVoteStore struct {
	pool *pgxpool.Pool
}

// NewDisputeVoteStore creates a DisputeVoteStore.
func NewDisputeVoteStore(pool *pgxpool.Pool) *DisputeVoteStore {
	return &DisputeVoteStore{pool: pool}
}

// Insert stores v or returns domain.ErrAlreadyVoted.
func (s *DisputeVoteStore) Insert(ctx context.Context, v domain.DisputeVote) error {
	const query = `
		INSERT INTO dispute_votes (market_id, voter, staked_amount, stake_weight, choice, signature, cast_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		v.MarketID, v.Voter, v.StakedAmount.String(), v.StakeWeight, int16(v.Choice), v.Signature, v.CastAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyVoted
		}
		return fmt.Errorf("postgres: insert dispute vote %s/%s: %w", v.MarketID, v.Voter, err)
	}
	return nil
}

// ListByMarket returns every vote cast on marketID in cast order.
func (s *DisputeVoteStore) ListByMarket(ctx context.Context, marketID string) ([]domain.DisputeVote, error) {
	const query = `
		SELECT market_id, voter, staked_amount::text, stake_weight, choice, signature, cast_at
		FROM dispute_votes WHERE market_id = $1 ORDER BY cast_at, voter`
	rows, err := s.pool.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list dispute votes %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.DisputeVote
	for rows.Next() {
		var v domain.DisputeVote
		var staked string
		var choice int16
		if err := rows.Scan(&v.MarketID, &v.Voter, &staked, &v.StakeWeight, &choice, &v.Signature, &v.CastAt); err != nil {
			return nil, fmt.Errorf("postgres: scan dispute vote: %w", err)
		}
		if v.StakedAmount, err = decimal.NewFromString(staked); err != nil {
			return nil, fmt.Errorf("postgres: parse stake %q: %w", staked, err)
		}
		v.Choice = domain.Outcome(choice)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list dispute votes rows: %w", err)
	}
	return out, nil
}

var _ domain.DisputeVoteStore = (*DisputeVoteStore)(nil)
