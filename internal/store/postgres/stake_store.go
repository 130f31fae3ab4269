package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// StakeStore is the oracle's view of the staking ledger. It reads stakes
// for dispute weighting and applies finalized settlements exactly once per
// market.
type StakeStore struct {
	pool *pgxpool.Pool
}

// NewStakeStore creates a StakeStore.
func NewStakeStore(pool *pgxpool.Pool) *StakeStore {
	return &StakeStore{pool: pool}
}

// GetStake returns the stake for address or domain.ErrNotFound.
func (s *StakeStore) GetStake(ctx context.Context, address string) (domain.ReputationStake, error) {
	const query = `
		SELECT address, staked_amount::text, accuracy_score, tier, updated_at
		FROM reputation_stakes WHERE lower(address) = lower($1)`
	var st domain.ReputationStake
	var amount, tier string
	err := s.pool.QueryRow(ctx, query, address).Scan(&st.Address, &amount, &st.AccuracyScore, &tier, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ReputationStake{}, domain.ErrNotFound
		}
		return domain.ReputationStake{}, fmt.Errorf("postgres: get stake %s: %w", address, err)
	}
	if st.StakedAmount, err = decimal.NewFromString(amount); err != nil {
		return domain.ReputationStake{}, fmt.Errorf("postgres: parse stake %q: %w", amount, err)
	}
	st.Tier = domain.StakeTier(tier)
	return st, nil
}

// PutStake creates or replaces a stake row, deriving the tier from the
// amount. The staking subsystem and operator tooling use it to seed the
// ledger.
func (s *StakeStore) PutStake(ctx context.Context, st domain.ReputationStake) error {
	const query = `
		INSERT INTO reputation_stakes (address, staked_amount, accuracy_score, tier, updated_at)
		VALUES ($1, $2::numeric, $3, $4, NOW())
		ON CONFLICT (address) DO UPDATE SET
			staked_amount  = EXCLUDED.staked_amount,
			accuracy_score = EXCLUDED.accuracy_score,
			tier           = EXCLUDED.tier,
			updated_at     = NOW()`
	_, err := s.pool.Exec(ctx, query, st.Address, st.StakedAmount.String(), st.AccuracyScore, string(domain.TierFor(st.StakedAmount)))
	if err != nil {
		return fmt.Errorf("postgres: put stake %s: %w", st.Address, err)
	}
	return nil
}

// ApplySettlement debits slashed amounts, credits rewards and moves each
// voter's accuracy score by one (bounded 0-100) in a single transaction.
// A market already settled is skipped. Voter rows are locked first; if any
// balance is below its slash the transaction rolls back with
// domain.ErrStakeChanged.
func (s *StakeStore) ApplySettlement(ctx context.Context, st domain.Settlement) error {
	entries, err := json.Marshal(st.Entries)
	if err != nil {
		return fmt.Errorf("postgres: marshal settlement: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO dispute_settlements (market_id, final_outcome, slash_percent, slashed_pool, entries, finalized_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6)
			ON CONFLICT (market_id) DO NOTHING`,
			st.MarketID, int16(st.FinalOutcome), st.SlashPercent.String(), st.SlashedPool.String(), entries, st.FinalizedAt)
		if err != nil {
			return fmt.Errorf("postgres: record settlement %s: %w", st.MarketID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		for _, e := range st.Entries {
			var amount string
			err := tx.QueryRow(ctx,
				`SELECT staked_amount::text FROM reputation_stakes WHERE lower(address) = lower($1) FOR UPDATE`,
				e.Voter).Scan(&amount)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("postgres: settle %s: voter %s: %w", st.MarketID, e.Voter, domain.ErrNotFound)
				}
				return fmt.Errorf("postgres: settle %s: lock voter %s: %w", st.MarketID, e.Voter, err)
			}
			current, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("postgres: parse stake %q: %w", amount, err)
			}
			if current.LessThan(e.Slashed) {
				return fmt.Errorf("postgres: settle %s: voter %s holds %s, slash %s: %w",
					st.MarketID, e.Voter, current, e.Slashed, domain.ErrStakeChanged)
			}
		}

		for _, e := range st.Entries {
			delta := e.Reward.Sub(e.Slashed)
			step := -1
			if e.Correct {
				step = 1
			}
			var amount string
			err := tx.QueryRow(ctx, `
				UPDATE reputation_stakes SET
					staked_amount  = staked_amount + $2::numeric,
					accuracy_score = LEAST(100, GREATEST(0, accuracy_score + $3)),
					updated_at     = NOW()
				WHERE lower(address) = lower($1)
				RETURNING staked_amount::text`,
				e.Voter, delta.String(), step).Scan(&amount)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("postgres: settle %s: voter %s: %w", st.MarketID, e.Voter, domain.ErrNotFound)
				}
				return fmt.Errorf("postgres: settle %s: voter %s: %w", st.MarketID, e.Voter, err)
			}
			after, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("postgres: parse stake %q: %w", amount, err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE reputation_stakes SET tier = $2 WHERE lower(address) = lower($1)`,
				e.Voter, string(domain.TierFor(after))); err != nil {
				return fmt.Errorf("postgres: update tier %s: %w", e.Voter, err)
			}
		}
		return nil
	})
}

var (
	_ domain.StakeLedger  = (*StakeStore)(nil)
	_ domain.StakeSlasher = (*StakeStore)(nil)
)
