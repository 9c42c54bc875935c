package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertCandidate records a discovery event. Duplicate (chain, source, mint)
// observations return the existing row with inserted=false.
func (s *Store) InsertCandidate(ctx context.Context, c *LaunchCandidate) (*LaunchCandidate, bool, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO launch_candidates
			(chain, source, token_mint, name, symbol, score, deployer, bonding_curve, initial_liq_sol, raw)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (chain, source, token_mint) DO NOTHING
		 RETURNING `+candidateColumns,
		c.Chain, c.Source, c.TokenMint, c.Name, c.Symbol, c.Score,
		c.Deployer, c.BondingCurve, c.InitialLiqSol, c.Raw,
	)
	inserted, err := scanCandidate(row)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert candidate: %w", err)
	}
	existing := s.pool.QueryRow(ctx,
		`SELECT `+candidateColumns+` FROM launch_candidates
		 WHERE chain = $1 AND source = $2 AND token_mint = $3`,
		c.Chain, c.Source, c.TokenMint,
	)
	cur, err := scanCandidate(existing)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

// PendingCandidates returns unexamined candidates oldest-first, capped at limit.
func (s *Store) PendingCandidates(ctx context.Context, chain Chain, limit int) ([]*LaunchCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM launch_candidates
		 WHERE chain = $1 AND status = 'new'
		 ORDER BY first_seen_at
		 LIMIT $2`,
		chain, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LaunchCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCandidateStatus finalizes a candidate's disposition.
func (s *Store) SetCandidateStatus(ctx context.Context, id int64, status CandidateStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE launch_candidates SET status = $2 WHERE id = $1 AND status = 'new'`,
		id, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("candidate %d -> %s: %w", id, status, ErrInvalidTransition)
	}
	return nil
}

// ExpireCandidates marks 'new' rows past maxAge as expired so the consumer
// never acts on stale launches.
func (s *Store) ExpireCandidates(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE launch_candidates SET status = 'expired'
		 WHERE status = 'new' AND first_seen_at < now() - $1::interval`,
		maxAge,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const candidateColumns = `id, chain, source, token_mint, name, symbol, score, deployer,
	bonding_curve, initial_liq_sol, raw, status, first_seen_at`

func scanCandidate(row pgx.Row) (*LaunchCandidate, error) {
	var c LaunchCandidate
	err := row.Scan(
		&c.ID, &c.Chain, &c.Source, &c.TokenMint, &c.Name, &c.Symbol, &c.Score,
		&c.Deployer, &c.BondingCurve, &c.InitialLiqSol, &c.Raw, &c.Status, &c.FirstSeenAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
