package store

import (
	"context"
	"time"
)

// SetCooldown upserts a cooldown; a later until wins, an earlier one is kept.
func (s *Store) SetCooldown(ctx context.Context, chain Chain, kind CooldownKind, target string, until time.Time, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cooldowns (chain, kind, target, cooldown_until, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (chain, kind, target) DO UPDATE SET
			cooldown_until = GREATEST(cooldowns.cooldown_until, EXCLUDED.cooldown_until),
			reason = EXCLUDED.reason`,
		chain, kind, target, until, reason,
	)
	return err
}

// OnCooldown reports whether a target is currently suppressed.
func (s *Store) OnCooldown(ctx context.Context, chain Chain, kind CooldownKind, target string) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM cooldowns
			WHERE chain = $1 AND kind = $2 AND target = $3 AND cooldown_until > now())`,
		chain, kind, target,
	).Scan(&active)
	return active, err
}

// ReapCooldowns deletes expired rows.
func (s *Store) ReapCooldowns(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cooldowns WHERE cooldown_until <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
