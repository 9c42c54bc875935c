package store

import (
	"context"
	"time"
)

// GetSafetyControls reads the GLOBAL safety row.
func (s *Store) GetSafetyControls(ctx context.Context) (*SafetyControls, error) {
	var sc SafetyControls
	err := s.pool.QueryRow(ctx,
		`SELECT scope, trading_paused, circuit_open_until, updated_at
		 FROM safety_controls WHERE scope = 'GLOBAL'`,
	).Scan(&sc.Scope, &sc.TradingPaused, &sc.CircuitOpenUntil, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// SetTradingPaused flips the global pause switch.
func (s *Store) SetTradingPaused(ctx context.Context, paused bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE safety_controls SET trading_paused = $1, updated_at = now()
		 WHERE scope = 'GLOBAL'`,
		paused,
	)
	return err
}

// OpenCircuit blocks new trades until the deadline. Any worker can trip it;
// all workers see it through the budget gate.
func (s *Store) OpenCircuit(ctx context.Context, until time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE safety_controls SET circuit_open_until = $1, updated_at = now()
		 WHERE scope = 'GLOBAL'`,
		until,
	)
	return err
}

// CloseCircuit clears an open circuit ahead of its deadline.
func (s *Store) CloseCircuit(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE safety_controls SET circuit_open_until = NULL, updated_at = now()
		 WHERE scope = 'GLOBAL'`,
	)
	return err
}
