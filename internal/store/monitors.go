package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// OpenMonitor creates the ACTIVE panel row for (user, mint). The partial
// unique index allows at most one; a second open returns the existing row.
func (s *Store) OpenMonitor(ctx context.Context, m *TradeMonitor) (*TradeMonitor, error) {
	if m.ExpiresAt.IsZero() {
		m.ExpiresAt = time.Now().Add(30 * time.Minute)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO trade_monitors
			(user_id, mint, chat_id, message_id, entry_price, current_price,
			 value_sol, pnl_percent, mcap_sol, liquidity_sol, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 RETURNING `+monitorColumns,
		m.UserID, m.Mint, m.ChatID, m.MessageID, m.EntryPrice, m.CurrentPrice,
		m.ValueSol, m.PnlPercent, m.McapSol, m.LiquiditySol, m.ExpiresAt,
	)
	created, err := scanMonitor(row)
	if err == nil {
		return created, nil
	}
	if !isUniqueViolation(err, "") {
		return nil, fmt.Errorf("open monitor: %w", err)
	}
	existing := s.pool.QueryRow(ctx,
		`SELECT `+monitorColumns+` FROM trade_monitors
		 WHERE user_id = $1 AND mint = $2 AND status = 'ACTIVE'`,
		m.UserID, m.Mint,
	)
	cur, err := scanMonitor(existing)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

// RefreshMonitor updates the panel's market snapshot and bumps the refresh
// counter.
func (s *Store) RefreshMonitor(ctx context.Context, id int64, price, valueSol, pnlPct, mcapSol, liqSol float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trade_monitors SET
			current_price = $2, value_sol = $3, pnl_percent = $4,
			mcap_sol = $5, liquidity_sol = $6,
			refreshed_at = now(), refresh_count = refresh_count + 1
		 WHERE id = $1 AND status = 'ACTIVE'`,
		id, price, valueSol, pnlPct, mcapSol, liqSol,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMonitorView switches the panel between its views.
func (s *Store) SetMonitorView(ctx context.Context, id int64, view string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE trade_monitors SET current_view = $2 WHERE id = $1`, id, view)
	return err
}

// CloseMonitor finalizes the panel, releasing the (user, mint) slot.
func (s *Store) CloseMonitor(ctx context.Context, userID int64, mint string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE trade_monitors SET status = 'CLOSED'
		 WHERE user_id = $1 AND mint = $2 AND status IN ('ACTIVE','PAUSED')`,
		userID, mint,
	)
	return err
}

// ActiveMonitor returns the live panel for (user, mint), if any.
func (s *Store) ActiveMonitor(ctx context.Context, userID int64, mint string) (*TradeMonitor, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+monitorColumns+` FROM trade_monitors
		 WHERE user_id = $1 AND mint = $2 AND status = 'ACTIVE'`,
		userID, mint,
	)
	m, err := scanMonitor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ExpireMonitors marks ACTIVE panels past their deadline as EXPIRED, freeing
// their slots.
func (s *Store) ExpireMonitors(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trade_monitors SET status = 'EXPIRED'
		 WHERE status = 'ACTIVE' AND expires_at <= now()`,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const monitorColumns = `id, user_id, mint, chat_id, message_id, entry_price, current_price,
	value_sol, pnl_percent, mcap_sol, liquidity_sol, status, current_view,
	expires_at, refreshed_at, refresh_count`

func scanMonitor(row pgx.Row) (*TradeMonitor, error) {
	var m TradeMonitor
	err := row.Scan(
		&m.ID, &m.UserID, &m.Mint, &m.ChatID, &m.MessageID, &m.EntryPrice,
		&m.CurrentPrice, &m.ValueSol, &m.PnlPercent, &m.McapSol, &m.LiquiditySol,
		&m.Status, &m.CurrentView, &m.ExpiresAt, &m.RefreshedAt, &m.RefreshCount,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
