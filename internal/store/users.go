package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EnsureUser creates a user for chatID if absent and returns the row.
func (s *Store) EnsureUser(ctx context.Context, chatID int64) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (chat_id) VALUES ($1)
		 ON CONFLICT (chat_id) DO UPDATE SET chat_id = EXCLUDED.chat_id
		 RETURNING id, chat_id, slippage_bps, priority_fee_sol, anti_mev, created_at`,
		chatID,
	).Scan(&u.ID, &u.ChatID, &u.SlippageBps, &u.PriorityFee, &u.AntiMEV, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &u, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, slippage_bps, priority_fee_sol, anti_mev, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.ChatID, &u.SlippageBps, &u.PriorityFee, &u.AntiMEV, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateWallet stores an encrypted wallet. Making it active deactivates the
// previous active wallet in the same transaction so the partial unique index
// never rejects the insert.
func (s *Store) CreateWallet(ctx context.Context, w *Wallet) (*Wallet, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if w.IsActive {
			if _, err := tx.Exec(ctx,
				`UPDATE wallets SET is_active = FALSE
				 WHERE user_id = $1 AND chain = $2 AND is_active`,
				w.UserID, w.Chain); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx,
			`INSERT INTO wallets (user_id, chain, wallet_index, label, address, encrypted_key, is_active)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)
			 RETURNING id, created_at`,
			w.UserID, w.Chain, w.WalletIndex, w.Label, w.Address, w.EncryptedKey, w.IsActive,
		).Scan(&w.ID, &w.CreatedAt)
	})
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, fmt.Errorf("wallet slot %d taken: %w", w.WalletIndex, err)
		}
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return w, nil
}

// ActiveWallet returns the user's active wallet on a chain.
func (s *Store) ActiveWallet(ctx context.Context, userID int64, chain Chain) (*Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets
		 WHERE user_id = $1 AND chain = $2 AND is_active`,
		userID, chain,
	)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// SetActiveWallet switches the active wallet atomically.
func (s *Store) SetActiveWallet(ctx context.Context, userID int64, chain Chain, walletIndex int) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE wallets SET is_active = FALSE
			 WHERE user_id = $1 AND chain = $2 AND is_active`,
			userID, chain); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE wallets SET is_active = TRUE
			 WHERE user_id = $1 AND chain = $2 AND wallet_index = $3`,
			userID, chain, walletIndex)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteWallet removes a wallet slot. If it was active the lowest remaining
// slot is promoted.
func (s *Store) DeleteWallet(ctx context.Context, userID int64, chain Chain, walletIndex int) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var wasActive bool
		err := tx.QueryRow(ctx,
			`DELETE FROM wallets
			 WHERE user_id = $1 AND chain = $2 AND wallet_index = $3
			 RETURNING is_active`,
			userID, chain, walletIndex,
		).Scan(&wasActive)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !wasActive {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE wallets SET is_active = TRUE
			 WHERE id = (
				SELECT id FROM wallets
				WHERE user_id = $1 AND chain = $2
				ORDER BY wallet_index LIMIT 1
			 )`,
			userID, chain)
		return err
	})
}

// UpsertStrategy writes the (user, kind, chain) strategy row.
func (s *Store) UpsertStrategy(ctx context.Context, st *Strategy) (*Strategy, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO strategies
			(user_id, chain, kind, enabled, auto_execute, risk_profile, max_positions,
			 per_trade_cap_sol, daily_cap_sol, max_open_exposure_sol, slippage_bps,
			 priority_fee_sol, take_profit_percent, stop_loss_percent, max_hold_minutes,
			 trailing_enabled, trail_activation_pct, trail_distance_pct, moon_bag_percent,
			 min_score, launchpads, cooldown_seconds, allow_list, deny_list, snipe_mode, filter_mode)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		 ON CONFLICT (user_id, kind, chain) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			auto_execute = EXCLUDED.auto_execute,
			risk_profile = EXCLUDED.risk_profile,
			max_positions = EXCLUDED.max_positions,
			per_trade_cap_sol = EXCLUDED.per_trade_cap_sol,
			daily_cap_sol = EXCLUDED.daily_cap_sol,
			max_open_exposure_sol = EXCLUDED.max_open_exposure_sol,
			slippage_bps = EXCLUDED.slippage_bps,
			priority_fee_sol = EXCLUDED.priority_fee_sol,
			take_profit_percent = EXCLUDED.take_profit_percent,
			stop_loss_percent = EXCLUDED.stop_loss_percent,
			max_hold_minutes = EXCLUDED.max_hold_minutes,
			trailing_enabled = EXCLUDED.trailing_enabled,
			trail_activation_pct = EXCLUDED.trail_activation_pct,
			trail_distance_pct = EXCLUDED.trail_distance_pct,
			moon_bag_percent = EXCLUDED.moon_bag_percent,
			min_score = EXCLUDED.min_score,
			launchpads = EXCLUDED.launchpads,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			allow_list = EXCLUDED.allow_list,
			deny_list = EXCLUDED.deny_list,
			snipe_mode = EXCLUDED.snipe_mode,
			filter_mode = EXCLUDED.filter_mode,
			updated_at = now()
		 RETURNING `+strategyColumns,
		st.UserID, st.Chain, st.Kind, st.Enabled, st.AutoExecute, st.RiskProfile,
		st.MaxPositions, st.PerTradeCapSol, st.DailyCapSol, st.MaxOpenExposureSol,
		st.SlippageBps, st.PriorityFeeSol, st.TakeProfitPercent, st.StopLossPercent,
		st.MaxHoldMinutes, st.TrailingEnabled, st.TrailActivationPct, st.TrailDistancePct,
		st.MoonBagPercent, st.MinScore, st.Launchpads, st.CooldownSeconds,
		st.AllowList, st.DenyList, st.SnipeMode, st.FilterMode,
	)
	out, err := scanStrategy(row)
	if err != nil {
		return nil, fmt.Errorf("upsert strategy: %w", err)
	}
	return out, nil
}

// GetStrategy loads one strategy by id.
func (s *Store) GetStrategy(ctx context.Context, id int64) (*Strategy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE id = $1`, id)
	st, err := scanStrategy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// EnabledAutoStrategies returns every enabled AUTO strategy on a chain. The
// candidate consumer fans each accepted launch out across these.
func (s *Store) EnabledAutoStrategies(ctx context.Context, chain Chain) ([]*Strategy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strategyColumns+` FROM strategies
		 WHERE chain = $1 AND kind = 'AUTO' AND enabled
		 ORDER BY id`,
		chain,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

const walletColumns = `id, user_id, chain, wallet_index, label, address, encrypted_key, is_active, created_at`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Chain, &w.WalletIndex, &w.Label,
		&w.Address, &w.EncryptedKey, &w.IsActive, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

const strategyColumns = `id, user_id, chain, kind, enabled, auto_execute, risk_profile,
	max_positions, per_trade_cap_sol, daily_cap_sol, max_open_exposure_sol, slippage_bps,
	priority_fee_sol, take_profit_percent, stop_loss_percent, max_hold_minutes,
	trailing_enabled, trail_activation_pct, trail_distance_pct, moon_bag_percent,
	min_score, launchpads, cooldown_seconds, allow_list, deny_list, snipe_mode,
	filter_mode, created_at, updated_at`

func scanStrategy(row pgx.Row) (*Strategy, error) {
	var st Strategy
	err := row.Scan(
		&st.ID, &st.UserID, &st.Chain, &st.Kind, &st.Enabled, &st.AutoExecute,
		&st.RiskProfile, &st.MaxPositions, &st.PerTradeCapSol, &st.DailyCapSol,
		&st.MaxOpenExposureSol, &st.SlippageBps, &st.PriorityFeeSol,
		&st.TakeProfitPercent, &st.StopLossPercent, &st.MaxHoldMinutes,
		&st.TrailingEnabled, &st.TrailActivationPct, &st.TrailDistancePct,
		&st.MoonBagPercent, &st.MinScore, &st.Launchpads, &st.CooldownSeconds,
		&st.AllowList, &st.DenyList, &st.SnipeMode, &st.FilterMode,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
