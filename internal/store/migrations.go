package store

import (
	"context"

	"github.com/rs/zerolog/log"
)

// migrate applies the schema. Statements are idempotent; the unique
// constraints double as the system's coordination primitives and must match
// the codes checked in the atomic operations.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL UNIQUE,
			slippage_bps INT NOT NULL DEFAULT 500,
			priority_fee_sol DOUBLE PRECISION NOT NULL DEFAULT 0.0005,
			anti_mev BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS wallets (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			chain TEXT NOT NULL,
			wallet_index INT NOT NULL CHECK (wallet_index BETWEEN 1 AND 5),
			label TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL,
			encrypted_key BYTEA NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, chain, wallet_index)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_one_active
			ON wallets(user_id, chain) WHERE is_active`,

		`CREATE TABLE IF NOT EXISTS strategies (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			chain TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('MANUAL','AUTO')),
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			auto_execute BOOLEAN NOT NULL DEFAULT FALSE,
			risk_profile TEXT NOT NULL DEFAULT 'NORMAL',
			max_positions INT NOT NULL DEFAULT 3,
			per_trade_cap_sol DOUBLE PRECISION NOT NULL DEFAULT 0.1,
			daily_cap_sol DOUBLE PRECISION NOT NULL DEFAULT 1,
			max_open_exposure_sol DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			slippage_bps INT NOT NULL DEFAULT 500,
			priority_fee_sol DOUBLE PRECISION NOT NULL DEFAULT 0.0005,
			take_profit_percent DOUBLE PRECISION NOT NULL DEFAULT 50,
			stop_loss_percent DOUBLE PRECISION NOT NULL DEFAULT 20,
			max_hold_minutes INT NOT NULL DEFAULT 60,
			trailing_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			trail_activation_pct DOUBLE PRECISION NOT NULL DEFAULT 30,
			trail_distance_pct DOUBLE PRECISION NOT NULL DEFAULT 20,
			moon_bag_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			launchpads TEXT[] NOT NULL DEFAULT '{}',
			cooldown_seconds INT NOT NULL DEFAULT 300,
			allow_list TEXT[] NOT NULL DEFAULT '{}',
			deny_list TEXT[] NOT NULL DEFAULT '{}',
			snipe_mode TEXT NOT NULL DEFAULT 'NORMAL',
			filter_mode TEXT NOT NULL DEFAULT 'STRICT',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, kind, chain)
		)`,

		`CREATE TABLE IF NOT EXISTS launch_candidates (
			id BIGSERIAL PRIMARY KEY,
			chain TEXT NOT NULL,
			source TEXT NOT NULL,
			token_mint TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL DEFAULT '',
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			deployer TEXT NOT NULL DEFAULT '',
			bonding_curve TEXT NOT NULL DEFAULT '',
			initial_liq_sol DOUBLE PRECISION NOT NULL DEFAULT 0,
			raw JSONB,
			status TEXT NOT NULL DEFAULT 'new'
				CHECK (status IN ('new','accepted','rejected','expired')),
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (chain, source, token_mint)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_status
			ON launch_candidates(status, first_seen_at)`,

		`CREATE TABLE IF NOT EXISTS trade_jobs (
			id BIGSERIAL PRIMARY KEY,
			strategy_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			chain TEXT NOT NULL,
			action TEXT NOT NULL CHECK (action IN ('BUY','SELL')),
			candidate_id BIGINT,
			priority INT NOT NULL DEFAULT 100,
			payload JSONB NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'PENDING'
				CHECK (status IN ('PENDING','RUNNING','DONE','FAILED','CANCELED')),
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 3,
			worker_id TEXT,
			lease_expires_at TIMESTAMPTZ,
			next_available_at TIMESTAMPTZ,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_claimable
			ON trade_jobs(status, priority, created_at)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id BIGSERIAL PRIMARY KEY,
			idempotency_key TEXT NOT NULL UNIQUE,
			user_id BIGINT NOT NULL,
			mint TEXT NOT NULL,
			action TEXT NOT NULL CHECK (action IN ('BUY','SELL')),
			mode TEXT NOT NULL CHECK (mode IN ('AUTO','MANUAL')),
			status TEXT NOT NULL DEFAULT 'RESERVED'
				CHECK (status IN ('RESERVED','SUBMITTED','CONFIRMED','FAILED')),
			tx_sig TEXT,
			amount_sol DOUBLE PRECISION NOT NULL DEFAULT 0,
			tokens_out BIGINT NOT NULL DEFAULT 0,
			price_per_token DOUBLE PRECISION NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			result JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_tx_sig
			ON executions(tx_sig) WHERE tx_sig IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_executions_stale
			ON executions(status, updated_at)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			uuid_id TEXT NOT NULL UNIQUE,
			user_id BIGINT NOT NULL,
			strategy_id BIGINT NOT NULL,
			candidate_id BIGINT,
			chain TEXT NOT NULL,
			token_mint TEXT NOT NULL,
			token_symbol TEXT NOT NULL DEFAULT '',
			token_name TEXT NOT NULL DEFAULT '',
			entry_execution_id BIGINT NOT NULL,
			entry_tx_sig TEXT NOT NULL,
			entry_cost_sol DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			size_tokens BIGINT NOT NULL,
			current_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			peak_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			trailing_stop_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			tp_price DOUBLE PRECISION NOT NULL,
			sl_price DOUBLE PRECISION NOT NULL,
			trail_activation_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			trail_distance_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_hold_minutes INT NOT NULL DEFAULT 0,
			moon_bag_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			bonding_curve TEXT NOT NULL DEFAULT '',
			entry_mc_sol DOUBLE PRECISION NOT NULL DEFAULT 0,
			lifecycle_state TEXT NOT NULL DEFAULT 'PRE_GRADUATION'
				CHECK (lifecycle_state IN ('PRE_GRADUATION','POST_GRADUATION','CLOSED')),
			status TEXT NOT NULL DEFAULT 'ACTIVE'
				CHECK (status IN ('ACTIVE','CLOSING','CLOSING_EMERGENCY','CLOSED')),
			trigger_state TEXT NOT NULL DEFAULT 'MONITORING'
				CHECK (trigger_state IN ('MONITORING','TRIGGERED','EXECUTING','COMPLETED','FAILED')),
			exit_trigger TEXT,
			trigger_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			trigger_updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			exit_execution_id BIGINT,
			exit_tx_sig TEXT,
			exit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			realized_pnl_sol DOUBLE PRECISION NOT NULL DEFAULT 0,
			realized_pnl_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			price_updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at TIMESTAMPTZ
		)`,
		`ALTER TABLE positions
			ADD COLUMN IF NOT EXISTS trigger_updated_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
		`CREATE INDEX IF NOT EXISTS idx_positions_watch
			ON positions(status, trigger_state) WHERE status <> 'CLOSED'`,

		`CREATE TABLE IF NOT EXISTS trade_monitors (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			mint TEXT NOT NULL,
			chat_id BIGINT NOT NULL DEFAULT 0,
			message_id BIGINT NOT NULL DEFAULT 0,
			entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			value_sol DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			mcap_sol DOUBLE PRECISION NOT NULL DEFAULT 0,
			liquidity_sol DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'ACTIVE'
				CHECK (status IN ('ACTIVE','PAUSED','EXPIRED','CLOSED')),
			current_view TEXT NOT NULL DEFAULT 'MONITOR'
				CHECK (current_view IN ('MONITOR','SELL','TOKEN')),
			expires_at TIMESTAMPTZ NOT NULL,
			refreshed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			refresh_count INT NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_monitors_active
			ON trade_monitors(user_id, mint) WHERE status = 'ACTIVE'`,

		`CREATE TABLE IF NOT EXISTS notifications_outbox (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending','sending','sent','failed')),
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 5,
			sending_expires_at TIMESTAMPTZ,
			worker_id TEXT,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			sent_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_claimable
			ON notifications_outbox(status, sending_expires_at)`,

		`CREATE TABLE IF NOT EXISTS cooldowns (
			chain TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('MINT','USER_MINT','DEPLOYER')),
			target TEXT NOT NULL,
			cooldown_until TIMESTAMPTZ NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (chain, kind, target)
		)`,

		`CREATE TABLE IF NOT EXISTS safety_controls (
			scope TEXT PRIMARY KEY,
			trading_paused BOOLEAN NOT NULL DEFAULT FALSE,
			circuit_open_until TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`INSERT INTO safety_controls (scope) VALUES ('GLOBAL')
			ON CONFLICT (scope) DO NOTHING`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	log.Debug().Int("statements", len(stmts)).Msg("schema migrated")
	return nil
}
