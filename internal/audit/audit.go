package audit

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Security-sensitive event kinds. The audit trail is local and append-only:
// there is no update or delete path.
const (
	EventKeyExport     = "KEY_EXPORT"
	EventWithdrawal    = "WITHDRAWAL_INITIATED"
	EventHoneypot      = "HONEYPOT_DETECTED"
	EventCircuitOpen   = "CIRCUIT_OPEN"
	EventTradingPaused = "TRADING_PAUSED"
	EventWalletDeleted = "WALLET_DELETED"
	EventEmergencyExit = "EMERGENCY_EXIT"
)

// Event is one audit record.
type Event struct {
	ID        int64
	Kind      string
	UserID    int64
	Chain     string
	Details   json.RawMessage
	CreatedAt int64 // unix seconds
}

// Log is the append-only local audit store.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at path with WAL enabled.
func Open(path string) (*Log, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		user_id INTEGER NOT NULL DEFAULT 0,
		chain TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_kind_time ON audit_events(kind, created_at);
	`); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("audit log opened")
	return &Log{db: db}, nil
}

// Record appends one event. Details may be nil.
func (l *Log) Record(kind string, userID int64, chain string, details interface{}) error {
	raw := json.RawMessage(`{}`)
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			raw = b
		}
	}
	_, err := l.db.Exec(
		`INSERT INTO audit_events (kind, user_id, chain, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		kind, userID, chain, string(raw), time.Now().Unix(),
	)
	if err != nil {
		// The audit trail must not take the trade path down with it.
		log.Error().Err(err).Str("kind", kind).Msg("audit write failed")
	}
	return err
}

// Recent returns the latest events of one kind, newest first. Empty kind
// returns across kinds.
func (l *Log) Recent(kind string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, kind, user_id, chain, details, created_at FROM audit_events`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var details string
		if err := rows.Scan(&e.ID, &e.Kind, &e.UserID, &e.Chain, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Details = json.RawMessage(details)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
