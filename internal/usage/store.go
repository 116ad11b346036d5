// Package usage keeps a persistent ledger of conversational turns:
// which model answered, how many tokens it took, and how the turn
// ended. Records are append-only and indexed by timestamp and session
// for aggregation queries. The ledger shares the todo database.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutcomeOK marks a turn that produced a reply. Failed turns carry the
// agent's failure reason (contract_violation, service_unavailable, ...).
const OutcomeOK = "ok"

// Record is one turn's usage.
type Record struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"ts"`
	TurnID       string    `json:"turn_id"`
	SessionID    string    `json:"session_id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Outcome      string    `json:"outcome"`
	Action       string    `json:"action,omitempty"`
	Exchanges    int       `json:"exchanges"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	ElapsedMS    int64     `json:"elapsed_ms"`
}

// Summary holds aggregated totals.
type Summary struct {
	Turns             int   `json:"turns"`
	TotalInputTokens  int64 `json:"input_tokens"`
	TotalOutputTokens int64 `json:"output_tokens"`
	TotalElapsedMS    int64 `json:"elapsed_ms"`
}

// Store is an append-only usage ledger on database/sql. Safe for
// concurrent use.
type Store struct {
	db       *sql.DB
	postgres bool
}

// NewStore creates the usage table on db if needed. driver is "sqlite"
// or "postgres" and only affects placeholder syntax.
func NewStore(db *sql.DB, driver string) (*Store, error) {
	s := &Store{db: db, postgres: driver == "postgres"}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS turn_usage (
			id            TEXT PRIMARY KEY,
			timestamp     TEXT NOT NULL,
			turn_id       TEXT NOT NULL,
			session_id    TEXT NOT NULL,
			model         TEXT NOT NULL,
			provider      TEXT NOT NULL,
			outcome       TEXT NOT NULL,
			action        TEXT,
			exchanges     INTEGER NOT NULL,
			input_tokens  INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			elapsed_ms    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turn_usage_timestamp ON turn_usage(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_turn_usage_session ON turn_usage(session_id)`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func (s *Store) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Timestamps are stored as fixed-width UTC text so that string order
// is time order in both databases.
const tsLayout = "2006-01-02T15:04:05.000Z"

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

// tsBefore formats an exclusive upper bound. Stored timestamps are
// truncated to the millisecond, so a partial millisecond rounds up or a
// record made earlier within that millisecond would fall outside.
func tsBefore(t time.Time) string {
	if ms := t.Truncate(time.Millisecond); !ms.Equal(t) {
		t = ms.Add(time.Millisecond)
	}
	return ts(t)
}

// Record persists rec. If rec.ID is empty a UUIDv7 is generated.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO turn_usage
			(id, timestamp, turn_id, session_id, model, provider, outcome,
			 action, exchanges, input_tokens, output_tokens, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID,
		ts(rec.Timestamp),
		rec.TurnID,
		rec.SessionID,
		rec.Model,
		rec.Provider,
		rec.Outcome,
		rec.Action,
		rec.Exchanges,
		rec.InputTokens,
		rec.OutputTokens,
		rec.ElapsedMS,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(elapsed_ms), 0)
		 FROM turn_usage
		 WHERE timestamp >= ? AND timestamp < ?`),
		ts(start), tsBefore(end),
	)

	var sum Summary
	if err := row.Scan(&sum.Turns, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalElapsedMS); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByOutcome returns per-outcome totals for records within [start, end).
func (s *Store) SummaryByOutcome(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "outcome", start, end)
}

// SummaryBySession returns per-session totals for records within [start, end).
func (s *Store) SummaryBySession(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "session_id", start, end)
}

func (s *Store) summaryGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]*Summary, error) {
	// column only ever comes from the methods above.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(elapsed_ms), 0)
		 FROM turn_usage
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), ts(start), tsBefore(end))
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.Turns, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalElapsedMS); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
