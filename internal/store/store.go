// Package store persists decision records for the continuous-learning
// pipeline. Every decision lands here unlabeled; ground-truth verdicts are
// attached later through Label and exported as training data.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/gatewatch/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	request_id  TEXT PRIMARY KEY,
	decided_at  TEXT NOT NULL,
	client_id   TEXT NOT NULL DEFAULT '',
	tool        TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	rule_id     TEXT NOT NULL,
	risk        REAL NOT NULL,
	confidence  REAL NOT NULL,
	threat      TEXT NOT NULL,
	fail_closed INTEGER NOT NULL DEFAULT 0,
	partial     INTEGER NOT NULL DEFAULT 0,
	trace       TEXT NOT NULL,
	label       TEXT,
	labeled_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions(decided_at);
CREATE INDEX IF NOT EXISTS idx_decisions_label ON decisions(label);
`

// Record is one persisted decision, optionally carrying a ground-truth
// label attached by the feedback loop.
type Record struct {
	RequestID  string             `json:"request_id"`
	DecidedAt  time.Time          `json:"decided_at"`
	ClientID   string             `json:"client_id,omitempty"`
	Tool       string             `json:"tool,omitempty"`
	Action     string             `json:"action"`
	RuleID     string             `json:"rule_id"`
	Risk       float64            `json:"risk"`
	Confidence float64            `json:"confidence"`
	Threat     string             `json:"threat"`
	FailClosed bool               `json:"fail_closed,omitempty"`
	Partial    bool               `json:"partial,omitempty"`
	Trace      []model.TierResult `json:"trace"`
	Label      string             `json:"label,omitempty"`
	LabeledAt  *time.Time         `json:"labeled_at,omitempty"`
}

// Store is a SQLite-backed decision archive.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the decision database at path. WAL mode keeps
// recorder writes from stalling concurrent CLI queries.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists one decision. Duplicate request ids are rejected —
// decisions are written once, corrections get a new id.
func (s *Store) Insert(ctx context.Context, d *model.Decision) error {
	trace, err := json.Marshal(d.Score.Results)
	if err != nil {
		return fmt.Errorf("store: marshal trace: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions
			(request_id, decided_at, client_id, tool, action, rule_id,
			 risk, confidence, threat, fail_closed, partial, trace)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RequestID,
		d.DecidedAt.UTC().Format(time.RFC3339Nano),
		d.Meta.ClientID,
		d.Meta.Tool,
		string(d.Action),
		d.MatchedRuleID,
		d.Score.Risk,
		d.Score.Confidence,
		string(d.Score.Threat),
		boolToInt(d.Flags.FailClosed),
		boolToInt(d.Flags.Partial),
		string(trace),
	)
	if err != nil {
		return fmt.Errorf("store: insert decision %s: %w", d.RequestID, err)
	}
	return nil
}

// Label attaches a ground-truth verdict ("benign" or a threat type) to a
// stored decision.
func (s *Store) Label(ctx context.Context, requestID, verdict string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET label = ?, labeled_at = ? WHERE request_id = ?`,
		verdict, time.Now().UTC().Format(time.RFC3339Nano), requestID)
	if err != nil {
		return fmt.Errorf("store: label %s: %w", requestID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: no decision with request id %s", requestID)
	}
	return nil
}

// Query filters stored decisions. Zero-valued fields are ignored.
type Query struct {
	Action      string
	Threat      string
	LabeledOnly bool
	Limit       int
}

// List returns decisions matching the query, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	where := "1=1"
	var args []any
	if q.Action != "" {
		where += " AND action = ?"
		args = append(args, q.Action)
	}
	if q.Threat != "" {
		where += " AND threat = ?"
		args = append(args, q.Threat)
	}
	if q.LabeledOnly {
		where += " AND label IS NOT NULL"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, decided_at, client_id, tool, action, rule_id,
		       risk, confidence, threat, fail_closed, partial, trace,
		       label, labeled_at
		FROM decisions WHERE `+where+`
		ORDER BY decided_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var decidedAt, traceJSON string
		var failClosed, partial int
		var label, labeledAt sql.NullString
		if err := rows.Scan(&r.RequestID, &decidedAt, &r.ClientID, &r.Tool,
			&r.Action, &r.RuleID, &r.Risk, &r.Confidence, &r.Threat,
			&failClosed, &partial, &traceJSON, &label, &labeledAt); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		r.DecidedAt, _ = time.Parse(time.RFC3339Nano, decidedAt)
		r.FailClosed = failClosed != 0
		r.Partial = partial != 0
		_ = json.Unmarshal([]byte(traceJSON), &r.Trace)
		if label.Valid {
			r.Label = label.String
		}
		if labeledAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, labeledAt.String); err == nil {
				r.LabeledAt = &t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored decisions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
