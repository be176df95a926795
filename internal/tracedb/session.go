package tracedb

import (
	"context"
	"fmt"

	"github.com/smelt-ir/smelt/internal/rewrite"
)

// Session is one recorded driver run. It implements rewrite.Recorder:
// attach it to a driver with rewrite.WithRecorder and every step lands
// in the rewrites table.
type Session struct {
	store *Store
	id    string
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Begin opens a new trace session for a pipeline run.
func (s *Store) Begin(ctx context.Context, pipeline string) (*Session, error) {
	id := s.tokens.Generate()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, pipeline, seq)
		VALUES (?, ?, ?)
	`, id, pipeline, s.clock.Next())
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &Session{store: s, id: id}, nil
}

// Record implements rewrite.Recorder.
//
// Uses ON CONFLICT(session_id, seq) DO NOTHING per CP-3: re-recording a
// step of a replayed trace is silently ignored, so the first recording
// wins and the trace never diverges.
func (s *Session) Record(rec rewrite.Record) error {
	_, err := s.store.db.Exec(`
		INSERT INTO rewrites
		(session_id, seq, rule, opcode, status, reason, before_hash, after_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`,
		s.id,
		rec.Seq,
		rec.Rule,
		rec.Opcode,
		string(rec.Status),
		rec.Reason,
		rec.Before,
		rec.After,
	)
	if err != nil {
		return fmt.Errorf("record rewrite: %w", err)
	}
	return nil
}

// SessionInfo describes one stored session.
type SessionInfo struct {
	ID       string
	Pipeline string
	Seq      int64
}

// Sessions returns all sessions in deterministic order per CP-2.
//
// Returns an empty slice (not nil) if no sessions exist.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline, seq
		FROM sessions
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.Pipeline, &info.Seq); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadTrace returns all rewrite steps of a session in deterministic
// order per CP-2.
//
// Returns an empty slice (not nil) if the session has no steps.
func (s *Store) ReadTrace(ctx context.Context, sessionID string) ([]rewrite.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, rule, opcode, status, reason, before_hash, after_hash
		FROM rewrites
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	trace := []rewrite.Record{}
	for rows.Next() {
		var rec rewrite.Record
		var status string
		if err := rows.Scan(&rec.Seq, &rec.Rule, &rec.Opcode, &status,
			&rec.Reason, &rec.Before, &rec.After); err != nil {
			return nil, fmt.Errorf("scan rewrite: %w", err)
		}
		rec.Status = rewrite.Status(status)
		trace = append(trace, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace: %w", err)
	}
	return trace, nil
}

// RuleCounts returns, per rule, how many steps of a session applied,
// in deterministic order by rule name.
func (s *Store) RuleCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule, COUNT(*)
		FROM rewrites
		WHERE session_id = ? AND status = ?
		GROUP BY rule
		ORDER BY rule COLLATE BINARY ASC
	`, sessionID, string(rewrite.StatusApplied))
	if err != nil {
		return nil, fmt.Errorf("query rule counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var rule string
		var n int
		if err := rows.Scan(&rule, &n); err != nil {
			return nil, fmt.Errorf("scan rule count: %w", err)
		}
		counts[rule] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule counts: %w", err)
	}
	return counts, nil
}
