package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/weaver"
)

// Session is one ledger row with its injection and diagnostic counts.
type Session struct {
	Seq         int64       `json:"seq"`
	ID          string      `json:"id"`
	Assembly    string      `json:"assembly"`
	Path        string      `json:"path,omitempty"`
	Mode        config.Mode `json:"mode"`
	InputHash   string      `json:"input_hash"`
	ContentHash string      `json:"content_hash"`
	HasErrors   bool        `json:"has_errors"`
	Injections  int         `json:"injections"`
	Diagnostics int         `json:"diagnostics"`
}

// MemberInjection is an injection together with the session that made it.
type MemberInjection struct {
	SessionID string `json:"session_id"`
	Assembly  string `json:"assembly"`
	weaver.Injection
}

const sessionColumns = `
	s.seq, s.id, s.assembly, s.path, s.mode, s.input_hash, s.content_hash, s.has_errors,
	(SELECT COUNT(*) FROM injections i WHERE i.session_id = s.id),
	(SELECT COUNT(*) FROM diagnostics d WHERE d.session_id = s.id)
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var mode string
	if err := row.Scan(
		&sess.Seq,
		&sess.ID,
		&sess.Assembly,
		&sess.Path,
		&mode,
		&sess.InputHash,
		&sess.ContentHash,
		&sess.HasErrors,
		&sess.Injections,
		&sess.Diagnostics,
	); err != nil {
		return Session{}, err
	}
	sess.Mode = config.Mode(mode)
	return sess, nil
}

// Sessions returns the most recent sessions, oldest first. An empty assembly
// matches every assembly; limit <= 0 returns all sessions.
//
// Returns an empty slice (not nil) if nothing was recorded.
func (s *Store) Sessions(ctx context.Context, assembly string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+sessionColumns+`
			FROM sessions s
			WHERE ? = '' OR s.assembly = ?
			ORDER BY s.seq DESC
			LIMIT ?
		)
		ORDER BY 1 ASC
	`, assembly, assembly, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadSession retrieves a single session by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.id = ?
	`, id)
	return scanSession(row)
}

// ReadInjections returns the injections of a session in seq order.
func (s *Store) ReadInjections(ctx context.Context, sessionID string) ([]weaver.Injection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, member, kind, target, idx, redirected
		FROM injections
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query injections: %w", err)
	}
	defer rows.Close()

	injections := []weaver.Injection{}
	for rows.Next() {
		var inj weaver.Injection
		var kind string
		if err := rows.Scan(&inj.Seq, &inj.Member, &kind, &inj.Target, &inj.Index, &inj.Redirected); err != nil {
			return nil, fmt.Errorf("scan injection: %w", err)
		}
		inj.Kind = weaver.GuardKind(kind)
		injections = append(injections, inj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate injections: %w", err)
	}
	return injections, nil
}

// ReadDiagnostics returns the diagnostics of a session in seq order.
func (s *Store) ReadDiagnostics(ctx context.Context, sessionID string) ([]weaver.Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, severity, member, message
		FROM diagnostics
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	diags := []weaver.Diagnostic{}
	for rows.Next() {
		var d weaver.Diagnostic
		var sev string
		if err := rows.Scan(&d.Seq, &sev, &d.Member, &d.Message); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Severity = weaver.Severity(sev)
		diags = append(diags, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}
	return diags, nil
}

// MemberHistory returns every injection recorded for a member key across
// sessions, ordered by session then seq.
func (s *Store) MemberHistory(ctx context.Context, member string) ([]MemberInjection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.assembly, i.seq, i.member, i.kind, i.target, i.idx, i.redirected
		FROM injections i
		JOIN sessions s ON s.id = i.session_id
		WHERE i.member = ?
		ORDER BY s.seq ASC, i.seq ASC
	`, member)
	if err != nil {
		return nil, fmt.Errorf("query member history: %w", err)
	}
	defer rows.Close()

	out := []MemberInjection{}
	for rows.Next() {
		var mi MemberInjection
		var kind string
		if err := rows.Scan(&mi.SessionID, &mi.Assembly, &mi.Seq, &mi.Member, &kind, &mi.Target, &mi.Index, &mi.Redirected); err != nil {
			return nil, fmt.Errorf("scan member history: %w", err)
		}
		mi.Kind = weaver.GuardKind(kind)
		out = append(out, mi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member history: %w", err)
	}
	return out, nil
}

// WovenBy returns the session whose output has the given content hash.
// found is false when the hash was never produced by an error-free weave.
func (s *Store) WovenBy(ctx context.Context, contentHash string) (sessionID string, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT session_id FROM woven_hashes WHERE content_hash = ?
	`, contentHash).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query woven hash: %w", err)
	}
	return sessionID, true, nil
}
