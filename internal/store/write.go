package store

import (
	"context"
	"fmt"

	"github.com/roach88/nullguard/internal/weaver"
)

// RecordReport stores a weaving session with its injections and diagnostics
// in one transaction. path is the input the assembly was loaded from and may
// be empty.
//
// Uses ON CONFLICT DO NOTHING for idempotency - recording the same session
// twice is silently ignored. The output hash is registered as woven only when
// the session reported no errors.
func (s *Store) RecordReport(ctx context.Context, path string, r *weaver.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record report: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	hasErrors := r.HasErrors()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sessions
		(id, assembly, path, mode, input_hash, content_hash, has_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.SessionID,
		r.Assembly,
		path,
		string(r.Mode),
		r.InputHash,
		r.ContentHash,
		hasErrors,
	)
	if err != nil {
		return fmt.Errorf("record report: insert session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("record report: rows affected: %w", err)
	} else if n == 0 {
		return nil
	}

	for _, inj := range r.Injections {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO injections
			(session_id, seq, member, kind, target, idx, redirected)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			r.SessionID,
			inj.Seq,
			inj.Member,
			string(inj.Kind),
			inj.Target,
			inj.Index,
			inj.Redirected,
		)
		if err != nil {
			return fmt.Errorf("record report: insert injection %d: %w", inj.Seq, err)
		}
	}

	for _, d := range r.Diagnostics {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO diagnostics
			(session_id, seq, severity, member, message)
			VALUES (?, ?, ?, ?, ?)
		`,
			r.SessionID,
			d.Seq,
			string(d.Severity),
			d.Member,
			d.Message,
		)
		if err != nil {
			return fmt.Errorf("record report: insert diagnostic %d: %w", d.Seq, err)
		}
	}

	if !hasErrors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO woven_hashes (content_hash, session_id)
			VALUES (?, ?)
			ON CONFLICT(content_hash) DO NOTHING
		`, r.ContentHash, r.SessionID)
		if err != nil {
			return fmt.Errorf("record report: insert woven hash: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record report: commit: %w", err)
	}
	return nil
}
