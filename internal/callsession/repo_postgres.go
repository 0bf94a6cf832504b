package callsession

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"counseling-platform/pkg/utils"
)

// PostgresStore persists call sessions in the call_sessions table.
//
// Fencing happens inside transactions: the row is locked with FOR UPDATE, the
// timestamp and terminal checks run against the locked row, then the update is
// written. A partial unique index keeps one active row per student:
//
//   CREATE UNIQUE INDEX call_sessions_one_active_per_student
//   ON call_sessions (student_id)
//   WHERE status IN ('placing', 'in_progress');
//
// provider_call_id carries its own UNIQUE constraint.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `
id, student_id, call_type, phone_number, provider_call_id, status, outcome,
initiated_by, duration_seconds, failure_reason, follow_up_required, lease_token,
created_at, last_updated_at`

func scanSession(row interface{ Scan(...any) error }) (CallSession, error) {
	var (
		s          CallSession
		providerID sql.NullString
		outcome    sql.NullString
		reason     sql.NullString
	)
	err := row.Scan(
		&s.ID,
		&s.StudentID,
		&s.CallType,
		&s.PhoneNumber,
		&providerID,
		&s.Status,
		&outcome,
		&s.InitiatedBy,
		&s.DurationSeconds,
		&reason,
		&s.FollowUpRequired,
		&s.LeaseToken,
		&s.CreatedAt,
		&s.LastUpdatedAt,
	)
	if err != nil {
		return CallSession{}, err
	}
	s.ProviderCallID = providerID.String
	s.Outcome = CallOutcome(outcome.String)
	s.FailureReason = reason.String
	return s, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (p *PostgresStore) Create(ctx context.Context, s CallSession) error {
	const q = `
INSERT INTO call_sessions (` + sessionColumns + `
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
`
	_, err := p.db.ExecContext(ctx, q,
		s.ID,
		s.StudentID,
		s.CallType,
		s.PhoneNumber,
		nullIfEmpty(s.ProviderCallID),
		s.Status,
		nullIfEmpty(string(s.Outcome)),
		s.InitiatedBy,
		s.DurationSeconds,
		nullIfEmpty(s.FailureReason),
		s.FollowUpRequired,
		s.LeaseToken,
		s.CreatedAt,
		s.LastUpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateProviderCallID
	}
	return err
}

// lockByID fetches a session row inside tx with FOR UPDATE so concurrent
// writers for the same row serialize.
func lockByID(ctx context.Context, tx *sql.Tx, id string) (CallSession, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE id = $1
FOR UPDATE
`
	s, err := scanSession(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, ErrNotFound
	}
	return s, err
}

func lockByProviderCallID(ctx context.Context, tx *sql.Tx, providerCallID string) (CallSession, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE provider_call_id = $1
FOR UPDATE
`
	s, err := scanSession(tx.QueryRowContext(ctx, q, providerCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, ErrNotFound
	}
	return s, err
}

func writeSessionUpdate(ctx context.Context, tx *sql.Tx, s CallSession) error {
	const q = `
UPDATE call_sessions
SET provider_call_id = $2, status = $3, outcome = $4, duration_seconds = $5,
    failure_reason = $6, follow_up_required = $7, last_updated_at = $8
WHERE id = $1
`
	_, err := tx.ExecContext(ctx, q,
		s.ID,
		nullIfEmpty(s.ProviderCallID),
		s.Status,
		nullIfEmpty(string(s.Outcome)),
		s.DurationSeconds,
		nullIfEmpty(s.FailureReason),
		s.FollowUpRequired,
		s.LastUpdatedAt,
	)
	return err
}

func (p *PostgresStore) AssignProviderCall(ctx context.Context, id, providerCallID string, ts time.Time) (CallSession, error) {
	if providerCallID == "" {
		return CallSession{}, errors.New("callsession: provider call id required")
	}
	var out CallSession
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		s, err := lockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if s.Status.Terminal() {
			return ErrTerminal
		}
		if s.ProviderCallID != "" && s.ProviderCallID != providerCallID {
			return ErrDuplicateProviderCallID
		}
		if !ts.After(s.LastUpdatedAt) {
			return ErrStaleUpdate
		}

		s.ProviderCallID = providerCallID
		s.Status = CallStatusInProgress
		s.LastUpdatedAt = ts
		if err := writeSessionUpdate(ctx, tx, s); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateProviderCallID
			}
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return CallSession{}, err
	}
	return out, nil
}

func (p *PostgresStore) ApplyStatus(ctx context.Context, providerCallID string, upd StatusUpdate, ts time.Time) (CallSession, error) {
	var out CallSession
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		s, err := lockByProviderCallID(ctx, tx, providerCallID)
		if err != nil {
			return err
		}
		if s.Status.Terminal() {
			return ErrTerminal
		}
		if !ts.After(s.LastUpdatedAt) {
			return ErrStaleUpdate
		}

		s = applyStatusUpdate(s, upd, ts)
		if err := writeSessionUpdate(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return CallSession{}, err
	}
	return out, nil
}

func (p *PostgresStore) MarkFailed(ctx context.Context, id, reason string, ts time.Time) (CallSession, error) {
	var out CallSession
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		s, err := lockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if s.Status.Terminal() {
			return ErrTerminal
		}
		if !ts.After(s.LastUpdatedAt) {
			return ErrStaleUpdate
		}

		s = applyStatusUpdate(s, StatusUpdate{
			Status:        CallStatusFailed,
			Outcome:       OutcomeFailed,
			FailureReason: reason,
		}, ts)
		if err := writeSessionUpdate(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return CallSession{}, err
	}
	return out, nil
}

func (p *PostgresStore) FindActiveByStudent(ctx context.Context, studentID string) (CallSession, bool, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE student_id = $1 AND status IN ('placing', 'in_progress')
LIMIT 1
`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, false, nil
	}
	if err != nil {
		return CallSession{}, false, err
	}
	return s, true, nil
}

func (p *PostgresStore) FindByProviderCallID(ctx context.Context, providerCallID string) (CallSession, bool, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE provider_call_id = $1
`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, providerCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, false, nil
	}
	if err != nil {
		return CallSession{}, false, err
	}
	return s, true, nil
}

func (p *PostgresStore) ListByStudent(ctx context.Context, studentID string) ([]CallSession, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE student_id = $1
ORDER BY created_at DESC
`
	rows, err := p.db.QueryContext(ctx, q, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (p *PostgresStore) List(ctx context.Context, from, to time.Time) ([]CallSession, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at DESC
`
	rows, err := p.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]CallSession, error) {
	out := make([]CallSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// isUniqueViolation matches Postgres unique_violation (23505) without binding
// to a driver error type; pgx wraps it with the code in the message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	type sqlState interface{ SQLState() string }
	var st sqlState
	if errors.As(err, &st) {
		return st.SQLState() == "23505"
	}
	return false
}
