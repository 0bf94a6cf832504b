package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events to the audit_events table. The table is
// INSERT-only; retention is handled by time partitioning, not deletes.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_user_id, actor_role, ip_address,
  student_id, call_session_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.StudentID,
		e.CallSessionID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
