package students

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("students: not found")

// Repository reads the synced student roster.
type Repository interface {
	Get(ctx context.Context, id string) (Student, error)

	// ListAtRisk returns students at or above the given risk level, highest
	// risk score first.
	ListAtRisk(ctx context.Context, min RiskLevel) ([]Student, error)
}

func riskRank(l RiskLevel) int {
	switch l {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// MemoryRepository is an in-memory roster for tests and local development.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]Student
}

func NewMemoryRepository(seed ...Student) *MemoryRepository {
	r := &MemoryRepository{rows: map[string]Student{}}
	for _, s := range seed {
		r.rows[s.ID] = s
	}
	return r
}

func (r *MemoryRepository) Put(s Student) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ID] = s
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.rows[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepository) ListAtRisk(ctx context.Context, min RiskLevel) ([]Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Student, 0)
	for _, s := range r.rows {
		if riskRank(s.RiskLevel) >= riskRank(min) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RiskScore > out[j].RiskScore
	})
	return out, nil
}

// PostgresRepository reads from the students table kept in sync by the SIS
// import job.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const studentColumns = `
id, name, grade, risk_level, risk_score, attendance_rate,
phone_number, parent_phone_number, mentor_phone_number, assigned_mentor_id, updated_at`

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var (
		s      Student
		phone  sql.NullString
		parent sql.NullString
		mentor sql.NullString
		mentID sql.NullString
	)
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Grade,
		&s.RiskLevel,
		&s.RiskScore,
		&s.AttendanceRate,
		&phone,
		&parent,
		&mentor,
		&mentID,
		&s.UpdatedAt,
	)
	if err != nil {
		return Student{}, err
	}
	s.PhoneNumber = phone.String
	s.ParentPhoneNumber = parent.String
	s.MentorPhoneNumber = mentor.String
	s.AssignedMentorID = mentID.String
	return s, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Student, error) {
	const q = `
SELECT ` + studentColumns + `
FROM students
WHERE id = $1
`
	s, err := scanStudent(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrNotFound
	}
	return s, err
}

func (r *PostgresRepository) ListAtRisk(ctx context.Context, min RiskLevel) ([]Student, error) {
	levels := []RiskLevel{RiskHigh}
	switch min {
	case RiskMedium:
		levels = []RiskLevel{RiskHigh, RiskMedium}
	case RiskLow:
		levels = []RiskLevel{RiskHigh, RiskMedium, RiskLow}
	}

	const q = `
SELECT ` + studentColumns + `
FROM students
WHERE risk_level = ANY($1)
ORDER BY risk_score DESC
`
	args := make([]string, len(levels))
	for i, l := range levels {
		args[i] = string(l)
	}

	rows, err := r.db.QueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Student, 0)
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
