// Package postgres is the PostgreSQL session and class-access store.
package postgres

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"socialwall/pkg/interfaces"
	"socialwall/pkg/types"
)

// Enrollment and assignment statuses.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// poolIface is the subset of *pgxpool.Pool the store uses.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements interfaces.Store on a pgx pool.
type Store struct {
	pool poolIface

	mu     sync.Mutex
	closed bool
}

var _ interfaces.Store = (*Store)(nil)

// Open connects a pool to the database at dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", "postgres").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", "postgres").With("check", "ping").Wrap(err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool poolIface) *Store {
	return &Store{pool: pool}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Validate resolves a session token. Unknown tokens yield (nil, nil).
func (s *Store) Validate(ctx context.Context, token string) (*types.SessionInfo, error) {
	if s.isClosed() {
		return nil, interfaces.ErrStoreClosed
	}

	var info types.SessionInfo
	err := s.pool.QueryRow(ctx, `
		SELECT u.id, u.name, u.user_type, s.expires
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1`, token).
		Scan(&info.User.ID, &info.User.Name, &info.User.UserType, &info.Expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("STORE_QUERY_FAILED").With("operation", "validate session").Wrap(err)
	}
	return &info, nil
}

// HasClassAccess is true for an active enrollment or an active teacher
// assignment in the class.
func (s *Store) HasClassAccess(ctx context.Context, userID, classID string) (bool, error) {
	if s.isClosed() {
		return false, interfaces.ErrStoreClosed
	}

	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM student_enrollments
			WHERE student_id = $1 AND class_id = $2 AND status = 'ACTIVE'
		) OR EXISTS (
			SELECT 1 FROM teacher_assignments
			WHERE teacher_id = $1 AND class_id = $2 AND status = 'ACTIVE'
		)`, userID, classID).Scan(&ok)
	if err != nil {
		return false, oops.Code("STORE_QUERY_FAILED").
			With("operation", "class access").
			With("user_id", userID).
			With("class_id", classID).
			Wrap(err)
	}
	return ok, nil
}

// CreateUser inserts or updates a user snapshot.
func (s *Store) CreateUser(ctx context.Context, user types.User) error {
	if !types.IsValidUserID(user.ID) {
		return types.ErrInvalidUserID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, user_type) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, user_type = EXCLUDED.user_type`,
		user.ID, user.Name, user.UserType)
	if err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("operation", "create user").With("user_id", user.ID).Wrap(err)
	}
	return nil
}

// CreateSession stores a session token for an existing user.
func (s *Store) CreateSession(ctx context.Context, token, userID string, expires time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (token, user_id, expires) VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, expires = EXCLUDED.expires`,
		token, userID, expires.UTC())
	if err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("operation", "create session").With("user_id", userID).Wrap(err)
	}
	return nil
}

// EnrollStudent sets the enrollment of a student in a class.
func (s *Store) EnrollStudent(ctx context.Context, studentID, classID, status string) error {
	if !types.IsValidClassID(classID) {
		return types.ErrInvalidClassID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO student_enrollments (student_id, class_id, status) VALUES ($1, $2, $3)
		ON CONFLICT (student_id, class_id) DO UPDATE SET status = EXCLUDED.status`,
		studentID, classID, status)
	if err != nil {
		return oops.Code("STORE_WRITE_FAILED").
			With("operation", "enroll student").
			With("user_id", studentID).
			With("class_id", classID).
			Wrap(err)
	}
	return nil
}

// AssignTeacher sets the assignment of a teacher to a class.
func (s *Store) AssignTeacher(ctx context.Context, teacherID, classID, status string) error {
	if !types.IsValidClassID(classID) {
		return types.ErrInvalidClassID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO teacher_assignments (teacher_id, class_id, status) VALUES ($1, $2, $3)
		ON CONFLICT (teacher_id, class_id) DO UPDATE SET status = EXCLUDED.status`,
		teacherID, classID, status)
	if err != nil {
		return oops.Code("STORE_WRITE_FAILED").
			With("operation", "assign teacher").
			With("user_id", teacherID).
			With("class_id", classID).
			Wrap(err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired at or before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires <= $1`, now.UTC())
	if err != nil {
		return 0, oops.Code("STORE_WRITE_FAILED").With("operation", "delete expired sessions").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// HealthCheck pings the pool.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.isClosed() {
		return interfaces.ErrStoreClosed
	}
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("STORE_UNHEALTHY").With("driver", "postgres").Wrap(err)
	}
	return nil
}

// Close releases the pool. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}
