package database

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/oops"

	dbconfig "socialwall/pkg/database"
	"socialwall/pkg/interfaces"
	"socialwall/pkg/types"
)

// Enrollment and assignment statuses.
const (
	StatusActive    = "ACTIVE"
	StatusInactive  = "INACTIVE"
	StatusWithdrawn = "WITHDRAWN"
)

// Manager is the SQLite session and class-access store. Reads go straight
// to the pool; writes are serialized through a single writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	retryDelay   time.Duration
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.Store = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, oops.Code("STORE_INVALID_CONFIG").Wrap(err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, oops.Code("STORE_OPEN_FAILED").With("path", config.DatabasePath).Wrap(err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, oops.Code("STORE_PRAGMA_FAILED").With("path", config.DatabasePath).Wrap(err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "sqlite_store"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies the embedded schema and validates it.
func (m *Manager) Migrate() error {
	migrations := dbconfig.NewMigrationManager(m.db)
	if err := migrations.ApplyMigrations(); err != nil {
		return oops.Code("STORE_MIGRATION_FAILED").Wrap(err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		return oops.Code("STORE_SCHEMA_INVALID").Wrap(err)
	}
	return nil
}

// writeLoop processes all write operations in a single goroutine, retrying
// a failed write once.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying", "error", err, "delay", m.retryDelay)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-time.After(30 * time.Second):
		return oops.Code("STORE_WRITE_TIMEOUT").Errorf("write operation timeout")
	}
}

// Validate resolves a session token. Unknown tokens yield (nil, nil).
func (m *Manager) Validate(ctx context.Context, token string) (*types.SessionInfo, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.user_type, s.expires
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = ?
	`, token)

	var info types.SessionInfo
	err := row.Scan(&info.User.ID, &info.User.Name, &info.User.UserType, &info.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("STORE_QUERY_FAILED").With("operation", "validate session").Wrap(err)
	}
	return &info, nil
}

// HasClassAccess is true for an active enrollment or an active teacher
// assignment in the class.
func (m *Manager) HasClassAccess(ctx context.Context, userID, classID string) (bool, error) {
	var ok bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM student_enrollments
			WHERE student_id = ? AND class_id = ? AND status = 'ACTIVE'
		) OR EXISTS (
			SELECT 1 FROM teacher_assignments
			WHERE teacher_id = ? AND class_id = ? AND status = 'ACTIVE'
		)
	`, userID, classID, userID, classID).Scan(&ok)
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
func (m *Manager) CreateUser(ctx context.Context, user types.User) error {
	if !types.IsValidUserID(user.ID) {
		return types.ErrInvalidUserID
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, name, user_type) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, user_type = excluded.user_type
		`, user.ID, user.Name, user.UserType)
		if err != nil {
			return oops.Code("STORE_WRITE_FAILED").With("operation", "create user").With("user_id", user.ID).Wrap(err)
		}
		return nil
	})
}

// CreateSession stores a session token for an existing user.
func (m *Manager) CreateSession(ctx context.Context, token, userID string, expires time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (token, user_id, expires) VALUES (?, ?, ?)
			ON CONFLICT(token) DO UPDATE SET user_id = excluded.user_id, expires = excluded.expires
		`, token, userID, expires.UTC())
		if err != nil {
			return oops.Code("STORE_WRITE_FAILED").With("operation", "create session").With("user_id", userID).Wrap(err)
		}
		return nil
	})
}

// EnrollStudent sets the enrollment of a student in a class.
func (m *Manager) EnrollStudent(ctx context.Context, studentID, classID, status string) error {
	if !types.IsValidClassID(classID) {
		return types.ErrInvalidClassID
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO student_enrollments (student_id, class_id, status) VALUES (?, ?, ?)
			ON CONFLICT(student_id, class_id) DO UPDATE SET status = excluded.status
		`, studentID, classID, status)
		if err != nil {
			return oops.Code("STORE_WRITE_FAILED").
				With("operation", "enroll student").
				With("user_id", studentID).
				With("class_id", classID).
				Wrap(err)
		}
		return nil
	})
}

// AssignTeacher sets the assignment of a teacher to a class.
func (m *Manager) AssignTeacher(ctx context.Context, teacherID, classID, status string) error {
	if !types.IsValidClassID(classID) {
		return types.ErrInvalidClassID
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO teacher_assignments (teacher_id, class_id, status) VALUES (?, ?, ?)
			ON CONFLICT(teacher_id, class_id) DO UPDATE SET status = excluded.status
		`, teacherID, classID, status)
		if err != nil {
			return oops.Code("STORE_WRITE_FAILED").
				With("operation", "assign teacher").
				With("user_id", teacherID).
				With("class_id", classID).
				Wrap(err)
		}
		return nil
	})
}

// DeleteExpiredSessions removes sessions that expired before now and
// returns how many were removed.
func (m *Manager) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE expires <= ?`, now.UTC())
		if err != nil {
			return oops.Code("STORE_WRITE_FAILED").With("operation", "delete expired sessions").Wrap(err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return oops.Code("STORE_UNHEALTHY").With("check", "ping").Wrap(err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return oops.Code("STORE_UNHEALTHY").With("check", "read").Wrap(err)
	}

	return nil
}

// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return oops.Code("STORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}
