package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialwall/pkg/interfaces"
	"socialwall/pkg/types"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func TestStore_Validate(t *testing.T) {
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      *types.SessionInfo
		wantErr   bool
	}{
		{
			name: "known token",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows([]string{"id", "name", "user_type", "expires"}).
					AddRow("u1", "Ada", types.UserTypeStudent, expires)
				mock.ExpectQuery(`SELECT u.id, u.name, u.user_type, s.expires`).
					WithArgs("tok").
					WillReturnRows(rows)
			},
			want: &types.SessionInfo{
				User:    types.User{ID: "u1", Name: "Ada", UserType: types.UserTypeStudent},
				Expires: expires,
			},
		},
		{
			name: "unknown token",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT u.id, u.name, u.user_type, s.expires`).
					WithArgs("tok").
					WillReturnRows(pgxmock.NewRows([]string{"id", "name", "user_type", "expires"}))
			},
			want: nil,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT u.id, u.name, u.user_type, s.expires`).
					WithArgs("tok").
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			got, err := store.Validate(context.Background(), "tok")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "connection refused")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestStore_HasClassAccess(t *testing.T) {
	tests := []struct {
		name    string
		result  bool
		dbErr   error
		want    bool
		wantErr bool
	}{
		{name: "active enrollment", result: true, want: true},
		{name: "no enrollment", result: false, want: false},
		{name: "database error", dbErr: errors.New("timeout"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			exp := mock.ExpectQuery(`SELECT EXISTS`).WithArgs("u1", "c1")
			if tt.dbErr != nil {
				exp.WillReturnError(tt.dbErr)
			} else {
				exp.WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(tt.result))
			}

			got, err := store.HasClassAccess(context.Background(), "u1", "c1")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Writes(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)
	expires := time.Now().Add(time.Hour)

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("t1", "Grace", types.UserTypeTeacher).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs("tok", "t1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO teacher_assignments`).
		WithArgs("t1", "c1", StatusActive).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO student_enrollments`).
		WithArgs("s1", "c1", StatusInactive).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM sessions`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, store.CreateUser(ctx, types.User{ID: "t1", Name: "Grace", UserType: types.UserTypeTeacher}))
	require.NoError(t, store.CreateSession(ctx, "tok", "t1", expires))
	require.NoError(t, store.AssignTeacher(ctx, "t1", "c1", StatusActive))
	require.NoError(t, store.EnrollStudent(ctx, "s1", "c1", StatusInactive))

	n, err := store.DeleteExpiredSessions(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RejectsInvalidIDs(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.CreateUser(ctx, types.User{ID: "bad id"}), types.ErrInvalidUserID)
	assert.ErrorIs(t, store.EnrollStudent(ctx, "s1", "", StatusActive), types.ErrInvalidClassID)
	assert.ErrorIs(t, store.AssignTeacher(ctx, "t1", "c/1", StatusActive), types.ErrInvalidClassID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_HealthCheckAndClose(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, store.HealthCheck(ctx))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.Error(t, store.HealthCheck(ctx))

	mock.ExpectClose()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.HealthCheck(ctx), interfaces.ErrStoreClosed)
	_, err := store.Validate(ctx, "tok")
	assert.ErrorIs(t, err, interfaces.ErrStoreClosed)
	_, err = store.HasClassAccess(ctx, "u1", "c1")
	assert.ErrorIs(t, err, interfaces.ErrStoreClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
