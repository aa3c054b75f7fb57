package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahlallah/ahl-allah-server/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

var userColumns = []string{"id", "email", "email_placeholder", "email_verified", "password_hash", "name",
	"country", "city", "birthyear", "age", "gender", "role_id", "phone", "phone_verified", "provider",
	"provider_id", "avatar", "student_profile_id", "tutor_profile_id", "created_at", "last_activity_at"}

func TestGetByEmailNormalizesAndScansNulls(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email=?")).
		WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(
			"u1", "a@b.com", false, true, "hash", "Ali",
			nil, nil, nil, nil, nil, 3, nil, false, nil,
			nil, nil, int64(7), nil, now, now))

	u, err := NewUserRepo(db).GetByEmail(context.Background(), "  A@B.com ")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, model.RoleNormal, u.Role)
	assert.Equal(t, "", u.Country)
	require.NotNil(t, u.StudentProfileID)
	assert.Equal(t, uint64(7), *u.StudentProfileID)
	assert.Nil(t, u.TutorProfileID)
	assert.True(t, u.NeedsProfileCompletion())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := NewUserRepo(db).GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateWithStudentProfileCommits(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_profiles")).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u := &model.User{ID: "u1", Email: model.RealEmail("s@example.com"), Name: "S", Role: model.RoleNormal}
	require.NoError(t, NewUserRepo(db).CreateWithStudentProfile(context.Background(), u, model.DefaultStudentProfile()))
	require.NotNil(t, u.StudentProfileID)
	assert.Equal(t, uint64(42), *u.StudentProfileID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithTutorProfileDuplicateEmailRollsBack(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tutor_profiles")).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 't@example.com' for key 'users.uq_users_email'"})
	mock.ExpectRollback()

	u := &model.User{ID: "u2", Email: model.RealEmail("t@example.com"), Name: "T", Role: model.RolePendingTutor}
	err := NewUserRepo(db).CreateWithTutorProfile(context.Background(), u, model.TutorProfile{Summary: "s", Ejaza: "e"})
	assert.ErrorIs(t, err, ErrEmailExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPhoneDuplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET phone=?")).
		WithArgs("+15550001111", "u1").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '+15550001111' for key 'users.uq_users_phone'"})

	err := NewUserRepo(db).SetPhone(context.Background(), "u1", "+15550001111")
	assert.ErrorIs(t, err, ErrPhoneExists)
}

func TestCompleteProfileCreatesMissingStudentProfile(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_profile_id FROM users WHERE id=? FOR UPDATE")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"student_profile_id"}).AddRow(nil))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_profiles")).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET name=COALESCE(?, name)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewUserRepo(db).CompleteProfile(context.Background(), "u1",
		ProfileUpdate{Country: "Egypt", BirthYear: 1990, Age: 35, Gender: "male"}, model.DefaultStudentProfile())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteWithTutorProfile(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT tutor_profile_id FROM users WHERE id=? FOR UPDATE")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"tutor_profile_id"}).AddRow(int64(4)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id=?")).
		WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tutor_profiles WHERE id=?")).
		WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewUserRepo(db).DeleteWithTutorProfile(context.Background(), "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenLookupRevoked(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash=?")).
		WithArgs("h").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "revoked_at", "created_at"}).
			AddRow(uint64(1), "u1", "h", now.Add(time.Hour), now, now))

	tok, err := NewTokenRepo(db).Lookup(context.Background(), "h")
	require.NoError(t, err)
	assert.True(t, tok.Revoked())
	assert.False(t, tok.Expired(now))
}

func TestRevokeByHashReportsMiss(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at=?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewTokenRepo(db).RevokeByHash(context.Background(), "h", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOtpConsumeTwiceConflicts(t *testing.T) {
	db, mock := newMock(t)
	q := regexp.QuoteMeta("UPDATE otp_challenges SET consumed=1 WHERE id=? AND consumed=0")
	mock.ExpectExec(q).WithArgs(uint64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(uint64(3)).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewOtpRepo(db)
	require.NoError(t, repo.Consume(context.Background(), 3))
	assert.ErrorIs(t, repo.Consume(context.Background(), 3), ErrConflict)
}

func TestOtpInTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM otp_challenges")).
		WithArgs(model.ChannelPhone, "+15550001111").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := NewOtpRepo(db).InTx(context.Background(), func(l OtpLedger) error {
		_, err := l.LatestActive(context.Background(), model.ChannelPhone, "+15550001111")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
