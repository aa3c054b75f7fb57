package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/queue"
)

func registration(email string) Registration {
	return Registration{
		Email:     email,
		Password:  "secret1",
		Name:      "Aisha",
		Country:   "Egypt",
		City:      "Cairo",
		BirthYear: 1995,
		Gender:    "female",
	}
}

func TestRegisterStudentTokenCarriesNormalRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.auth.RegisterStudent(ctx, registration("  Student@Example.com "), model.StudentProfile{Language: model.LanguageEnglish})
	require.NoError(t, err)
	assert.Empty(t, s.RefreshToken)
	assert.Equal(t, "student@example.com", s.User.Email.Address)
	assert.Equal(t, 30, s.User.Age)

	id, err := f.issuer.Validate(s.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleNormal, id.Role)
	assert.Equal(t, s.User.ID, id.UserID)

	acc, err := f.auth.Me(ctx, s.User.ID)
	require.NoError(t, err)
	require.NotNil(t, acc.Student)
	assert.Equal(t, model.LanguageEnglish, acc.Student.Language)
	assert.Equal(t, model.AgeGroupAdult, acc.Student.AgeGroup)
	assert.True(t, acc.Student.IsFirstTime)
	assert.Nil(t, acc.Tutor)
}

func TestRegisterRejectsShortPasswordAndDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := registration("a@example.com")
	r.Password = "12345"
	_, err := f.auth.RegisterStudent(ctx, r, model.StudentProfile{})
	requireKind(t, err, KindValidation, MsgPasswordTooShort)

	_, err = f.auth.RegisterStudent(ctx, registration("a@example.com"), model.StudentProfile{})
	require.NoError(t, err)
	_, err = f.auth.RegisterStudent(ctx, registration("A@EXAMPLE.COM"), model.StudentProfile{})
	requireKind(t, err, KindConflict, MsgUserExists)
}

func TestTutorApplicationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.auth.RegisterTutor(ctx, registration("t@example.com"), model.TutorProfile{Summary: "Hafiz", Ejaza: "Hafs"})
	require.NoError(t, err)
	id, err := f.issuer.Validate(s.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RolePendingTutor, id.Role)

	_, err = f.auth.RegisterTutor(ctx, registration("t@example.com"), model.TutorProfile{})
	requireKind(t, err, KindConflict, MsgUserExists)

	pending, err := f.auth.PendingTutors(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].Tutor)
	assert.Equal(t, model.EjazaQuran, pending[0].Tutor.EjazaType)
	assert.True(t, pending[0].Tutor.IsAvailable)

	acc, err := f.auth.ApproveTutor(ctx, s.User.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleTutor, acc.User.Role)

	_, err = f.auth.ApproveTutor(ctx, s.User.ID)
	requireKind(t, err, KindValidation, MsgNotPendingTutor)
	err = f.auth.RejectTutor(ctx, s.User.ID)
	requireKind(t, err, KindValidation, MsgNotPendingTutor)

	// a fresh token now carries the promoted role
	login, err := f.auth.Login(ctx, "t@example.com", "secret1")
	require.NoError(t, err)
	id, err = f.issuer.Validate(login.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleTutor, id.Role)
}

func TestRejectTutorRemovesApplicant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.auth.RegisterTutor(ctx, registration("t@example.com"), model.TutorProfile{})
	require.NoError(t, err)
	require.NoError(t, f.auth.RejectTutor(ctx, s.User.ID))

	_, err = f.auth.Me(ctx, s.User.ID)
	requireKind(t, err, KindNotFound, MsgUserNotFound)
	assert.Empty(t, f.users.tutors)

	err = f.auth.RejectTutor(ctx, s.User.ID)
	requireKind(t, err, KindNotFound, MsgTutorNotFound)

	student, err := f.auth.RegisterStudent(ctx, registration("s@example.com"), model.StudentProfile{})
	require.NoError(t, err)
	_, err = f.auth.ApproveTutor(ctx, student.User.ID)
	requireKind(t, err, KindNotFound, MsgTutorNotFound)
}

func TestUpdateRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.auth.RegisterStudent(ctx, registration("s@example.com"), model.StudentProfile{})
	require.NoError(t, err)

	_, err = f.auth.UpdateRole(ctx, s.User.ID, model.Role(7))
	requireKind(t, err, KindValidation, MsgInvalidRole)
	_, err = f.auth.UpdateRole(ctx, "missing", model.RoleAdmin)
	requireKind(t, err, KindNotFound, MsgUserNotFound)

	u, err := f.auth.UpdateRole(ctx, s.User.ID, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, u.Role)
	assert.Contains(t, f.events.types(), queue.EventRoleChanged)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.auth.RegisterStudent(ctx, registration("s@example.com"), model.StudentProfile{})
	require.NoError(t, err)

	_, err = f.auth.Login(ctx, "s@example.com", "wrong-password")
	requireKind(t, err, KindUnauthorized, MsgInvalidCredentials)
	_, err = f.auth.Login(ctx, "nobody@example.com", "secret1")
	requireKind(t, err, KindUnauthorized, MsgInvalidCredentials)

	// phone-only accounts have no password
	require.NoError(t, f.auth.RequestPhoneOtp(ctx, "+15550002222", model.PurposeLogin))
	_, err = f.auth.VerifyPhoneOtp(ctx, "+15550002222", f.out.smsCode(t, "+15550002222"), "")
	require.NoError(t, err)
	_, err = f.auth.Login(ctx, "+15550002222@phone.local", "")
	requireKind(t, err, KindUnauthorized, MsgInvalidCredentials)
}

func TestLoginIssuesRefreshAndTouches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.auth.RegisterStudent(ctx, registration("s@example.com"), model.StudentProfile{})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	s, err := f.auth.Login(ctx, "S@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.Len(t, s.RefreshToken, 96)
	assert.Equal(t, f.clock.Now(), s.User.LastActivityAt)
	assert.False(t, s.NeedsProfileCompletion)
}

func TestRefreshLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.auth.Refresh(ctx, "deadbeef")
	requireKind(t, err, KindUnauthorized, MsgInvalidRefresh)

	_, err = f.auth.RegisterStudent(ctx, registration("s@example.com"), model.StudentProfile{})
	require.NoError(t, err)
	s, err := f.auth.Login(ctx, "s@example.com", "secret1")
	require.NoError(t, err)

	r, err := f.auth.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, r.Token)
	assert.Empty(t, r.RefreshToken)
	// refresh does not rotate
	_, err = f.auth.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, f.auth.RevokeRefresh(ctx, s.RefreshToken))
	require.NoError(t, f.auth.RevokeRefresh(ctx, s.RefreshToken))
	_, err = f.auth.Refresh(ctx, s.RefreshToken)
	requireKind(t, err, KindUnauthorized, MsgInvalidRefresh)
}

func TestRefreshExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.auth.RegisterStudent(ctx, registration("s@example.com"), model.StudentProfile{})
	require.NoError(t, err)
	s, err := f.auth.Login(ctx, "s@example.com", "secret1")
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.auth.Refresh(ctx, s.RefreshToken)
	requireKind(t, err, KindUnauthorized, MsgRefreshExpired)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.auth.RegisterStudent(ctx, registration("s@example.com"), model.StudentProfile{})
	require.NoError(t, err)
	s1, err := f.auth.Login(ctx, "s@example.com", "secret1")
	require.NoError(t, err)
	s2, err := f.auth.Login(ctx, "s@example.com", "secret1")
	require.NoError(t, err)

	n, err := f.auth.LogoutAll(ctx, s1.User.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	for _, raw := range []string{s1.RefreshToken, s2.RefreshToken} {
		_, err = f.auth.Refresh(ctx, raw)
		requireKind(t, err, KindUnauthorized, MsgInvalidRefresh)
	}
}

func TestRefreshForDeletedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.auth.RegisterTutor(ctx, registration("t@example.com"), model.TutorProfile{})
	require.NoError(t, err)
	login, err := f.auth.Login(ctx, "t@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, f.auth.RejectTutor(ctx, s.User.ID))

	_, err = f.auth.Refresh(ctx, login.RefreshToken)
	requireKind(t, err, KindNotFound, MsgUserNotFound)
}
