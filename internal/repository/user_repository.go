package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/ahlallah/ahl-allah-server/internal/model"
)

// UserRepo persists users together with their student or tutor profile.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userCols = `id, email, email_placeholder, email_verified, password_hash, name, country, city,
	birthyear, age, gender, role_id, phone, phone_verified, provider, provider_id, avatar,
	student_profile_id, tutor_profile_id, created_at, last_activity_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u                                 model.User
		pwd, country, city, gender, phone sql.NullString
		provider, providerID, avatar      sql.NullString
		birthYear, age                    sql.NullInt64
		studentID, tutorID                sql.NullInt64
	)
	err := row.Scan(&u.ID, &u.Email.Address, &u.Email.Placeholder, &u.EmailVerified, &pwd, &u.Name,
		&country, &city, &birthYear, &age, &gender, &u.Role, &phone, &u.PhoneVerified,
		&provider, &providerID, &avatar, &studentID, &tutorID, &u.CreatedAt, &u.LastActivityAt)
	if err != nil {
		return model.User{}, notFound(err)
	}
	u.PasswordHash = pwd.String
	u.Country = country.String
	u.City = city.String
	u.BirthYear = int(birthYear.Int64)
	u.Age = int(age.Int64)
	u.Gender = gender.String
	u.Phone = phone.String
	u.Provider = provider.String
	u.ProviderID = providerID.String
	u.Avatar = avatar.String
	if studentID.Valid {
		id := uint64(studentID.Int64)
		u.StudentProfileID = &id
	}
	if tutorID.Valid {
		id := uint64(tutorID.Int64)
		u.TutorProfileID = &id
	}
	return u, nil
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userCols+" FROM users WHERE id=? LIMIT 1", id))
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userCols+" FROM users WHERE email=? LIMIT 1", model.NormalizeEmail(email)))
}

// GetByPhone fetches a user by normalized phone number.
func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userCols+" FROM users WHERE phone=? LIMIT 1", phone))
}

// GetByProvider fetches the user linked to a federated identity.
func (r *UserRepo) GetByProvider(ctx context.Context, provider, providerID string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userCols+" FROM users WHERE provider=? AND provider_id=? LIMIT 1", provider, providerID))
}

func insertUser(ctx context.Context, q querier, u *model.User) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, email, email_placeholder, email_verified, password_hash, name, country, city,
			birthyear, age, gender, role_id, phone, phone_verified, provider, provider_id, avatar,
			student_profile_id, tutor_profile_id, created_at, last_activity_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email.Address, u.Email.Placeholder, u.EmailVerified, nullStr(u.PasswordHash), u.Name,
		nullStr(u.Country), nullStr(u.City), nullInt(u.BirthYear), nullInt(u.Age), nullStr(u.Gender),
		u.Role, nullStr(u.Phone), u.PhoneVerified, nullStr(u.Provider), nullStr(u.ProviderID),
		nullStr(u.Avatar), nullID(u.StudentProfileID), nullID(u.TutorProfileID), u.CreatedAt, u.LastActivityAt)
	return duplicateKey(err)
}

func insertStudentProfile(ctx context.Context, q querier, p model.StudentProfile) (uint64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO student_profiles (available_minutes, age_group, level_at_quran, number_per_week,
			time_for_everytime, language, method_for_hefz, is_paid, is_first_time)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		p.AvailableMinutes, p.AgeGroup, p.LevelAtQuran, p.NumberPerWeek, p.TimeForEverytime,
		p.Language, p.MethodForHefz, p.IsPaid, p.IsFirstTime)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// Create inserts a user without a profile row (phone and federated sign
// ups; the profile is added by CompleteProfile).
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	return insertUser(ctx, r.DB, u)
}

// CreateWithStudentProfile inserts the student profile and the user that
// references it in one transaction.  On success u.StudentProfileID is set.
func (r *UserRepo) CreateWithStudentProfile(ctx context.Context, u *model.User, p model.StudentProfile) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	var pid uint64
	if pid, err = insertStudentProfile(ctx, tx, p); err != nil {
		return err
	}
	u.StudentProfileID = &pid
	err = insertUser(ctx, tx, u)
	return err
}

// CreateWithTutorProfile inserts the tutor profile and the applicant user
// in one transaction.  On success u.TutorProfileID is set.
func (r *UserRepo) CreateWithTutorProfile(ctx context.Context, u *model.User, p model.TutorProfile) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO tutor_profiles (arabic_name, summary, ejaza, ejaza_type, degree, is_available,
			language, phone_number, whatsapp_phone_number)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		nullStr(p.ArabicName), p.Summary, p.Ejaza, p.EjazaType, p.Degree, p.IsAvailable,
		p.Language, nullStr(p.PhoneNumber), nullStr(p.WhatsappPhoneNumber))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	pid := uint64(id)
	u.TutorProfileID = &pid
	err = insertUser(ctx, tx, u)
	return err
}

// Touch records activity on the account.
func (r *UserRepo) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET last_activity_at=? WHERE id=?", at, id)
	return err
}

// UpdatePassword replaces the stored bcrypt hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET password_hash=? WHERE id=?", hash, id)
	return err
}

// SetPhone attaches a verified phone number.  ErrPhoneExists is returned
// when another account already holds the number.
func (r *UserRepo) SetPhone(ctx context.Context, id, phone string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET phone=?, phone_verified=1 WHERE id=?", phone, id)
	return duplicateKey(err)
}

// LinkProvider binds a federated identity to an account and marks its
// email verified.  An existing avatar is kept.
func (r *UserRepo) LinkProvider(ctx context.Context, id, provider, providerID, avatar string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE users SET provider=?, provider_id=?, avatar=COALESCE(avatar, ?), email_verified=1
		 WHERE id=?`, provider, providerID, nullStr(avatar), id)
	return err
}

// ProfileUpdate holds the columns written by CompleteProfile.  Empty
// strings and zero numbers leave the stored value untouched.
type ProfileUpdate struct {
	Name      string
	Country   string
	City      string
	BirthYear int
	Age       int
	Gender    string
}

// CompleteProfile fills the personal columns and makes sure the user has a
// student profile, creating one from p when missing.  Both happen in one
// transaction.  It returns ErrNotFound when the user does not exist.
func (r *UserRepo) CompleteProfile(ctx context.Context, id string, upd ProfileUpdate, p model.StudentProfile) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	var studentID sql.NullInt64
	if err = tx.QueryRowContext(ctx,
		"SELECT student_profile_id FROM users WHERE id=? FOR UPDATE", id).Scan(&studentID); err != nil {
		err = notFound(err)
		return err
	}
	if !studentID.Valid {
		var pid uint64
		if pid, err = insertStudentProfile(ctx, tx, p); err != nil {
			return err
		}
		studentID = sql.NullInt64{Int64: int64(pid), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE users SET name=COALESCE(?, name), country=COALESCE(?, country), city=COALESCE(?, city),
			birthyear=COALESCE(?, birthyear), age=COALESCE(?, age), gender=COALESCE(?, gender),
			student_profile_id=?
		 WHERE id=?`,
		nullStr(upd.Name), nullStr(upd.Country), nullStr(upd.City), nullInt(upd.BirthYear),
		nullInt(upd.Age), nullStr(upd.Gender), studentID.Int64, id)
	return err
}

// ListByRole returns users holding role, newest first.
func (r *UserRepo) ListByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userCols+" FROM users WHERE role_id=? ORDER BY created_at DESC", role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateRole changes a user's role.
func (r *UserRepo) UpdateRole(ctx context.Context, id string, role model.Role) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET role_id=? WHERE id=?", role, id)
	return err
}

// DeleteWithTutorProfile removes a user and the tutor profile it
// references in one transaction.  Refresh tokens go with the user through
// the foreign key cascade.
func (r *UserRepo) DeleteWithTutorProfile(ctx context.Context, id string) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	var tutorID sql.NullInt64
	if err = tx.QueryRowContext(ctx,
		"SELECT tutor_profile_id FROM users WHERE id=? FOR UPDATE", id).Scan(&tutorID); err != nil {
		err = notFound(err)
		return err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM users WHERE id=?", id); err != nil {
		return err
	}
	if tutorID.Valid {
		_, err = tx.ExecContext(ctx, "DELETE FROM tutor_profiles WHERE id=?", tutorID.Int64)
	}
	return err
}

// GetTutorProfile loads a tutor profile row.
func (r *UserRepo) GetTutorProfile(ctx context.Context, id uint64) (model.TutorProfile, error) {
	var (
		p                           model.TutorProfile
		arabicName, phone, whatsapp sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, arabic_name, summary, ejaza, ejaza_type, degree, is_available, language,
			phone_number, whatsapp_phone_number
		 FROM tutor_profiles WHERE id=?`, id).Scan(&p.ID, &arabicName, &p.Summary, &p.Ejaza,
		&p.EjazaType, &p.Degree, &p.IsAvailable, &p.Language, &phone, &whatsapp)
	if err != nil {
		return model.TutorProfile{}, notFound(err)
	}
	p.ArabicName = arabicName.String
	p.PhoneNumber = phone.String
	p.WhatsappPhoneNumber = whatsapp.String
	return p, nil
}

// GetStudentProfile loads a student profile row.
func (r *UserRepo) GetStudentProfile(ctx context.Context, id uint64) (model.StudentProfile, error) {
	var p model.StudentProfile
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, available_minutes, age_group, level_at_quran, number_per_week, time_for_everytime,
			language, method_for_hefz, is_paid, is_first_time
		 FROM student_profiles WHERE id=?`, id).Scan(&p.ID, &p.AvailableMinutes, &p.AgeGroup,
		&p.LevelAtQuran, &p.NumberPerWeek, &p.TimeForEverytime, &p.Language, &p.MethodForHefz,
		&p.IsPaid, &p.IsFirstTime)
	if err != nil {
		return model.StudentProfile{}, notFound(err)
	}
	return p, nil
}
