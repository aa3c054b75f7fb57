package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/ahlallah/ahl-allah-server/internal/model"
)

// OtpLedger is the set of challenge operations available both directly and
// inside OtpRepo.InTx.
type OtpLedger interface {
	LatestActive(ctx context.Context, channel model.OtpChannel, subject string) (model.OtpChallenge, error)
	Insert(ctx context.Context, c *model.OtpChallenge) error
	Resend(ctx context.Context, id uint64, codeHash string, purpose model.OtpPurpose, expiresAt, sentAt time.Time) error
	IncrementAttempts(ctx context.Context, id uint64) error
	Consume(ctx context.Context, id uint64) error
}

// OtpRepo stores hashed one-time codes in otp_challenges.
type OtpRepo struct {
	db *sql.DB
	q  querier
}

func NewOtpRepo(db *sql.DB) *OtpRepo { return &OtpRepo{db: db, q: db} }

// InTx runs fn against a ledger bound to a single transaction.  The
// transaction commits when fn returns nil and rolls back otherwise.
func (r *OtpRepo) InTx(ctx context.Context, fn func(OtpLedger) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
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
	err = fn(&OtpRepo{db: r.db, q: tx})
	return err
}

// LatestActive returns the newest unconsumed challenge for a subject,
// expired or not.  Inside a transaction the row is locked until commit.
func (r *OtpRepo) LatestActive(ctx context.Context, channel model.OtpChannel, subject string) (model.OtpChallenge, error) {
	var c model.OtpChallenge
	err := r.q.QueryRowContext(ctx,
		`SELECT id, channel, subject, code_hash, purpose, expires_at, attempts_used, resend_count,
			last_sent_at, consumed, created_at
		 FROM otp_challenges
		 WHERE channel=? AND subject=? AND consumed=0
		 ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`,
		channel, subject).Scan(&c.ID, &c.Channel, &c.Subject, &c.CodeHash, &c.Purpose, &c.ExpiresAt,
		&c.AttemptsUsed, &c.ResendCount, &c.LastSentAt, &c.Consumed, &c.CreatedAt)
	if err != nil {
		return model.OtpChallenge{}, notFound(err)
	}
	return c, nil
}

// Insert stores a new challenge and sets its ID.
func (r *OtpRepo) Insert(ctx context.Context, c *model.OtpChallenge) error {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO otp_challenges (channel, subject, code_hash, purpose, expires_at, attempts_used,
			resend_count, last_sent_at, consumed, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.Channel, c.Subject, c.CodeHash, c.Purpose, c.ExpiresAt, c.AttemptsUsed, c.ResendCount,
		c.LastSentAt, c.Consumed, c.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	return nil
}

// Resend replaces the code of a live challenge and counts the resend.
// The attempt counter is left alone.
func (r *OtpRepo) Resend(ctx context.Context, id uint64, codeHash string, purpose model.OtpPurpose, expiresAt, sentAt time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE otp_challenges
		 SET code_hash=?, purpose=?, expires_at=?, last_sent_at=?, resend_count=resend_count+1
		 WHERE id=? AND consumed=0`,
		codeHash, purpose, expiresAt, sentAt, id)
	return err
}

// IncrementAttempts records one failed verification.
func (r *OtpRepo) IncrementAttempts(ctx context.Context, id uint64) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE otp_challenges SET attempts_used=attempts_used+1 WHERE id=?", id)
	return err
}

// Consume marks a challenge used.  ErrConflict is returned if it was
// already consumed, so a code can succeed at most once.
func (r *OtpRepo) Consume(ctx context.Context, id uint64) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE otp_challenges SET consumed=1 WHERE id=? AND consumed=0", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}
