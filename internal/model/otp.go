package model

import "time"

// OtpChannel is where a code was delivered.
type OtpChannel string

const (
	ChannelPhone OtpChannel = "phone"
	ChannelEmail OtpChannel = "email"
)

// OtpPurpose is what a verified code unlocks.
type OtpPurpose string

const (
	PurposeLogin OtpPurpose = "login" // phone sign in / sign up
	PurposeLink  OtpPurpose = "link"  // attach a phone to an existing account
	PurposeReset OtpPurpose = "reset" // email password reset
)

// OtpChallenge mirrors the `otp_challenges` table.  Only the SHA-256 of the
// code is stored.  A challenge is terminal once Consumed; expiry is checked
// when a code is verified and is never swept.
type OtpChallenge struct {
	ID           uint64
	Channel      OtpChannel
	Subject      string // normalized phone number or email address
	CodeHash     string
	Purpose      OtpPurpose
	ExpiresAt    time.Time
	AttemptsUsed int
	ResendCount  int
	LastSentAt   time.Time
	Consumed     bool
	CreatedAt    time.Time
}

// Expired reports whether the challenge is past its expiry at now.
func (c OtpChallenge) Expired(now time.Time) bool { return now.After(c.ExpiresAt) }
