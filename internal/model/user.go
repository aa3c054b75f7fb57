package model

import (
	"strings"
	"time"
)

// Role is the platform-wide role of a user.  The numeric values are the
// ones carried in the roleId claim of access tokens, so they must not be
// renumbered.
type Role int

const (
	RoleAdmin        Role = 1  // platform administrator
	RoleTutor        Role = 2  // approved Mohafez
	RoleNormal       Role = 3  // student
	RolePendingTutor Role = 10 // Mohafez applicant awaiting admin approval
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTutor, RoleNormal, RolePendingTutor:
		return true
	}
	return false
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleTutor:
		return "tutor"
	case RoleNormal:
		return "normal"
	case RolePendingTutor:
		return "pending_tutor"
	}
	return "unknown"
}

// Email is a user's login address.  Accounts created from a phone number or
// from a provider that withheld the address get a synthesized address so
// the unique column can be filled; those carry Placeholder=true and must
// never be used to deliver mail.
type Email struct {
	Address     string
	Placeholder bool
}

// RealEmail returns a deliverable, normalized address.
func RealEmail(addr string) Email {
	return Email{Address: NormalizeEmail(addr)}
}

// PlaceholderEmail synthesizes "<local>@<domain>" for accounts without a
// known address (e.g. "+15550001111@phone.local").
func PlaceholderEmail(local, domain string) Email {
	return Email{Address: NormalizeEmail(local + "@" + domain), Placeholder: true}
}

// Reachable reports whether mail can be sent to the address.
func (e Email) Reachable() bool { return !e.Placeholder && e.Address != "" }

func (e Email) String() string { return e.Address }

// NormalizeEmail lower-cases and trims an address.  Uniqueness of the
// users.email column is defined over this form.
func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// User mirrors the `users` table.  Optional columns use their zero value
// for "absent": an empty PasswordHash is a federated or phone-only account,
// an empty Country or Gender and a zero BirthYear mean the profile still
// needs completing.
type User struct {
	ID               string    // users.id (uuid)
	Email            Email     // users.email + users.email_placeholder
	EmailVerified    bool      // users.email_verified
	PasswordHash     string    // users.password_hash (nullable)
	Name             string    // users.name
	Country          string    // users.country (nullable)
	City             string    // users.city (nullable)
	BirthYear        int       // users.birthyear (nullable)
	Age              int       // users.age (nullable)
	Gender           string    // users.gender (nullable)
	Role             Role      // users.role_id
	Phone            string    // users.phone (nullable, unique)
	PhoneVerified    bool      // users.phone_verified
	Provider         string    // users.provider (google | apple, nullable)
	ProviderID       string    // users.provider_id (nullable)
	Avatar           string    // users.avatar (nullable)
	StudentProfileID *uint64   // users.student_profile_id
	TutorProfileID   *uint64   // users.tutor_profile_id
	CreatedAt        time.Time // users.created_at
	LastActivityAt   time.Time // users.last_activity_at
}

// HasPassword reports whether the account can sign in with a password.
func (u User) HasPassword() bool { return u.PasswordHash != "" }

// NeedsProfileCompletion reports whether the fields collected by the
// registration forms are still missing (typical after a first OAuth or
// phone login).
func (u User) NeedsProfileCompletion() bool {
	return u.Country == "" || u.BirthYear == 0 || u.Gender == ""
}

// AgeIn returns the naive age for a birth year: year minus birth year, with
// no birthday correction.
func AgeIn(birthYear, year int) int {
	if birthYear <= 0 {
		return 0
	}
	return year - birthYear
}

// Identity is what a validated access token says about its bearer.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

// FederatedIdentity is what an OAuth provider asserted about a user.
// Email and Name may be empty (Apple only sends them on first consent).
type FederatedIdentity struct {
	Provider   string
	ProviderID string
	Email      string
	Name       string
	Avatar     string
}
