package utils

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted at registration and
// reset.
const MinPasswordLength = 6

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.  An empty
// hash (federated or phone-only account) never matches, but still costs a
// bcrypt comparison so "no password" and "wrong password" take the same time.
func VerifyPassword(hash, plain string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash()), []byte(plain))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

var (
	dummyOnce sync.Once
	dummy     string
)

// dummyHash is a fixed hash compared against when there is no real one.
func dummyHash() string {
	dummyOnce.Do(func() {
		dummy, _ = HashPassword("ahl-allah-no-password", bcrypt.DefaultCost)
	})
	return dummy
}
