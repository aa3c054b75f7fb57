// Package oauth runs the redirect flows for Google and Apple sign in and
// turns a provider callback into a model.FederatedIdentity.
package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// StateStore issues single-use anti-CSRF state values for the redirect
// flows.  States live in process memory; a callback must reach the
// instance that started the flow.
type StateStore struct {
	c *gocache.Cache
}

// NewStateStore returns a store whose states expire after ttl.
func NewStateStore(ttl time.Duration) *StateStore {
	return &StateStore{c: gocache.New(ttl, 2*ttl)}
}

// Issue returns a fresh state remembered for provider.
func (s *StateStore) Issue(provider string) (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(b)
	s.c.SetDefault(state, provider)
	return state, nil
}

// Consume reports whether state was issued for provider and forgets it.
func (s *StateStore) Consume(state, provider string) bool {
	if state == "" {
		return false
	}
	v, ok := s.c.Get(state)
	if !ok {
		return false
	}
	s.c.Delete(state)
	return v.(string) == provider
}
