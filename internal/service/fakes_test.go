package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ahlallah/ahl-allah-server/internal/config"
	"github.com/ahlallah/ahl-allah-server/internal/model"
	"github.com/ahlallah/ahl-allah-server/internal/queue"
	"github.com/ahlallah/ahl-allah-server/internal/repository"
	"github.com/ahlallah/ahl-allah-server/internal/utils"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memUsers struct {
	mu       sync.Mutex
	users    map[string]model.User
	students map[uint64]model.StudentProfile
	tutors   map[uint64]model.TutorProfile
	nextID   uint64
}

func newMemUsers() *memUsers {
	return &memUsers{
		users:    map[string]model.User{},
		students: map[uint64]model.StudentProfile{},
		tutors:   map[uint64]model.TutorProfile{},
	}
}

func (m *memUsers) find(match func(model.User) bool) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (model.User, error) {
	return m.find(func(u model.User) bool { return u.ID == id })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	e := model.NormalizeEmail(email)
	return m.find(func(u model.User) bool { return u.Email.Address == e })
}

func (m *memUsers) GetByPhone(_ context.Context, phone string) (model.User, error) {
	return m.find(func(u model.User) bool { return u.Phone != "" && u.Phone == phone })
}

func (m *memUsers) GetByProvider(_ context.Context, provider, providerID string) (model.User, error) {
	return m.find(func(u model.User) bool { return u.Provider == provider && u.ProviderID == providerID })
}

func (m *memUsers) insertLocked(u *model.User) error {
	for _, x := range m.users {
		if x.Email.Address == u.Email.Address {
			return repository.ErrEmailExists
		}
		if u.Phone != "" && x.Phone == u.Phone {
			return repository.ErrPhoneExists
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(u)
}

func (m *memUsers) CreateWithStudentProfile(_ context.Context, u *model.User, p model.StudentProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	u.StudentProfileID = &id
	if err := m.insertLocked(u); err != nil {
		u.StudentProfileID = nil
		return err
	}
	p.ID = id
	m.students[id] = p
	return nil
}

func (m *memUsers) CreateWithTutorProfile(_ context.Context, u *model.User, p model.TutorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	u.TutorProfileID = &id
	if err := m.insertLocked(u); err != nil {
		u.TutorProfileID = nil
		return err
	}
	p.ID = id
	m.tutors[id] = p
	return nil
}

func (m *memUsers) update(id string, fn func(*model.User) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := fn(&u); err != nil {
		return err
	}
	m.users[id] = u
	return nil
}

func (m *memUsers) Touch(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(u *model.User) error { u.LastActivityAt = at; return nil })
}

func (m *memUsers) UpdatePassword(_ context.Context, id, hash string) error {
	return m.update(id, func(u *model.User) error { u.PasswordHash = hash; return nil })
}

func (m *memUsers) SetPhone(_ context.Context, id, phone string) error {
	m.mu.Lock()
	for _, x := range m.users {
		if x.ID != id && x.Phone == phone {
			m.mu.Unlock()
			return repository.ErrPhoneExists
		}
	}
	m.mu.Unlock()
	return m.update(id, func(u *model.User) error { u.Phone, u.PhoneVerified = phone, true; return nil })
}

func (m *memUsers) LinkProvider(_ context.Context, id, provider, providerID, avatar string) error {
	return m.update(id, func(u *model.User) error {
		u.Provider, u.ProviderID, u.EmailVerified = provider, providerID, true
		if u.Avatar == "" {
			u.Avatar = avatar
		}
		return nil
	})
}

func (m *memUsers) CompleteProfile(_ context.Context, id string, upd repository.ProfileUpdate, p model.StudentProfile) error {
	return m.update(id, func(u *model.User) error {
		if u.StudentProfileID == nil {
			m.nextID++
			pid := m.nextID
			p.ID = pid
			m.students[pid] = p
			u.StudentProfileID = &pid
		}
		set := func(dst *string, v string) {
			if v != "" {
				*dst = v
			}
		}
		set(&u.Name, upd.Name)
		set(&u.Country, upd.Country)
		set(&u.City, upd.City)
		set(&u.Gender, upd.Gender)
		if upd.BirthYear != 0 {
			u.BirthYear, u.Age = upd.BirthYear, upd.Age
		}
		return nil
	})
}

func (m *memUsers) ListByRole(_ context.Context, role model.Role) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.User
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUsers) UpdateRole(_ context.Context, id string, role model.Role) error {
	return m.update(id, func(u *model.User) error { u.Role = role; return nil })
}

func (m *memUsers) DeleteWithTutorProfile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	if u.TutorProfileID != nil {
		delete(m.tutors, *u.TutorProfileID)
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) GetTutorProfile(_ context.Context, id uint64) (model.TutorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.tutors[id]
	if !ok {
		return model.TutorProfile{}, repository.ErrNotFound
	}
	return p, nil
}

func (m *memUsers) GetStudentProfile(_ context.Context, id uint64) (model.StudentProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.students[id]
	if !ok {
		return model.StudentProfile{}, repository.ErrNotFound
	}
	return p, nil
}

type memTokens struct {
	mu     sync.Mutex
	tokens []model.RefreshToken
}

func (m *memTokens) StoreRefresh(_ context.Context, userID, hash string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, model.RefreshToken{ID: uint64(len(m.tokens) + 1), UserID: userID, TokenHash: hash, ExpiresAt: exp})
	return nil
}

func (m *memTokens) Lookup(_ context.Context, hash string) (model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			return t, nil
		}
	}
	return model.RefreshToken{}, repository.ErrNotFound
}

func (m *memTokens) RevokeByHash(_ context.Context, hash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tokens {
		if m.tokens[i].TokenHash == hash && m.tokens[i].RevokedAt == nil {
			m.tokens[i].RevokedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *memTokens) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.tokens {
		if m.tokens[i].UserID == userID && m.tokens[i].RevokedAt == nil {
			m.tokens[i].RevokedAt = &at
			n++
		}
	}
	return n, nil
}

type memOtps struct {
	mu   sync.Mutex
	tx   sync.Mutex
	rows []*model.OtpChallenge
}

func (m *memOtps) InTx(_ context.Context, fn func(repository.OtpLedger) error) error {
	m.tx.Lock()
	defer m.tx.Unlock()
	return fn(m)
}

func (m *memOtps) LatestActive(_ context.Context, channel model.OtpChannel, subject string) (model.OtpChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		c := m.rows[i]
		if c.Channel == channel && c.Subject == subject && !c.Consumed {
			return *c, nil
		}
	}
	return model.OtpChallenge{}, repository.ErrNotFound
}

func (m *memOtps) Insert(_ context.Context, c *model.OtpChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uint64(len(m.rows) + 1)
	cp := *c
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memOtps) get(id uint64) (*model.OtpChallenge, error) {
	for _, c := range m.rows {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memOtps) Resend(_ context.Context, id uint64, hash string, purpose model.OtpPurpose, exp, sent time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(id)
	if err != nil {
		return err
	}
	c.CodeHash, c.Purpose, c.ExpiresAt, c.LastSentAt = hash, purpose, exp, sent
	c.ResendCount++
	return nil
}

func (m *memOtps) IncrementAttempts(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(id)
	if err != nil {
		return err
	}
	c.AttemptsUsed++
	return nil
}

func (m *memOtps) Consume(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(id)
	if err != nil {
		return err
	}
	if c.Consumed {
		return repository.ErrConflict
	}
	c.Consumed = true
	return nil
}

func (m *memOtps) latest(subject string) model.OtpChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].Subject == subject {
			return *m.rows[i]
		}
	}
	return model.OtpChallenge{}
}

var sixDigits = regexp.MustCompile(`\b[0-9]{6}\b`)

// outbox records every SMS and email and can be told to fail.
type outbox struct {
	mu   sync.Mutex
	sms  map[string][]string
	mail map[string][]string
	fail error
}

func newOutbox() *outbox {
	return &outbox{sms: map[string][]string{}, mail: map[string][]string{}}
}

func (o *outbox) Send(_ context.Context, to, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sms[to] = append(o.sms[to], body)
	return nil
}

type mailbox struct{ *outbox }

func (m mailbox) Send(_ context.Context, to, _, _, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.mail[to] = append(m.mail[to], text)
	return nil
}

func lastCode(t *testing.T, msgs []string) string {
	t.Helper()
	require.NotEmpty(t, msgs)
	code := sixDigits.FindString(msgs[len(msgs)-1])
	require.NotEmpty(t, code)
	return code
}

func (o *outbox) smsCode(t *testing.T, phone string) string {
	o.mu.Lock()
	msgs := append([]string(nil), o.sms[phone]...)
	o.mu.Unlock()
	return lastCode(t, msgs)
}

func (o *outbox) mailCode(t *testing.T, addr string) string {
	o.mu.Lock()
	msgs := append([]string(nil), o.mail[addr]...)
	o.mu.Unlock()
	return lastCode(t, msgs)
}

type recorder struct {
	mu     sync.Mutex
	events []queue.AuthEvent
}

func (r *recorder) Emit(_ context.Context, ev queue.AuthEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	auth   *Auth
	users  *memUsers
	tokens *memTokens
	otps   *memOtps
	out    *outbox
	events *recorder
	clock  *clock
	issuer *utils.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:  newMemUsers(),
		tokens: &memTokens{},
		otps:   &memOtps{},
		out:    newOutbox(),
		events: &recorder{},
		clock:  &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.issuer = utils.NewIssuer("test-secret", "ahl-allah", "ahl-allah-web", time.Hour).WithClock(f.clock.Now)
	f.auth = New(Deps{
		Users:      f.users,
		Tokens:     f.tokens,
		Otps:       f.otps,
		Issuer:     f.issuer,
		Mailer:     mailbox{f.out},
		SMS:        f.out,
		Events:     f.events,
		Policy:     config.DefaultOtpPolicy(),
		BcryptCost: bcrypt.MinCost,
		Now:        f.clock.Now,
	})
	return f
}

func requireKind(t *testing.T, err error, kind Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	var se *Error
	require.True(t, errors.As(err, &se), "not a service error: %v", err)
	require.Equal(t, kind, se.Kind, se.Message)
	if msg != "" {
		require.Equal(t, msg, se.Message)
	}
}
