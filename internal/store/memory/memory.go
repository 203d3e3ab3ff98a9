// Package memory implements the store interfaces with mutex-guarded maps.
// It is the test double and the dev-mode store; semantics mirror the Scylla
// family exactly, including soft-delete and append-only behavior.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"identity-service/internal/clock"
	"identity-service/internal/model"
	"identity-service/internal/store"
)

// New returns a complete in-memory store family.
func New() *store.Store {
	return &store.Store{
		Users:    NewUserRepository(),
		Codes:    NewOTPRepository(),
		Sessions: NewSessionRepository(),
		Attempts: NewAttemptRepository(),
		Audit:    NewAuditRepository(),
		Refresh:  NewRefreshTokenStore(nil),
	}
}

// -------------------- users --------------------

type UserRepository struct {
	mu       sync.RWMutex
	users    map[string]*model.User    // user_id -> user
	profiles map[string]*model.Profile // user_id -> profile
	byName   map[string]string         // lower(username) -> user_id
	byEmail  map[string]string         // lower(email) -> user_id
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:    make(map[string]*model.User),
		profiles: make(map[string]*model.Profile),
		byName:   make(map[string]string),
		byEmail:  make(map[string]string),
	}
}

func (r *UserRepository) CreateUser(_ context.Context, user *model.User, profile *model.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := *user
	r.users[u.UserID] = &u
	r.byName[strings.ToLower(u.Username)] = u.UserID
	if profile != nil {
		p := *profile
		r.profiles[u.UserID] = &p
		r.byEmail[strings.ToLower(p.Email)] = u.UserID
	}
	return nil
}

func (r *UserRepository) GetUserByID(_ context.Context, userID string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byName[strings.ToLower(username)]
	r.mu.RUnlock()
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return r.GetUserByID(ctx, id)
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[strings.ToLower(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return r.GetUserByID(ctx, id)
}

func (r *UserRepository) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, store.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *UserRepository) UpdateUser(_ context.Context, userID string, upd model.UserUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.Is2FAEnabled != nil {
		u.Is2FAEnabled = *upd.Is2FAEnabled
	}
	if upd.TwoFASecret != nil {
		u.TwoFASecret = *upd.TwoFASecret
	}
	if upd.LastLogin != nil {
		t := *upd.LastLogin
		u.LastLogin = &t
	}
	return nil
}

// -------------------- one-time codes --------------------

type OTPRepository struct {
	mu    sync.RWMutex
	codes map[string]*model.OneTimeCode // code_id -> code
}

func NewOTPRepository() *OTPRepository {
	return &OTPRepository{codes: make(map[string]*model.OneTimeCode)}
}

func (r *OTPRepository) CreateCode(_ context.Context, code *model.OneTimeCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *code
	r.codes[cp.CodeID] = &cp
	return nil
}

func (r *OTPRepository) GetLatestUnused(_ context.Context, userID, purpose string) (*model.OneTimeCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *model.OneTimeCode
	for _, c := range r.codes {
		if c.UserID != userID || c.Purpose != purpose || c.IsUsed {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, store.ErrCodeNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *OTPRepository) MarkUsed(_ context.Context, codeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeID]
	if !ok {
		return store.ErrCodeNotFound
	}
	c.IsUsed = true
	return nil
}

func (r *OTPRepository) DeleteExpired(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, c := range r.codes {
		if c.ExpiresAt.Before(olderThan) {
			delete(r.codes, id)
			deleted++
		}
	}
	return deleted, nil
}

// -------------------- sessions --------------------

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*model.Session)}
}

func (r *SessionRepository) CreateSession(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[cp.SessionID] = &cp
	return nil
}

func (r *SessionRepository) GetSession(_ context.Context, sessionID string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *SessionRepository) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return store.ErrSessionNotFound
	}
	s.LastAccessed = at
	return nil
}

func (r *SessionRepository) DeactivateSession(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return store.ErrSessionNotFound
	}
	if s.IsActive {
		s.IsActive = false
		t := at
		s.LoggedOutAt = &t
	}
	return nil
}

func (r *SessionRepository) DeactivateAllForUser(_ context.Context, username string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	lower := strings.ToLower(username)
	for _, s := range r.sessions {
		if strings.ToLower(s.Username) == lower && s.IsActive {
			s.IsActive = false
			t := at
			s.LoggedOutAt = &t
			count++
		}
	}
	return count, nil
}

func (r *SessionRepository) ListActiveForUser(_ context.Context, username string) ([]*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lower := strings.ToLower(username)
	var out []*model.Session
	for _, s := range r.sessions {
		if strings.ToLower(s.Username) == lower && s.IsActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SessionRepository) DeactivateCreatedBefore(_ context.Context, cutoff time.Time, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range r.sessions {
		if s.IsActive && s.CreatedAt.Before(cutoff) {
			s.IsActive = false
			t := at
			s.LoggedOutAt = &t
			count++
		}
	}
	return count, nil
}

// -------------------- login attempts --------------------

type AttemptRepository struct {
	mu       sync.RWMutex
	attempts []*model.LoginAttempt
}

func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{}
}

func (r *AttemptRepository) RecordAttempt(_ context.Context, attempt *model.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *attempt
	r.attempts = append(r.attempts, &cp)
	return nil
}

func (r *AttemptRepository) ListAttempts(_ context.Context, identifier string, limit int) ([]*model.LoginAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lower := strings.ToLower(identifier)
	var out []*model.LoginAttempt
	for i := len(r.attempts) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		a := r.attempts[i]
		if strings.ToLower(a.Identifier) == lower {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// -------------------- audit --------------------

type AuditRepository struct {
	mu      sync.RWMutex
	entries []*model.AuditEntry
	// FailNext forces the next append to fail; audit writes must degrade to
	// best effort, and tests exercise that path through this switch.
	FailNext bool
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) AppendEntry(_ context.Context, entry *model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailNext {
		r.FailNext = false
		return context.DeadlineExceeded
	}
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *AuditRepository) ListEntries(_ context.Context, userID string, limit int) ([]*model.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.AuditEntry
	for i := len(r.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := r.entries[i]
		if userID == "" || e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// -------------------- refresh tokens --------------------

type RefreshTokenStore struct {
	mu     sync.Mutex
	clock  clock.Clock
	tokens map[string]refreshEntry
}

type refreshEntry struct {
	userID    string
	expiresAt time.Time
}

func NewRefreshTokenStore(clk clock.Clock) *RefreshTokenStore {
	if clk == nil {
		clk = clock.System()
	}
	return &RefreshTokenStore{clock: clk, tokens: make(map[string]refreshEntry)}
}

func (r *RefreshTokenStore) Store(_ context.Context, token, userID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = refreshEntry{userID: userID, expiresAt: r.clock.Now().Add(ttl)}
	return nil
}

func (r *RefreshTokenStore) Redeem(_ context.Context, token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tokens[token]
	if !ok || r.clock.Now().After(entry.expiresAt) {
		delete(r.tokens, token)
		return "", store.ErrTokenNotFound
	}
	delete(r.tokens, token)
	return entry.userID, nil
}

func (r *RefreshTokenStore) Revoke(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
	return nil
}

func (r *RefreshTokenStore) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for t, entry := range r.tokens {
		if entry.userID == userID {
			delete(r.tokens, t)
			count++
		}
	}
	return count, nil
}
