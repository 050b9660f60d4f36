// Package escalation manages the time-bound admin sessions that unlock
// privileged operations. A user re-proves their identity with their
// admin credential, and on success holds exactly one session that
// expires on its own after the configured window.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lernia.org/internal/obs"
)

var (
	ErrNotFound = errors.New("escalation: not found")
	// ErrUnauthorized means the supplied credential did not match.
	ErrUnauthorized = errors.New("escalation: invalid credential")
	// ErrForbidden means the user is not entitled to escalate at all.
	ErrForbidden = errors.New("escalation: not entitled")
)

// DefaultTTL is how long an escalation session lives unless the manager
// is configured otherwise.
const DefaultTTL = 30 * time.Minute

// Session is one active escalation window for a user.
type Session struct {
	UserID    string    `json:"user_id"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore holds at most one session per user. Replace atomically
// swaps any existing session for the user.
type SessionStore interface {
	Replace(ctx context.Context, s Session) error
	Session(ctx context.Context, userID string) (Session, error)
	Delete(ctx context.Context, userID string) error
}

// CredentialStore keeps the bcrypt hash of each user's admin
// credential.
type CredentialStore interface {
	CredentialHash(ctx context.Context, userID string) (string, error)
	SetCredentialHash(ctx context.Context, userID, hash string) error
}

// Entitlements decides whether a user may open an escalation session in
// the first place. The permission resolver implements it.
type Entitlements interface {
	EntitledToEscalate(ctx context.Context, userID string) (bool, error)
}

// Manager drives the escalate / check / de-escalate lifecycle.
type Manager struct {
	sessions     SessionStore
	credentials  CredentialStore
	entitlements Entitlements
	ttl          time.Duration
	now          func() time.Time
}

type Option func(*Manager)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(sessions SessionStore, credentials CredentialStore, entitlements Entitlements, opts ...Option) *Manager {
	m := &Manager{
		sessions:     sessions,
		credentials:  credentials,
		entitlements: entitlements,
		ttl:          DefaultTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Escalate verifies the credential and the entitlement, then opens a
// fresh session. Any prior session for the user is replaced, so the
// expiry window always restarts.
func (m *Manager) Escalate(ctx context.Context, userID, credential string) (Session, error) {
	if userID == "" || credential == "" {
		return Session{}, fmt.Errorf("%w: user id and credential are required", ErrUnauthorized)
	}
	hash, err := m.credentials.CredentialHash(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, fmt.Errorf("%w: no admin credential on file", ErrUnauthorized)
		}
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)) != nil {
		return Session{}, ErrUnauthorized
	}
	entitled, err := m.entitlements.EntitledToEscalate(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if !entitled {
		return Session{}, ErrForbidden
	}

	_, hadPrior, err := m.Active(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	s := Session{UserID: userID, GrantedAt: now, ExpiresAt: now.Add(m.ttl)}
	if err := m.sessions.Replace(ctx, s); err != nil {
		return Session{}, err
	}
	if !hadPrior {
		obs.EscalationSessionOpened()
	}
	return s, nil
}

// Active reports whether the user currently holds a live session.
// Expired sessions are reaped on sight.
func (m *Manager) Active(ctx context.Context, userID string) (Session, bool, error) {
	s, err := m.sessions.Session(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	if !m.now().Before(s.ExpiresAt) {
		if err := m.sessions.Delete(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
			return Session{}, false, err
		}
		obs.EscalationSessionClosed()
		return Session{}, false, nil
	}
	return s, true, nil
}

// DeEscalate ends the user's session. Calling it without an active
// session is not an error.
func (m *Manager) DeEscalate(ctx context.Context, userID string) error {
	_, active, err := m.Active(ctx, userID)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}
	if err := m.sessions.Delete(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	obs.EscalationSessionClosed()
	return nil
}

// SetCredential hashes and stores the user's admin credential,
// replacing any prior one. This is the provisioning path used at
// bootstrap and by operator tooling.
func (m *Manager) SetCredential(ctx context.Context, userID, credential string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrUnauthorized)
	}
	hash, err := HashCredential(credential)
	if err != nil {
		return err
	}
	return m.credentials.SetCredentialHash(ctx, userID, hash)
}

// HashCredential produces the bcrypt hash stored for a user's admin
// credential.
func HashCredential(credential string) (string, error) {
	if len(credential) < 8 {
		return "", fmt.Errorf("%w: credential must be at least 8 characters", ErrUnauthorized)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
