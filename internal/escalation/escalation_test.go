package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeEntitlements map[string]bool

func (f fakeEntitlements) EntitledToEscalate(ctx context.Context, userID string) (bool, error) {
	return f[userID], nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	creds := NewInMemoryCredentials()
	hash, err := HashCredential("correct-horse")
	if err != nil {
		t.Fatalf("hash credential: %v", err)
	}
	if err := creds.SetCredentialHash(context.Background(), "alice", hash); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	if err := creds.SetCredentialHash(context.Background(), "mallory", hash); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	entitled := fakeEntitlements{"alice": true}
	all := append([]Option{WithClock(clock.Now)}, opts...)
	return NewManager(NewInMemorySessions(), creds, entitled, all...), clock
}

func TestEscalateLifecycle(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Escalate(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if want := clock.Now().Add(DefaultTTL); !s.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", s.ExpiresAt, want)
	}

	if _, active, _ := m.Active(ctx, "alice"); !active {
		t.Fatalf("session should be active right after escalation")
	}

	clock.Advance(DefaultTTL - time.Second)
	if _, active, _ := m.Active(ctx, "alice"); !active {
		t.Fatalf("session should still be active just before expiry")
	}

	clock.Advance(2 * time.Second)
	if _, active, _ := m.Active(ctx, "alice"); active {
		t.Fatalf("session should have expired")
	}
}

func TestEscalateReplacesPriorSession(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	first, err := m.Escalate(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("first escalate: %v", err)
	}
	clock.Advance(10 * time.Minute)
	second, err := m.Escalate(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("second escalate: %v", err)
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Fatalf("re-escalation did not restart the window: %v vs %v", second.ExpiresAt, first.ExpiresAt)
	}

	s, active, err := m.Active(ctx, "alice")
	if err != nil || !active {
		t.Fatalf("active after re-escalation: %v %v", active, err)
	}
	if !s.GrantedAt.Equal(second.GrantedAt) {
		t.Fatalf("old session survived the replacement")
	}
}

func TestEscalateRejectsBadCredential(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Escalate(ctx, "alice", "wrong-credential"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong credential: got %v, want ErrUnauthorized", err)
	}
	if _, err := m.Escalate(ctx, "nobody", "correct-horse"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown user: got %v, want ErrUnauthorized", err)
	}
	if _, active, _ := m.Active(ctx, "alice"); active {
		t.Fatalf("failed escalation must not open a session")
	}
}

func TestEscalateRejectsUnentitledUser(t *testing.T) {
	m, _ := newTestManager(t)

	// mallory has a valid credential but no entitlement.
	if _, err := m.Escalate(context.Background(), "mallory", "correct-horse"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unentitled user: got %v, want ErrForbidden", err)
	}
}

func TestDeEscalateIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.DeEscalate(ctx, "alice"); err != nil {
		t.Fatalf("de-escalate without session: %v", err)
	}
	if _, err := m.Escalate(ctx, "alice", "correct-horse"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if err := m.DeEscalate(ctx, "alice"); err != nil {
		t.Fatalf("de-escalate: %v", err)
	}
	if _, active, _ := m.Active(ctx, "alice"); active {
		t.Fatalf("session still active after de-escalation")
	}
	if err := m.DeEscalate(ctx, "alice"); err != nil {
		t.Fatalf("repeat de-escalate: %v", err)
	}
}

func TestWithTTLOverridesWindow(t *testing.T) {
	m, clock := newTestManager(t, WithTTL(5*time.Minute))
	ctx := context.Background()

	if _, err := m.Escalate(ctx, "alice", "correct-horse"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	clock.Advance(6 * time.Minute)
	if _, active, _ := m.Active(ctx, "alice"); active {
		t.Fatalf("session outlived the configured ttl")
	}
}

func TestHashCredentialRejectsShortSecret(t *testing.T) {
	if _, err := HashCredential("short"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("short credential: got %v, want ErrUnauthorized", err)
	}
}

func TestSetCredentialProvisionsEscalation(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	entitled := fakeEntitlements{"root": true}
	m := NewManager(NewInMemorySessions(), NewInMemoryCredentials(), entitled, WithClock(clock.Now))
	ctx := context.Background()

	// Before provisioning the user has no stored credential.
	if _, err := m.Escalate(ctx, "root", "opening-secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("escalate before provisioning: got %v, want ErrUnauthorized", err)
	}

	if err := m.SetCredential(ctx, "root", "opening-secret"); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	if _, err := m.Escalate(ctx, "root", "opening-secret"); err != nil {
		t.Fatalf("escalate after provisioning: %v", err)
	}

	// Provisioning replaces the prior credential.
	if err := m.SetCredential(ctx, "root", "rotated-secret"); err != nil {
		t.Fatalf("rotate credential: %v", err)
	}
	if _, err := m.Escalate(ctx, "root", "opening-secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("escalate with stale credential: got %v, want ErrUnauthorized", err)
	}

	if err := m.SetCredential(ctx, "root", "short"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("short credential: got %v, want ErrUnauthorized", err)
	}
	if err := m.SetCredential(ctx, "  ", "opening-secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("blank user id: got %v, want ErrUnauthorized", err)
	}
}
