package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"licensetrack/internal/domain"
)

type fakeIdentity struct {
	getSessionFn func(ctx context.Context, token string) (*domain.Session, error)
	signOutFn    func(ctx context.Context, token string) error
}

func (f *fakeIdentity) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	if f.getSessionFn != nil {
		return f.getSessionFn(ctx, token)
	}
	return nil, nil
}

func (f *fakeIdentity) SignIn(context.Context, string, string, string, string) (*domain.Session, error) {
	return nil, ErrInvalidCredentials
}

func (f *fakeIdentity) SignOut(ctx context.Context, token string) error {
	if f.signOutFn != nil {
		return f.signOutFn(ctx, token)
	}
	return nil
}

func (f *fakeIdentity) Refresh(context.Context, string) (*domain.Session, error) {
	return nil, ErrSessionNotFound
}

func (f *fakeIdentity) OnSessionChange(func(SessionChange)) func() { return func() {} }

type countingObserver struct{ got []string }

func (o *countingObserver) ObserveGuardDecision(outcome string) { o.got = append(o.got, outcome) }

var guardNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func liveSession() *domain.Session {
	return &domain.Session{Token: "tok", UserID: 1, ExpiresAt: guardNow.Add(time.Hour)}
}

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		public, valid bool
		path          string
		want          Outcome
	}{
		{true, false, "/login", Allow},
		{true, false, "/", Allow},
		{true, true, "/login", RedirectToDashboard},
		{true, true, "/", Allow},
		{false, false, "/dashboard", RedirectToLogin},
		{false, true, "/dashboard", Allow},
	}
	for _, tt := range tests {
		if got := Decide(tt.public, tt.valid, tt.path); got != tt.want {
			t.Errorf("Decide(%v, %v, %q) = %s, want %s", tt.public, tt.valid, tt.path, got, tt.want)
		}
	}
}

func TestGuard_IsPublic(t *testing.T) {
	g := NewGuard(&fakeIdentity{}, nil)
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"", true},
		{"/login", true},
		{"/login/", true},
		{"/login/reset", true},
		{"/loginx", false},
		{"/privacy", true},
		{"/sitemap.xml", true},
		{"/dashboard", false},
		{"/dashboard/licenses", false},
		{"/licenses", false},
		{"/../dashboard", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := g.IsPublic(tt.path); got != tt.want {
				t.Errorf("IsPublic(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestGuard_Evaluate(t *testing.T) {
	tests := []struct {
		name     string
		sess     *domain.Session
		path     string
		want     Outcome
		location string
	}{
		{"no session on protected", nil, "/dashboard/licenses", RedirectToLogin, "/login"},
		{"valid session on login", liveSession(), "/login", RedirectToDashboard, "/dashboard"},
		{"valid session on landing", liveSession(), "/", Allow, ""},
		{"valid session on protected", liveSession(), "/dashboard", Allow, ""},
		{"no session on public", nil, "/terms", Allow, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &fakeIdentity{
				getSessionFn: func(context.Context, string) (*domain.Session, error) { return tt.sess, nil },
			}
			obs := &countingObserver{}
			g := NewGuard(id, nil).WithClock(func() time.Time { return guardNow }).WithObserver(obs)
			d := g.Evaluate(context.Background(), "tok", tt.path)
			if d.Outcome != tt.want {
				t.Errorf("expected %s, got %s", tt.want, d.Outcome)
			}
			if d.Location != tt.location {
				t.Errorf("expected location %q, got %q", tt.location, d.Location)
			}
			if len(obs.got) != 1 || obs.got[0] != tt.want.String() {
				t.Errorf("expected observer to see %s, got %v", tt.want, obs.got)
			}
		})
	}
}

func TestGuard_Evaluate_IdentityErrorIsNoSession(t *testing.T) {
	id := &fakeIdentity{
		getSessionFn: func(context.Context, string) (*domain.Session, error) {
			return nil, errors.New("identity provider down")
		},
	}
	g := NewGuard(id, nil).WithClock(func() time.Time { return guardNow })
	if d := g.Evaluate(context.Background(), "tok", "/dashboard"); d.Outcome != RedirectToLogin {
		t.Errorf("expected redirect to login, got %s", d.Outcome)
	}
	if d := g.Evaluate(context.Background(), "tok", "/login"); d.Outcome != Allow {
		t.Errorf("expected allow on public path, got %s", d.Outcome)
	}
}

func TestGuard_Evaluate_ExpiredSessionSignsOut(t *testing.T) {
	var signedOut string
	id := &fakeIdentity{
		getSessionFn: func(context.Context, string) (*domain.Session, error) {
			return &domain.Session{Token: "tok", ExpiresAt: guardNow}, nil
		},
		signOutFn: func(_ context.Context, token string) error {
			signedOut = token
			return nil
		},
	}
	g := NewGuard(id, nil).WithClock(func() time.Time { return guardNow })
	d := g.Evaluate(context.Background(), "tok", "/dashboard")
	if d.Outcome != RedirectToLogin {
		t.Errorf("expected redirect to login, got %s", d.Outcome)
	}
	if d.Session != nil {
		t.Error("expected no session on decision")
	}
	if signedOut != "tok" {
		t.Errorf("expected sign out of tok, got %q", signedOut)
	}
}

func TestGuard_Evaluate_NoTokenSkipsIdentity(t *testing.T) {
	id := &fakeIdentity{
		getSessionFn: func(context.Context, string) (*domain.Session, error) {
			t.Error("identity should not be consulted without a token")
			return nil, nil
		},
	}
	g := NewGuard(id, nil)
	if d := g.Evaluate(context.Background(), "", "/dashboard"); d.Outcome != RedirectToLogin {
		t.Errorf("expected redirect to login, got %s", d.Outcome)
	}
}

func signedInService(t *testing.T, ttl time.Duration) (*AuthService, *domain.Session) {
	t.Helper()
	svc := NewAuthService(passwordUser(t, "correct horse"), newFakeSessions()).WithSessionTTL(ttl)
	sess, err := svc.SignIn(context.Background(), "nurse@example.com", "correct horse", "", "")
	if err != nil {
		t.Fatal(err)
	}
	return svc, sess
}

func waitDecision(t *testing.T, ch <-chan Decision) Decision {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redirect")
	}
	return Decision{}
}

func TestGuard_Watch_RedirectsOnSignOut(t *testing.T) {
	svc, sess := signedInService(t, time.Hour)
	g := NewGuard(svc, nil)

	redirects := make(chan Decision, 1)
	stop := g.Watch(context.Background(), sess.Token, "/dashboard", func(d Decision) { redirects <- d })
	defer stop()

	select {
	case d := <-redirects:
		t.Fatalf("unexpected early redirect %+v", d)
	case <-time.After(50 * time.Millisecond):
	}

	if err := svc.SignOut(context.Background(), sess.Token); err != nil {
		t.Fatal(err)
	}
	d := waitDecision(t, redirects)
	if d.Outcome != RedirectToLogin || d.Location != LoginPath {
		t.Errorf("expected redirect to login, got %+v", d)
	}
}

func TestGuard_Watch_RedirectsAtExpiry(t *testing.T) {
	sessions := newFakeSessions()
	svc := NewAuthService(passwordUser(t, "correct horse"), sessions).WithSessionTTL(100 * time.Millisecond)
	sess, err := svc.SignIn(context.Background(), "nurse@example.com", "correct horse", "", "")
	if err != nil {
		t.Fatal(err)
	}
	changes, mu, unsubscribe := recordChanges(svc)
	defer unsubscribe()
	g := NewGuard(svc, nil)

	redirects := make(chan Decision, 1)
	stop := g.Watch(context.Background(), sess.Token, "/dashboard/licenses", func(d Decision) { redirects <- d })
	defer stop()

	d := waitDecision(t, redirects)
	if d.Outcome != RedirectToLogin {
		t.Errorf("expected redirect to login, got %s", d.Outcome)
	}

	// The expired session is signed out before the redirect is delivered.
	if sessions.len() != 0 {
		t.Errorf("expected expired session removed from the store, got %d", sessions.len())
	}
	mu.Lock()
	defer mu.Unlock()
	var kinds []ChangeKind
	for _, c := range *changes {
		if c.Token == sess.Token {
			kinds = append(kinds, c.Kind)
		}
	}
	if len(kinds) < 2 || kinds[len(kinds)-2] != SessionExpired || kinds[len(kinds)-1] != SessionSignedOut {
		t.Errorf("expected expired then signed_out changes, got %v", kinds)
	}
}

func TestGuard_Watch_SignInOnLoginPage(t *testing.T) {
	svc := NewAuthService(passwordUser(t, "correct horse"), newFakeSessions())
	g := NewGuard(svc, nil)

	sess, err := svc.SignIn(context.Background(), "nurse@example.com", "correct horse", "", "")
	if err != nil {
		t.Fatal(err)
	}
	redirects := make(chan Decision, 1)
	stop := g.Watch(context.Background(), sess.Token, "/login", func(d Decision) { redirects <- d })
	defer stop()

	d := waitDecision(t, redirects)
	if d.Outcome != RedirectToDashboard || d.Location != DashboardPath {
		t.Errorf("expected redirect to dashboard, got %+v", d)
	}
}

func TestGuard_Watch_StopReleasesSubscription(t *testing.T) {
	svc, sess := signedInService(t, time.Hour)
	g := NewGuard(svc, nil)

	stop := g.Watch(context.Background(), sess.Token, "/dashboard", func(Decision) {
		t.Error("unexpected redirect")
	})
	if svc.events.count() != 1 {
		t.Fatalf("expected 1 listener, got %d", svc.events.count())
	}
	stop()
	stop()
	if svc.events.count() != 0 {
		t.Errorf("expected listener released, got %d", svc.events.count())
	}
	_ = svc.SignOut(context.Background(), sess.Token)
}

func TestGuard_Watch_ContextCancel(t *testing.T) {
	svc, sess := signedInService(t, time.Hour)
	g := NewGuard(svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stop := g.Watch(ctx, sess.Token, "/dashboard", func(Decision) {})
	cancel()
	stop()
	if svc.events.count() != 0 {
		t.Errorf("expected listener released, got %d", svc.events.count())
	}
}
