package app

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"licensetrack/internal/domain"
)

// Outcome is the session guard's verdict for one request.
type Outcome int

// Guard outcomes.
const (
	Allow Outcome = iota
	RedirectToLogin
	RedirectToDashboard
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_to_login"
	case RedirectToDashboard:
		return "redirect_to_dashboard"
	}
	return "unknown"
}

// Well-known paths.
const (
	HomePath      = "/"
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// DefaultPublicPaths never require authentication. Entries other than "/"
// also cover everything below them.
var DefaultPublicPaths = []string{
	HomePath,
	LoginPath,
	"/signup",
	"/demo",
	"/privacy",
	"/terms",
	"/contact",
	"/sitemap.xml",
	"/robots.txt",
}

// Decision is the outcome of a guard evaluation plus the session it was
// based on (nil unless the session was valid).
type Decision struct {
	Outcome  Outcome
	Session  *domain.Session
	Location string
}

// DecisionObserver receives every guard outcome.
type DecisionObserver interface {
	ObserveGuardDecision(outcome string)
}

// Decide applies the route authorization table.
func Decide(public, valid bool, p string) Outcome {
	switch {
	case public && !valid:
		return Allow
	case public && p != HomePath:
		return RedirectToDashboard
	case public:
		return Allow
	case !valid:
		return RedirectToLogin
	default:
		return Allow
	}
}

// Guard decides whether a request to a route may proceed.
type Guard struct {
	identity Identity
	public   []string
	now      func() time.Time
	observer DecisionObserver
}

// NewGuard creates a Guard over the given identity collaborator. A nil
// publicPaths uses DefaultPublicPaths.
func NewGuard(identity Identity, publicPaths []string) *Guard {
	if publicPaths == nil {
		publicPaths = DefaultPublicPaths
	}
	return &Guard{identity: identity, public: publicPaths, now: time.Now}
}

// WithClock replaces the time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// WithObserver attaches a decision observer.
func (g *Guard) WithObserver(o DecisionObserver) *Guard {
	g.observer = o
	return g
}

// IsPublic reports whether p is a public path.
func (g *Guard) IsPublic(p string) bool {
	p = cleanPath(p)
	for _, pub := range g.public {
		if pub == HomePath {
			if p == HomePath {
				return true
			}
			continue
		}
		if p == pub || strings.HasPrefix(p, pub+"/") {
			return true
		}
	}
	return false
}

// Decide evaluates the table for an already fetched session.
func (g *Guard) Decide(sess *domain.Session, p string) Outcome {
	p = cleanPath(p)
	return Decide(g.IsPublic(p), domain.IsValidSession(sess, g.now()), p)
}

// Evaluate fetches the session for token and decides. A failing identity
// collaborator counts as no session. A stored session found expired is signed
// out before the decision is returned.
func (g *Guard) Evaluate(ctx context.Context, token, p string) Decision {
	var sess *domain.Session
	if token != "" {
		s, err := g.identity.GetSession(ctx, token)
		if err != nil {
			slog.Warn("guard: identity unavailable, treating as signed out",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		} else {
			sess = s
		}
	}

	if sess != nil && !sess.Valid(g.now()) {
		if err := g.identity.SignOut(ctx, token); err != nil {
			slog.Warn("guard: sign out of expired session failed",
				slog.String("error", err.Error()),
			)
		}
		sess = nil
	}

	return g.Resolve(sess, p)
}

// Resolve decides for an already fetched session and fills in the redirect
// target.
func (g *Guard) Resolve(sess *domain.Session, p string) Decision {
	outcome := g.Decide(sess, p)
	if g.observer != nil {
		g.observer.ObserveGuardDecision(outcome.String())
	}

	d := Decision{Outcome: outcome}
	switch outcome {
	case Allow:
		d.Session = sess
	case RedirectToLogin:
		d.Location = LoginPath
	case RedirectToDashboard:
		d.Location = DashboardPath
		d.Session = sess
	}
	return d
}

// Watch keeps re-evaluating a mounted protected view at path p. It
// re-checks on every change to the session behind token and when the
// session reaches its expiration instant. The first non-Allow decision is
// passed to onRedirect and the watch ends. The returned stop func, or
// cancelling ctx, releases the subscription; stop waits for the watcher to
// exit and is safe to call more than once.
func (g *Guard) Watch(ctx context.Context, token, p string, onRedirect func(Decision)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	changes := make(chan SessionChange, 8)
	unsubscribe := g.identity.OnSessionChange(func(c SessionChange) {
		if c.Token != token {
			return
		}
		select {
		case changes <- c:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		g.watch(ctx, token, p, changes, onRedirect)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (g *Guard) watch(ctx context.Context, token, p string, changes <-chan SessionChange, onRedirect func(Decision)) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	check := func() bool {
		d := g.Evaluate(ctx, token, p)
		if ctx.Err() != nil {
			return false
		}
		if d.Outcome != Allow {
			onRedirect(d)
			return false
		}
		if d.Session != nil {
			timer.Reset(d.Session.ExpiresAt.Sub(g.now()))
		}
		return true
	}

	if !check() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
		case <-timer.C:
		}
		if !check() {
			return
		}
	}
}

func cleanPath(p string) string {
	if p == "" {
		return HomePath
	}
	return path.Clean("/" + p)
}
