package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const sessionContextKey contextKey = "session"

// Roles a bearer token can carry.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// sessionTTL bounds how long a verified token skips the bcrypt comparison.
const sessionTTL = 24 * time.Hour

// Session represents a verified caller of the local API.
type Session struct {
	Role      string
	CreatedAt time.Time
}

// SessionStore caches verified tokens so bcrypt runs once per token per day.
// Tokens are keyed by their SHA-256 digest, never stored raw.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Put caches a verified session for token.
// PRE: token is non-empty
// POST: Session is stored with CreatedAt = now
func (ss *SessionStore) Put(token, role string) Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	session := Session{Role: role, CreatedAt: ss.now()}
	ss.sessions[digest(token)] = session
	return session
}

// Get retrieves a session by token.
// PRE: token is non-empty
// POST: Returns session if cached and not expired; expired sessions are dropped
func (ss *SessionStore) Get(token string) (Session, bool) {
	key := digest(token)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	session, ok := ss.sessions[key]
	if !ok {
		return Session{}, false
	}
	if ss.now().Sub(session.CreatedAt) > sessionTTL {
		delete(ss.sessions, key)
		return Session{}, false
	}
	return session, true
}

// Delete removes a session by token.
func (ss *SessionStore) Delete(token string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, digest(token))
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenVerifier checks bearer tokens against the configured bcrypt hashes.
type TokenVerifier struct {
	memberHash []byte
	adminHash  []byte
	sessions   *SessionStore
}

// NewTokenVerifier creates a verifier. Empty hashes disable that role.
func NewTokenVerifier(memberHash, adminHash string, sessions *SessionStore) *TokenVerifier {
	v := &TokenVerifier{sessions: sessions}
	if memberHash != "" {
		v.memberHash = []byte(memberHash)
	}
	if adminHash != "" {
		v.adminHash = []byte(adminHash)
	}
	return v
}

// Open reports whether no token hashes are configured. An open verifier
// treats every caller as admin; it is only allowed outside production.
func (v *TokenVerifier) Open() bool {
	return len(v.memberHash) == 0 && len(v.adminHash) == 0
}

// Verify resolves token to a session.
// PRE: token is non-empty
// POST: Returns the cached or freshly verified session, or false
func (v *TokenVerifier) Verify(token string) (Session, bool) {
	if session, ok := v.sessions.Get(token); ok {
		return session, true
	}
	switch {
	case len(v.adminHash) > 0 && bcrypt.CompareHashAndPassword(v.adminHash, []byte(token)) == nil:
		return v.sessions.Put(token, RoleAdmin), true
	case len(v.memberHash) > 0 && bcrypt.CompareHashAndPassword(v.memberHash, []byte(token)) == nil:
		return v.sessions.Put(token, RoleMember), true
	}
	return Session{}, false
}

// HashToken returns the bcrypt hash stored in config for token.
// PRE: token is non-empty
// POST: Returns a hash accepted by NewTokenVerifier
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

// Auth returns middleware that verifies the bearer token and sets the session in context.
// It does NOT block unauthenticated requests; RequireRole does that.
func Auth(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier.Open() {
				r = r.WithContext(ContextWithSession(r.Context(), Session{Role: RoleAdmin}))
				next.ServeHTTP(w, r)
				return
			}
			if token, ok := bearerToken(r); ok {
				if session, ok := verifier.Verify(token); ok {
					r = r.WithContext(ContextWithSession(r.Context(), session))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole returns middleware that blocks requests from callers without one of the specified roles.
// Admin satisfies every role.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]bool, len(roles)+1)
	for _, r := range roles {
		roleSet[r] = true
	}
	roleSet[RoleAdmin] = true
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := GetSessionFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="fitsync"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !roleSet[session.Role] {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetSessionFromContext extracts the session from the request context.
func GetSessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(Session)
	return session, ok
}

// IsAdmin checks if the current session is an admin.
func IsAdmin(ctx context.Context) bool {
	session, ok := GetSessionFromContext(ctx)
	return ok && session.Role == RoleAdmin
}

// ContextWithSession returns a context with the given session set.
// Intended for use in tests.
func ContextWithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
