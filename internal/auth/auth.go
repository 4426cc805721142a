// Package auth handles passwords, login sessions and the session cookie.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/codezoo/codezoo/internal/config"
	"github.com/codezoo/codezoo/internal/store"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email is already registered")
)

// Store is the persistence the service needs. *store.Store implements it.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash, displayName string) (store.User, error)
	UserByEmail(ctx context.Context, email string) (store.User, error)
	CreateSession(ctx context.Context, in store.NewSession) (store.Session, error)
	SessionUser(ctx context.Context, token string) (store.Session, store.User, error)
	DeleteSession(ctx context.Context, token string) error
}

// Credentials are the fields of the login and register forms.
type Credentials struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"displayName,omitempty" validate:"max=100"`
}

// Client describes where a request came from.
type Client struct {
	IP        string
	UserAgent string
}

// ClientFrom describes the request's client. See ClientIP.
func ClientFrom(r *http.Request) Client {
	return Client{IP: ClientIP(r), UserAgent: r.UserAgent()}
}

// ClientIP extracts the client IP from the request.
// It only trusts X-Forwarded-For / X-Real-IP when the immediate peer is a
// loopback or private address (i.e., behind a reverse proxy).
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peerIP := net.ParseIP(host)
	trustedProxy := peerIP != nil && (peerIP.IsLoopback() || peerIP.IsPrivate())

	if trustedProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if parts := strings.SplitN(xff, ",", 2); len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if peerIP != nil {
		return peerIP.String()
	}
	return host
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword hashes a password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// VerifyPassword reports whether password matches hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Service registers users and manages their sessions.
type Service struct {
	store Store
	cfg   config.AuthConfig
	now   func() time.Time
	dummy string
}

// New creates a Service.
func New(st Store, cfg config.AuthConfig) *Service {
	s := &Service{store: st, cfg: cfg, now: time.Now}
	// Compared against for unknown emails so both paths cost one bcrypt run.
	s.dummy, _ = HashPassword(uuid.NewString(), cfg.GetBcryptCost())
	return s
}

// Config returns the auth settings.
func (s *Service) Config() config.AuthConfig {
	return s.cfg
}

// Register creates a user and signs them in.
func (s *Service) Register(ctx context.Context, cred Credentials, client Client) (store.User, *http.Cookie, error) {
	email := NormalizeEmail(cred.Email)
	if email == "" || cred.Password == "" {
		return store.User{}, nil, ErrInvalidCredentials
	}
	hash, err := HashPassword(cred.Password, s.cfg.GetBcryptCost())
	if err != nil {
		return store.User{}, nil, err
	}
	u, err := s.store.CreateUser(ctx, email, hash, strings.TrimSpace(cred.DisplayName))
	if errors.Is(err, store.ErrConflict) {
		return store.User{}, nil, ErrEmailTaken
	}
	if err != nil {
		return store.User{}, nil, err
	}
	cookie, err := s.startSession(ctx, u, client)
	if err != nil {
		return store.User{}, nil, err
	}
	return u, cookie, nil
}

// Login checks credentials and starts a session.
func (s *Service) Login(ctx context.Context, cred Credentials, client Client) (store.User, *http.Cookie, error) {
	u, err := s.store.UserByEmail(ctx, NormalizeEmail(cred.Email))
	if errors.Is(err, store.ErrNotFound) {
		VerifyPassword(cred.Password, s.dummy)
		return store.User{}, nil, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, nil, err
	}
	if !VerifyPassword(cred.Password, u.PasswordHash) {
		return store.User{}, nil, ErrInvalidCredentials
	}
	cookie, err := s.startSession(ctx, u, client)
	if err != nil {
		return store.User{}, nil, err
	}
	return u, cookie, nil
}

func (s *Service) startSession(ctx context.Context, u store.User, client Client) (*http.Cookie, error) {
	token := uuid.NewString()
	expires := s.now().Add(s.cfg.GetSessionTTL())
	_, err := s.store.CreateSession(ctx, store.NewSession{
		UserID:    u.ID,
		Token:     token,
		ExpiresAt: expires,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	return s.sessionCookie(token, expires), nil
}

// Logout deletes the request's session and returns a cookie that clears it.
func (s *Service) Logout(ctx context.Context, r *http.Request) (*http.Cookie, error) {
	if c, err := r.Cookie(s.cfg.GetCookieName()); err == nil && c.Value != "" {
		if err := s.store.DeleteSession(ctx, c.Value); err != nil {
			return nil, err
		}
	}
	return s.clearCookie(), nil
}

// Authenticate resolves the request's session cookie to a user.
func (s *Service) Authenticate(r *http.Request) (store.User, bool) {
	c, err := r.Cookie(s.cfg.GetCookieName())
	if err != nil || c.Value == "" {
		return store.User{}, false
	}
	_, u, err := s.store.SessionUser(r.Context(), c.Value)
	if err != nil {
		return store.User{}, false
	}
	return u, true
}

func (s *Service) sessionCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.GetCookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   int(s.cfg.GetSessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.IsSecure(),
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *Service) clearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.GetCookieName(),
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.IsSecure(),
		SameSite: http.SameSiteStrictMode,
	}
}
