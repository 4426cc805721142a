package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is an account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is a login session identified by an opaque cookie token.
type Session struct {
	ID         string
	UserID     string
	Token      string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt time.Time
	IP         string
	UserAgent  string
}

// NewSession describes a session to create.
type NewSession struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
	IP        string
	UserAgent string
}

// CreateUser inserts a user. The email must already be normalized.
// ErrConflict is returned when the email is taken.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, displayName string) (User, error) {
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    s.timestamp(),
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := s.queryRow(ctx, tx, `SELECT id FROM users WHERE email = ?`, email).Scan(&existing)
		if err == nil {
			return ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = s.exec(ctx, tx,
			`INSERT INTO users (id, email, password_hash, display_name, created_at) VALUES (?, ?, ?, ?, ?)`,
			u.ID, u.Email, u.PasswordHash, nullString(u.DisplayName), u.CreatedAt)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return User{}, err
		}
		return User{}, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

const userColumns = `id, email, password_hash, display_name, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var name sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &name, &u.CreatedAt); err != nil {
		return User{}, notFound(err)
	}
	u.DisplayName = name.String
	return u, nil
}

// UserByEmail looks a user up by normalized email.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.queryRow(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// UserByID looks a user up by id.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	return scanUser(s.queryRow(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, in NewSession) (Session, error) {
	now := s.timestamp()
	sess := Session{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		Token:      in.Token,
		ExpiresAt:  in.ExpiresAt.UTC().Truncate(time.Microsecond),
		CreatedAt:  now,
		LastSeenAt: now,
		IP:         in.IP,
		UserAgent:  in.UserAgent,
	}
	_, err := s.exec(ctx, s.db,
		`INSERT INTO sessions (id, user_id, token, expires_at, created_at, last_seen_at, ip, user_agent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Token, sess.ExpiresAt, sess.CreatedAt, sess.LastSeenAt,
		nullString(sess.IP), nullString(sess.UserAgent))
	if err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

// SessionUser resolves a live session token to its user and touches
// last_seen_at. Expired sessions are deleted and reported as ErrNotFound.
func (s *Store) SessionUser(ctx context.Context, token string) (Session, User, error) {
	var sess Session
	var u User
	var ip, agent, name sql.NullString
	err := s.queryRow(ctx, s.db,
		`SELECT s.id, s.user_id, s.token, s.expires_at, s.created_at, s.last_seen_at, s.ip, s.user_agent,
		        u.id, u.email, u.password_hash, u.display_name, u.created_at
		 FROM sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.token = ?`, token).
		Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.ExpiresAt, &sess.CreatedAt, &sess.LastSeenAt, &ip, &agent,
			&u.ID, &u.Email, &u.PasswordHash, &name, &u.CreatedAt)
	if err != nil {
		return Session{}, User{}, notFound(err)
	}
	sess.IP, sess.UserAgent, u.DisplayName = ip.String, agent.String, name.String

	now := s.timestamp()
	if sess.ExpiresAt.Before(now) {
		if _, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE id = ?`, sess.ID); err != nil {
			return Session{}, User{}, fmt.Errorf("store: delete expired session: %w", err)
		}
		return Session{}, User{}, ErrNotFound
	}

	if _, err := s.exec(ctx, s.db, `UPDATE sessions SET last_seen_at = ? WHERE id = ?`, now, sess.ID); err != nil {
		return Session{}, User{}, fmt.Errorf("store: touch session: %w", err)
	}
	sess.LastSeenAt = now
	return sess, u, nil
}

// DeleteSession removes a session by token. Unknown tokens are not an error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session past its expiry.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE expires_at < ?`, s.timestamp())
	if err != nil {
		return 0, fmt.Errorf("store: delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
