// Package auth issues and checks station sessions.
//
// A Gate logs users in against bcrypt hashes held in the store, hands out
// opaque tokens, and answers whether a session may perform a capability.
// Sessions live in a SessionStore so that several servers can share them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/alfredjeanlab/tracegate/internal/idgen"
	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/store"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrExpired               = errors.New("session expired")
	ErrRevoked               = errors.New("session revoked")
	ErrForbidden             = errors.New("forbidden")
	ErrJustificationRequired = errors.New("justification required")
)

// DefaultSessionTTL is how long a session lives without a heartbeat.
const DefaultSessionTTL = 8 * time.Hour

// DefaultRetention is how long an expired or revoked session is kept so
// that its token keeps failing with ErrExpired or ErrRevoked.
const DefaultRetention = 24 * time.Hour

// UserLookup is the part of the store the gate reads users from.
type UserLookup interface {
	GetUserByName(ctx context.Context, name string) (*model.User, error)
}

// Config tunes a Gate. Zero values pick defaults.
type Config struct {
	SessionTTL time.Duration
	Retention  time.Duration // how long past expiry ExpireSweep keeps a session
	Now        func() time.Time
	Logger     *zap.Logger
}

// Gate is the session authority.
type Gate struct {
	users     UserLookup
	sessions  SessionStore
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger

	// mu orders read-modify-write cycles on sessions of this process.
	mu sync.Mutex
}

// NewGate returns a gate reading users from users and keeping sessions in
// sessions.
func NewGate(users UserLookup, sessions SessionStore, cfg Config) *Gate {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Gate{
		users:     users,
		sessions:  sessions,
		ttl:       cfg.SessionTTL,
		retention: cfg.Retention,
		now:       cfg.Now,
		logger:    cfg.Logger.Named("auth"),
	}
}

// dummyHash is compared against when the user does not exist so that
// unknown names take as long as wrong passwords.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("tracegate-dummy"), bcrypt.MinCost)

// HashPassword returns the bcrypt hash stored for a user.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("empty password")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Login checks the password and opens a new session, revoking the user's
// previous one.
func (g *Gate) Login(ctx context.Context, name, password string) (*model.Session, error) {
	user, err := g.users.GetUserByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		return nil, ErrInvalidCredentials
	}

	token, err := idgen.Token()
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()
	sess := &model.Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Role:      user.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.ttl),
		LastSeen:  now,
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	prev, err := g.sessions.SetActive(ctx, user.ID, token)
	if err != nil {
		return nil, fmt.Errorf("set active session: %w", err)
	}
	if prev != "" && prev != token {
		if err := g.revokeLocked(ctx, prev); err != nil && !errors.Is(err, ErrInvalidCredentials) {
			g.logger.Warn("revoke previous session", zap.String("user", user.Name), zap.Error(err))
		}
	}
	g.logger.Info("login", zap.String("user", user.Name), zap.String("role", string(user.Role)))
	return sess, nil
}

// Validate returns the live session for token. It never changes state.
func (g *Gate) Validate(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, ErrInvalidCredentials
	}
	sess, err := g.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Revoked {
		return nil, ErrRevoked
	}
	if sess.Expired(g.now()) {
		return nil, ErrExpired
	}
	return sess, nil
}

// Authorize reports whether sess holds capability c.
func (g *Gate) Authorize(sess *model.Session, c model.Capability) error {
	if sess == nil || !sess.Role.Can(c) {
		return ErrForbidden
	}
	return nil
}

// AuthorizeOverride checks the override capability and that a
// justification was given.
func (g *Gate) AuthorizeOverride(sess *model.Session, reason string) error {
	if err := g.Authorize(sess, model.CapOverride); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return ErrJustificationRequired
	}
	return nil
}

// Touch records a heartbeat and slides the session's expiry forward.
func (g *Gate) Touch(ctx context.Context, token string) (*model.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, err := g.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()
	sess.LastSeen = now
	sess.ExpiresAt = now.Add(g.ttl)
	if err := g.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// Revoke invalidates token. Revoking twice is not an error.
func (g *Gate) Revoke(ctx context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.revokeLocked(ctx, token)
}

func (g *Gate) revokeLocked(ctx context.Context, token string) error {
	sess, err := g.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if sess.Revoked {
		return nil
	}
	sess.Revoked = true
	if err := g.sessions.Put(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	g.logger.Info("session revoked", zap.String("user", sess.UserName))
	return nil
}

// Logout validates token and revokes it.
func (g *Gate) Logout(ctx context.Context, token string) error {
	if _, err := g.Validate(ctx, token); err != nil {
		return err
	}
	return g.Revoke(ctx, token)
}

// ExpireSweep deletes sessions that expired more than the retention ago
// and returns how many were removed. Younger expired and revoked sessions
// stay so Validate can still say why they fail.
func (g *Gate) ExpireSweep(ctx context.Context) (int, error) {
	n, err := g.sessions.DeleteExpired(ctx, g.now().Add(-g.retention))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	if n > 0 {
		g.logger.Debug("expired sessions removed", zap.Int("count", n))
	}
	return n, nil
}
