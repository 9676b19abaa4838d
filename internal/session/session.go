// Package session provides token-based session management for the
// scribe API. Tokens are signed JWTs carrying the session ID; session
// state lives in memory and expires on TTL or idle timeout.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/shared/errors"
	"github.com/clinscribe/platform/internal/shared/metrics"
	"github.com/clinscribe/platform/internal/shared/types"
)

// Session represents an active client session
type Session struct {
	ID             types.ID  `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Claims is the JWT payload for session tokens
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// Config holds session parameters
type Config struct {
	Secret      string
	TTL         time.Duration
	IdleTimeout time.Duration
}

// DefaultConfig returns the default session configuration
func DefaultConfig(secret string) Config {
	return Config{
		Secret:      secret,
		TTL:         time.Hour,
		IdleTimeout: 30 * time.Minute,
	}
}

// Manager creates, validates and destroys sessions
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[types.ID]*Session
}

// NewManager creates a session manager
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return &Manager{
		cfg:      cfg,
		log:      log.With().Str("component", "session").Logger(),
		sessions: make(map[types.ID]*Session),
	}
}

// Create starts a new session and returns it with its signed token
func (m *Manager) Create(ipAddress, userAgent string) (*Session, string, error) {
	now := time.Now()
	s := &Session{
		ID:             types.NewID(),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.cfg.TTL),
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
		SessionID: s.ID.String(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to sign session token")
	}

	m.mu.Lock()
	m.sweepLocked()
	m.sessions[s.ID] = s
	metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	m.log.Info().Str("session_id", s.ID.String()).Msg("session created")
	return s, token, nil
}

// Validate parses a token and returns the live session it refers to.
// Idle or expired sessions are treated as invalid.
func (m *Manager) Validate(token string) (*Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(m.cfg.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.Unauthorized("invalid session token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.SessionID == "" {
		return nil, errors.Unauthorized("invalid session token claims")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[types.ID(claims.SessionID)]
	if !exists {
		return nil, errors.Unauthorized("session not found")
	}
	if s.IsExpired() || time.Since(s.LastActivityAt) > m.cfg.IdleTimeout {
		delete(m.sessions, s.ID)
		metrics.SetActiveSessions(len(m.sessions))
		return nil, errors.Unauthorized("session expired")
	}

	s.LastActivityAt = time.Now()
	out := *s
	return &out, nil
}

// Destroy removes a session. Destroying an unknown session is not an
// error, matching logout semantics.
func (m *Manager) Destroy(id types.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		delete(m.sessions, id)
		metrics.SetActiveSessions(len(m.sessions))
		m.log.Info().Str("session_id", id.String()).Msg("session destroyed")
	}
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// sweepLocked drops expired sessions. Callers hold the mutex.
func (m *Manager) sweepLocked() {
	now := time.Now()
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) || now.Sub(s.LastActivityAt) > m.cfg.IdleTimeout {
			delete(m.sessions, id)
		}
	}
}
