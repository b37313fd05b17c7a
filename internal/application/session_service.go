package application

import (
	"context"
	"fmt"
	"time"

	"shop-lifecycle-layer/internal/domain"
	"shop-lifecycle-layer/internal/ports"

	"github.com/rs/zerolog"
)

// defaultSessionTTL is applied when a session carries no expiry of its own.
const defaultSessionTTL = 24 * time.Hour

// SessionService stores OAuth sessions with a bounded lifetime. Unlike the
// lifecycle flow, every storage failure is propagated to the caller: the
// auth middleware must know whether a session write actually happened.
type SessionService struct {
	store  ports.SessionStore
	logger zerolog.Logger
}

func NewSessionService(store ports.SessionStore, logger zerolog.Logger) *SessionService {
	return &SessionService{store: store, logger: logger}
}

// SaveSessionForShop persists a session under sessionID. It reports whether
// the write landed; a session that is already past its expiry is dropped.
func (s *SessionService) SaveSessionForShop(ctx context.Context, sessionID string, session *domain.Session) (bool, error) {
	expiresAt := time.Now().Add(defaultSessionTTL)
	if session.Expires != nil {
		expiresAt = *session.Expires
	}

	stored, err := s.store.Save(ctx, sessionID, session, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	if stored {
		s.logger.Debug().
			Str("session", sessionID).
			Str("shop", session.Shop).
			Time("expiresAt", expiresAt).
			Msg("Session stored")
	}
	return stored, nil
}

// GetSessionForShop loads a session by id; nil when missing or expired.
func (s *SessionService) GetSessionForShop(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return session, nil
}

// DeleteSessionForShop removes a session and reports whether one existed.
func (s *SessionService) DeleteSessionForShop(ctx context.Context, sessionID string) (bool, error) {
	deleted, err := s.store.Delete(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return deleted, nil
}
