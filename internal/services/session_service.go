// Package services – SessionService
//
// This file implements the SessionService, which manages widget sessions.
// Session creation is idempotent: the widget caches its session id and
// resends it on every open, so "create" with a known id must return the
// stored record unchanged. An omitted id mints a fresh UUID server-side.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-widget/internal/domain"
	"github.com/tbourn/go-support-widget/internal/repo"
)

// SessionService provides session lookup and idempotent creation.
type SessionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// GetOrCreate returns the session for id when it exists, creating it
// otherwise. The second return value reports whether a row was created.
//
// Semantics:
//   - id == ""           → mint a UUID and create.
//   - id known           → return the existing session unchanged; the
//     supplied originWebsite is ignored (sessions are immutable).
//   - id supplied, absent → create with that id (widget-minted ids are
//     accepted so a reopened widget keeps its history).
//
// Two concurrent calls with the same fresh id may both attempt the insert;
// the loser of that race re-reads the winner's row, so both callers observe
// the same session.
func (s *SessionService) GetOrCreate(ctx context.Context, id, originWebsite string) (*domain.Session, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	} else {
		sess, err := repo.GetSession(ctx, s.DB, id)
		if err == nil {
			return sess, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	sess, err := repo.CreateSession(ctx, s.DB, id, strings.TrimSpace(originWebsite))
	if err == nil {
		return sess, true, nil
	}
	// Lost a create race for the same id: surface the stored row.
	if existing, gerr := repo.GetSession(ctx, s.DB, id); gerr == nil {
		return existing, false, nil
	}
	return nil, false, err
}

// Get returns the session for id, or ErrSessionNotFound.
func (s *SessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := repo.GetSession(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}
