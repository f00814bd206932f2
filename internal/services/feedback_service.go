// Package services – FeedbackService
//
// This file implements the FeedbackService, which records helpful/not-helpful
// votes on bot messages with upsert semantics. The central invariant is
// at-most-one feedback row per message: the first vote creates the row,
// every later vote updates is_helpful and updated_at in place and keeps the
// id stable.
//
// The upsert is linearizable per message id. Two layers enforce that:
// a striped per-key mutex serializes create-or-update for one message within
// this process, and the unique index on message_id backstops it — if two
// creates somehow race, the loser re-reads the winner's row and applies its
// vote as an update instead of erroring out.
package services

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-widget/internal/domain"
	"github.com/tbourn/go-support-widget/internal/repo"
)

// feedbackStripes sizes the keyed-mutex table. Votes are rare; collisions
// between different messages only cost a little serialization.
const feedbackStripes = 64

// FeedbackService implements the use-cases around message feedback.
type FeedbackService struct {
	// DB is the database handle used for all feedback operations.
	DB *gorm.DB

	locks [feedbackStripes]sync.Mutex
}

// lockFor returns the stripe mutex serializing upserts for messageID.
func (s *FeedbackService) lockFor(messageID uint) *sync.Mutex {
	h := fnv.New32a()
	var buf [4]byte
	buf[0] = byte(messageID)
	buf[1] = byte(messageID >> 8)
	buf[2] = byte(messageID >> 16)
	buf[3] = byte(messageID >> 24)
	h.Write(buf[:])
	return &s.locks[h.Sum32()%feedbackStripes]
}

// Submit records isHelpful for messageID on behalf of sessionID.
//
// Semantics and validation:
//   - sessionID must exist; otherwise ErrSessionNotFound.
//   - messageID must exist; otherwise ErrMessageNotFound.
//   - The message must be a bot message; user messages are rejected with
//     ErrInvalidFeedback.
//   - Repeated votes update the single row in place: the id stays stable,
//     is_helpful takes the latest value, and updated_at refreshes on every
//     vote, identical or flipped.
//
// Concurrency: concurrent votes for the same message serialize on a per-key
// lock, so exactly one row ever exists per message.
func (s *FeedbackService) Submit(ctx context.Context, sessionID string, messageID uint, isHelpful bool) (*domain.Feedback, error) {
	if _, err := repo.GetSession(ctx, s.DB, sessionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	msg, err := repo.GetMessage(s.DB.WithContext(ctx), messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if msg.Sender != domain.SenderBot {
		return nil, ErrInvalidFeedback
	}

	mu := s.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	return s.upsert(ctx, sessionID, messageID, isHelpful)
}

// upsert performs the create-or-update under the caller-held key lock.
func (s *FeedbackService) upsert(ctx context.Context, sessionID string, messageID uint, isHelpful bool) (*domain.Feedback, error) {
	existing, err := repo.GetFeedbackForMessage(ctx, s.DB, messageID)
	switch {
	case err == nil:
		return s.applyVote(ctx, existing, isHelpful)
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fall through to create
	default:
		return nil, err
	}

	fb, err := repo.CreateFeedback(ctx, s.DB, sessionID, messageID, isHelpful)
	if err == nil {
		return fb, nil
	}
	if !errors.Is(err, repo.ErrDuplicateRow) {
		return nil, err
	}

	// A concurrent create won; treat ours as the update it semantically is.
	existing, gerr := repo.GetFeedbackForMessage(ctx, s.DB, messageID)
	if gerr != nil {
		if errors.Is(gerr, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, gerr
	}
	return s.applyVote(ctx, existing, isHelpful)
}

// applyVote writes isHelpful onto an existing row and re-reads the result.
// Every vote counts as activity, so updated_at refreshes even when the value
// is unchanged.
func (s *FeedbackService) applyVote(ctx context.Context, fb *domain.Feedback, isHelpful bool) (*domain.Feedback, error) {
	if err := repo.UpdateFeedback(ctx, s.DB, fb.ID, isHelpful); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Existence check raced with a purge; report the entity missing.
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return repo.GetFeedbackForMessage(ctx, s.DB, fb.MessageID)
}

// ForMessage returns the feedback row for messageID, or nil when the message
// has no votes. Absence is not an error.
func (s *FeedbackService) ForMessage(ctx context.Context, messageID uint) (*domain.Feedback, error) {
	fb, err := repo.GetFeedbackForMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return fb, nil
}

// ListBySession returns all feedback left within a session, oldest first.
func (s *FeedbackService) ListBySession(ctx context.Context, sessionID string) ([]domain.Feedback, error) {
	return repo.ListFeedbackBySession(ctx, s.DB, sessionID)
}
