// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Feedback
// model.
//
// The repository follows a "thin" approach: it performs persistence and
// simple query composition, leaving the create-or-update decision to the
// services package.
//
// Error semantics:
//   - A duplicate insert (same message_id) relies on the database unique
//     index and is surfaced as ErrDuplicateRow so the service can fall back
//     to an update when two creates race.
//   - On other DB errors, the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-widget/internal/domain"
)

// ErrDuplicateRow indicates that a feedback row already exists for the
// given message.
var ErrDuplicateRow = errors.New("feedback row already exists")

// CreateFeedback inserts a feedback row for the given message. The
// message_id must be unique, enforced by the database schema. A unique
// violation is returned as ErrDuplicateRow.
func CreateFeedback(ctx context.Context, db *gorm.DB, sessionID string, messageID uint, isHelpful bool) (*domain.Feedback, error) {
	now := time.Now().UTC()
	fb := &domain.Feedback{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		MessageID: messageID,
		IsHelpful: isHelpful,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(fb).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateRow
		}
		return nil, err
	}
	return fb, nil
}

// GetFeedbackForMessage returns the feedback row for messageID, or
// ErrNotFound when the message has no votes.
func GetFeedbackForMessage(ctx context.Context, db *gorm.DB, messageID uint) (*domain.Feedback, error) {
	var fb domain.Feedback
	if err := db.WithContext(ctx).Where("message_id = ?", messageID).First(&fb).Error; err != nil {
		return nil, err
	}
	return &fb, nil
}

// UpdateFeedback flips the vote of an existing row in place. The ID stays
// stable; only is_helpful and updated_at change. Returns ErrNotFound when
// the row vanished between the caller's read and this write.
func UpdateFeedback(ctx context.Context, db *gorm.DB, id string, isHelpful bool) error {
	res := db.WithContext(ctx).Model(&domain.Feedback{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_helpful": isHelpful,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListFeedbackBySession returns all feedback rows for a session, oldest first.
func ListFeedbackBySession(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.Feedback, error) {
	var out []domain.Feedback
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// isUniqueViolation detects unique-constraint violations across drivers that
// may not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	// SQLite typically: "UNIQUE constraint failed"
	// Postgres typically: "duplicate key value violates unique constraint"
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed: unique")
}
