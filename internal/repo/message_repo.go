// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model, including the guarded status transitions of the reply lifecycle.
package repo

import (
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-widget/internal/domain"
)

// CreateUserMessage inserts a user message row in StatusPending together
// with its attachment rows. The store assigns the monotonic ordinal ID.
// Callers should run this inside a transaction when attachments are present
// so the message and its files land atomically.
func CreateUserMessage(db *gorm.DB, sessionID string, body *string, attachments []domain.Attachment) (*domain.Message, error) {
	m := &domain.Message{
		SessionID:        sessionID,
		Body:             body,
		Sender:           domain.SenderUser,
		HasAttachments:   len(attachments) > 0,
		ProcessingStatus: domain.StatusPending,
		CreatedAt:        time.Now().UTC(),
		Attachments:      attachments,
	}
	return m, db.Create(m).Error
}

// CreateBotMessage inserts a bot message row. Bot messages are created in
// StatusCompleted and are never updated afterwards.
func CreateBotMessage(db *gorm.DB, sessionID, body string) (*domain.Message, error) {
	m := &domain.Message{
		SessionID:        sessionID,
		Body:             &body,
		Sender:           domain.SenderBot,
		ProcessingStatus: domain.StatusCompleted,
		CreatedAt:        time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// ListMessages returns a session's messages with attachments preloaded,
// ordered deterministically (CreatedAt ASC, ID ASC).
func ListMessages(db *gorm.DB, sessionID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.Preload("Attachments").
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC),
// with attachments preloaded.
func ListMessagesPage(db *gorm.DB, sessionID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.Preload("Attachments").
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&total).Error
	return total, err
}

// GetMessage fetches a message by ID with attachments preloaded.
func GetMessage(db *gorm.DB, id uint) (*domain.Message, error) {
	var m domain.Message
	if err := db.Preload("Attachments").Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkProcessing transitions a user message from pending to processing.
// The WHERE clause guards the state machine: a message that already left
// pending (or does not exist) is left untouched and ErrNotFound is returned.
func MarkProcessing(db *gorm.DB, id uint) error {
	res := db.Model(&domain.Message{}).
		Where("id = ? AND processing_status = ?", id, domain.StatusPending).
		Update("processing_status", domain.StatusProcessing)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkTerminal transitions a user message into completed or failed, storing
// the generator output payload. Terminal states never revert: the update
// only matches rows still in pending or processing, so a lost race (or a
// missing row) yields ErrNotFound rather than a backward transition.
func MarkTerminal(db *gorm.DB, id uint, status string, output string) error {
	res := db.Model(&domain.Message{}).
		Where("id = ? AND processing_status IN ?", id,
			[]string{domain.StatusPending, domain.StatusProcessing}).
		Updates(map[string]any{
			"processing_status": status,
			"generator_output":  output,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
