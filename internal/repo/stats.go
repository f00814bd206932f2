// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (ETag generation) in the HTTP layer.
// Each function is context-aware and safe to call from services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-widget/internal/domain"
)

// MessagesStats returns aggregate metadata for a session's messages: the
// total number of rows and the greatest CreatedAt among them, plus the count
// of messages whose reply is still outstanding (pending/processing).
//
// The ETag a list response derives from these values changes whenever a
// message is appended or a status transition lands, so a polling client
// revalidating with If-None-Match observes generation completion without
// re-downloading an unchanged list.
//
// Return values:
//   - count:       total messages for sessionID
//   - outstanding: messages still pending/processing
//   - maxCreated:  pointer to the greatest CreatedAt, or nil if no rows
//   - err:         database error, if any
func MessagesStats(ctx context.Context, db *gorm.DB, sessionID string) (count, outstanding int64, maxCreated *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("session_id = ?", sessionID)

	if err = q.Count(&count).Error; err != nil {
		return 0, 0, nil, err
	}
	if count == 0 {
		return 0, 0, nil, nil
	}

	if err = db.WithContext(ctx).Model(&domain.Message{}).
		Where("session_id = ? AND processing_status IN ?", sessionID,
			[]string{domain.StatusPending, domain.StatusProcessing}).
		Count(&outstanding).Error; err != nil {
		return 0, 0, nil, err
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC, id DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, 0, nil, err
	}
	return count, outstanding, &row.CreatedAt, nil
}
