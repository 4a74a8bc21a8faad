// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides cheap aggregate queries used by the
// HTTP layer to build weak ETags for history listings.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
)

// ConversationStats returns the message count and latest message timestamp
// for a conversation. maxCreatedAt is nil when the conversation is empty.
func ConversationStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxCreatedAt *time.Time, err error) {
	if err = db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var last domain.Message
	if err = db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		First(&last).Error; err != nil {
		return 0, nil, err
	}
	ts := last.CreatedAt
	return count, &ts, nil
}
