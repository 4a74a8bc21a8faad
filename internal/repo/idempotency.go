package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
)

// ErrDuplicate reports that a record already exists for the
// (customer_id, conversation_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency looks up a live record for the tuple, treating expired
// rows as absent. A blank conversation id can never have been stored, so it
// short-circuits to ErrNotFound without touching the database.
func GetIdempotency(ctx context.Context, db *gorm.DB, customerID, conversationID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("customer_id = ? AND conversation_id = ? AND key = ? AND expires_at > ?", customerID, conversationID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateIdempotency stores the outcome of a completed chat request so a
// retried key within ttl can be replayed. A second insert for the same
// tuple returns ErrDuplicate. The UNIQUE violation is matched by message
// text as well, since glebarez/sqlite does not always surface
// gorm.ErrDuplicatedKey.
func CreateIdempotency(ctx context.Context, db *gorm.DB, customerID, conversationID, key, messageID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:             uuid.NewString(),
		CustomerID:     customerID,
		ConversationID: conversationID,
		Key:            key,
		MessageID:      messageID,
		Status:         status,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
