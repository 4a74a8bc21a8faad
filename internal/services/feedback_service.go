package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/repo"
)

// FeedbackService records customer ratings of bot replies. Each call opens
// its own transaction so the ownership checks and the insert cannot race a
// concurrent submission.
type FeedbackService struct {
	DB *gorm.DB
}

// Leave stores value (-1 or +1) for messageID on behalf of customerID.
// The message must exist, must sit in one of the customer's own
// conversations, and must be a bot reply; customers cannot rate their own
// messages. One rating per (message, customer): a repeat attempt returns
// ErrDuplicateFeedback. Predictable violations map to the service errors in
// errors.go so handlers can translate them uniformly.
func (s *FeedbackService) Leave(ctx context.Context, customerID, messageID string, value int) error {
	if value != -1 && value != 1 {
		return ErrInvalidFeedback
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msg, err := repo.GetMessage(ctx, tx, messageID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		if msg.CustomerID != customerID || msg.Sender != domain.SenderBot {
			return ErrForbiddenFeedback
		}

		fb := &domain.Feedback{
			ID:         uuid.NewString(),
			MessageID:  messageID,
			CustomerID: customerID,
			Value:      value,
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.Create(fb).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicate(err) {
				return ErrDuplicateFeedback
			}
			return err
		}
		return nil
	})
}

// isDuplicate catches unique-constraint violations the sqlite driver
// reports as plain text instead of gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
