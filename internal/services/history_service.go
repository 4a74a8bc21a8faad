// Package services – HistoryService
//
// Read-side operations over the append-only conversation log: paginated
// per-conversation and per-customer message listings, plus customer profile
// lookup. Conversations have no row of their own; they exist exactly as long
// as messages reference them, so "conversation not found" means an empty log.
package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/repo"
)

// HistoryService provides paginated access to conversation history.
type HistoryService struct {
	// DB is the GORM handle used for all history reads.
	DB *gorm.DB
}

// ListConversationPage returns one page of a conversation's messages in
// chronological order, plus the total count for pagination. An unknown
// conversation yields ErrConversationNotFound.
func (s *HistoryService) ListConversationPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/HistoryService")
	ctx, span := tr.Start(ctx, "ListConversationPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize, offset := normalizePage(page, pageSize)

	total, err := repo.CountConversationMessages(ctx, s.DB, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, ErrConversationNotFound
	}

	items, err := repo.ListConversationMessagesPage(ctx, s.DB, conversationID, offset, pageSize)
	return items, total, err
}

// ListCustomerPage returns one page of all messages a customer has ever
// exchanged, across conversations, in chronological order. The customer must
// exist; an empty history is a valid (empty) first page.
func (s *HistoryService) ListCustomerPage(ctx context.Context, customerID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/HistoryService")
	ctx, span := tr.Start(ctx, "ListCustomerPage",
		trace.WithAttributes(
			attribute.String("customer.id", customerID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := repo.GetCustomer(ctx, s.DB, customerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrCustomerNotFound
		}
		return nil, 0, err
	}

	page, pageSize, offset := normalizePage(page, pageSize)

	total, err := repo.CountCustomerMessages(ctx, s.DB, customerID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListCustomerMessagesPage(ctx, s.DB, customerID, offset, pageSize)
	return items, total, err
}

// GetCustomer returns the customer's profile with devices preloaded.
func (s *HistoryService) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	c, err := repo.GetCustomer(ctx, s.DB, customerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return c, nil
}

// normalizePage applies pagination defaults and computes the row offset.
func normalizePage(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}
