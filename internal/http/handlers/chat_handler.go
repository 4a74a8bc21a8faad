// Chat HTTP handlers.
//
// This file exposes the main pipeline endpoint:
//   - POST /chat   (process a customer message and return the bot reply)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (customer, conversation, key), the handler returns the
// recorded bot message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/repo"
	"github.com/tbourn/go-support-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// ChatProcessor defines the pipeline entrypoint consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ChatProcessor interface {
	// Process runs one customer message through the pipeline.
	Process(ctx context.Context, req services.ChatRequest) (*services.ChatResult, error)
}

// HistoryService defines conversation-history reads consumed by HTTP handlers.
type HistoryService interface {
	// ListConversationPage returns a page of one conversation's messages.
	ListConversationPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	// ListCustomerPage returns a page of a customer's messages across conversations.
	ListCustomerPage(ctx context.Context, customerID string, page, pageSize int) ([]domain.Message, int64, error)
	// GetCustomer returns a customer profile with devices.
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
}

// FeedbackService defines operations to capture customer feedback on bot replies.
type FeedbackService interface {
	// Leave submits a feedback value (-1 or 1) for messageID by customerID.
	Leave(ctx context.Context, customerID, messageID string, value int) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for chat, history, and feedback.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	processor  ChatProcessor
	historySvc HistoryService
	fbSvc      FeedbackService

	// IdempotencyTTL bounds how long recorded results are replayable.
	IdempotencyTTL time.Duration
}

// New constructs a Handlers instance bound to the given services.
func New(processor ChatProcessor, historySvc HistoryService, fbSvc FeedbackService) *Handlers {
	return &Handlers{
		processor:      processor,
		historySvc:     historySvc,
		fbSvc:          fbSvc,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// customerID extracts the acting customer id from Gin context (set by
// upstream middleware). If absent, it falls back to the "X-Customer-ID"
// header (tests use it), and finally to "demo-customer". It never touches
// c.Request if it's nil.
func customerID(c *gin.Context) string {
	if v, ok := c.Get("customerID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-Customer-ID")); h != "" {
			return h
		}
	}
	return "demo-customer"
}

//
// DTOs
//

// ChatMessageRequest is the JSON payload for processing a customer message.
//
// Message is normalized by the handler (line endings and excessive blank
// lines) before being passed to the pipeline. The processor also enforces a
// maximum rune count.
type ChatMessageRequest struct {
	// CustomerID identifies the requesting customer.
	CustomerID string `json:"customer_id" binding:"required,min=1" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// ConversationID continues an existing conversation; a new one is
	// started when empty.
	ConversationID string `json:"conversation_id,omitempty" format:"uuid"`
	// Message is the customer's request text. It must be non-empty.
	Message string `json:"message" binding:"required,min=1" example:"Please turn off my living room speaker"`
}

// ChatMessageResponse is the JSON envelope for a processed chat request.
type ChatMessageResponse struct {
	// Result is the bot reply and its pipeline metadata.
	Result *services.ChatResult `json:"result"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxMessageRunes inspects the concrete RequestProcessor for a
// configured length limit. If unavailable, it returns a conservative fallback.
func discoverMaxMessageRunes(p ChatProcessor) int {
	const fallback = 2000
	if rp, ok := p.(*services.RequestProcessor); ok {
		if rp.MaxMessageRunes > 0 {
			return rp.MaxMessageRunes
		}
	}
	return fallback
}

// idempotencyKey reads a client-provided Idempotency-Key header if present.
func idempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

// resultFromMessage rebuilds a ChatResult envelope from a persisted bot
// message, used on the idempotent replay path.
func resultFromMessage(m *domain.Message) *services.ChatResult {
	return &services.ChatResult{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		CustomerID:     m.CustomerID,
		Message:        m.Text,
		RequestType:    m.RequestType,
		Allowed:        m.Allowed,
		Timestamp:      m.CreatedAt,
	}
}

//
// Handlers
//

// PostChat godoc
// @ID          postChat
// @Summary     Send a message to the support assistant
// @Description Runs a customer message through the support pipeline: intent classification,
// @Description permission checking, device-action execution, and reply generation.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.ChatMessageRequest  true  "Customer message payload"
//
// @Success     200  {object}  handlers.ChatMessageResponse  "Bot reply"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse        "Customer not found"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Failure     503  {object}  handlers.ErrorResponse        "Assistant unavailable"
// @Router      /chat [post]
func (h *Handlers) PostChat(c *gin.Context) {
	ctx := c.Request.Context()

	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "customer_id and message required")
		return
	}
	if req.ConversationID != "" {
		if _, err := uuid.Parse(req.ConversationID); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation_id must be a UUID")
			return
		}
	}

	// Sanitize + early size cap to fail fast at the edge.
	message := sanitizeContent(req.Message)
	maxRunes := discoverMaxMessageRunes(h.processor)
	if maxRunes > 0 && utf8.RuneCountInString(message) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("message too long: max %d runes", maxRunes))
		return
	}
	if message == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	// Idempotency (replay path), only meaningful with a conversation id.
	idemKey, _ := idempotencyKey(c)
	if idemKey != "" && req.ConversationID != "" {
		if rp, okSvc := h.processor.(*services.RequestProcessor); okSvc && rp.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, rp.DB, req.CustomerID, req.ConversationID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetMessage(ctx, rp.DB, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, ChatMessageResponse{Result: resultFromMessage(prev)})
					return
				}
			}
		}
	}

	res, err := h.processor.Process(ctx, services.ChatRequest{
		CustomerID:     req.CustomerID,
		ConversationID: req.ConversationID,
		Message:        message,
	})
	if err != nil {
		switch err {
		case services.ErrCustomerNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "customer not found")
		case services.ErrEmptyMessage:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		case services.ErrMessageTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("message too long: max %d runes", maxRunes))
		case services.ErrClassificationUnavailable:
			fail(c, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, "the assistant is temporarily unavailable, please retry")
		case services.ErrPolicyNotFound:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "tier policy not configured")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeChatFailed, err.Error())
		}
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" {
		if rp, okSvc := h.processor.(*services.RequestProcessor); okSvc && rp.DB != nil {
			_, _ = repo.CreateIdempotency(ctx, rp.DB, res.CustomerID, res.ConversationID, idemKey, res.MessageID, http.StatusOK, h.IdempotencyTTL)
		}
	}

	ok(c, http.StatusOK, ChatMessageResponse{Result: res})
}
