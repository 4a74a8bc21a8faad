// History HTTP handlers.
//
// This file exposes REST endpoints over the conversation log and customer
// profiles:
//   - GET /conversations/{id}/messages   (list one conversation, paginated, ETag support)
//   - GET /customers/{id}/messages       (list a customer's full history, paginated)
//   - GET /customers/{id}                (customer profile with devices)
//
// Handlers are transport-thin: they validate input, call the history service,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/repo"
	"github.com/tbourn/go-support-backend/internal/services"
	"github.com/tbourn/go-support-backend/internal/utils"
)

//
// DTOs
//

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// historyDB exposes the concrete service's DB handle for best-effort ETag
// stats; nil when the handler is wired with a fake.
func (h *Handlers) historyDB() *gorm.DB {
	if svc, ok := h.historySvc.(*services.HistoryService); ok {
		return svc.DB
	}
	return nil
}

// paginationFor builds the standard pagination block.
func paginationFor(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Handlers
//

// ListConversationMessages godoc
// @ID          listConversationMessages
// @Summary     List messages in a conversation
// @Description Returns a paginated, chronological list of messages for the given
// @Description conversation. Supports weak ETag via If-None-Match and may return 304.
// @Tags        History
// @Produce     json
//
// @Param       id             path    string  true  "Conversation ID (UUID)"      format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListConversationMessages(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")

	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	// ETag pre-check (best effort).
	if db := h.historyDB(); db != nil {
		count, maxTS, err := repo.ConversationStats(ctx, db, conversationID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"conversation:%s:%d:%d"`, conversationID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.historySvc.ListConversationPage(ctx, conversationID, page, pageSize)
	if err != nil {
		switch err {
		case services.ErrConversationNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// ListCustomerMessages godoc
// @ID          listCustomerMessages
// @Summary     List a customer's messages across conversations
// @Description Returns a paginated, chronological list of every message the
// @Description customer has exchanged with the assistant.
// @Tags        History
// @Produce     json
//
// @Param       id         path   string  true  "Customer ID"     example(141add05-4415-4938-b5a1-17e0d3171aff)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Failure     404  {object} handlers.ErrorResponse "Customer not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /customers/{id}/messages [get]
func (h *Handlers) ListCustomerMessages(c *gin.Context) {
	ctx := c.Request.Context()
	custID := c.Param("id")

	page, pageSize := clampPagination(c)

	items, total, err := h.historySvc.ListCustomerPage(ctx, custID, page, pageSize)
	if err != nil {
		switch err {
		case services.ErrCustomerNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "customer not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// GetCustomer godoc
// @ID          getCustomer
// @Summary     Get a customer profile
// @Description Returns the customer's profile, service tier, and registered devices.
// @Tags        Customers
// @Produce     json
//
// @Param       id  path  string  true  "Customer ID"  example(141add05-4415-4938-b5a1-17e0d3171aff)
//
// @Success     200  {object} domain.Customer
// @Failure     404  {object} handlers.ErrorResponse "Customer not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /customers/{id} [get]
func (h *Handlers) GetCustomer(c *gin.Context) {
	cust, err := h.historySvc.GetCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch err {
		case services.ErrCustomerNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "customer not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, cust)
}
