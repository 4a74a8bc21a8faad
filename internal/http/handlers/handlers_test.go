package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/llm"
	"github.com/tbourn/go-support-backend/internal/repo"
	"github.com/tbourn/go-support-backend/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func createCustomer(t *testing.T, db *gorm.DB, tier string) *domain.Customer {
	t.Helper()
	c := &domain.Customer{
		ID:          uuid.NewString(),
		Name:        "Riley",
		ServiceTier: tier,
		Devices: []domain.Device{
			{ID: uuid.NewString(), Type: "speaker", Location: "den", PowerState: domain.PowerOff},
		},
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c
}

func createMessage(t *testing.T, db *gorm.DB, conversationID, customerID, sender, text string) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ConversationID: conversationID,
		CustomerID:     customerID,
		Sender:         sender,
		Text:           text,
	}
	if err := repo.AppendMessage(context.Background(), db, m); err != nil {
		t.Fatalf("append message: %v", err)
	}
	return m
}

// fakeGateway scripts the model boundary per pipeline stage.
type fakeGateway struct {
	responses map[string]string
	err       error
}

func (g *fakeGateway) Call(_ context.Context, stage, _, _ string) (*llm.Completion, error) {
	if g.err != nil {
		return nil, g.err
	}
	body, ok := g.responses[stage]
	if !ok {
		return nil, fmt.Errorf("unscripted stage %s", stage)
	}
	return &llm.Completion{Text: body}, nil
}

func powerGateway() *fakeGateway {
	return &fakeGateway{responses: map[string]string{
		services.StageClassification: `{"primary_action": "device_power", "all_actions": ["device_power"], "ambiguous": false, "out_of_scope": false}`,
		services.StageExtraction:     `{"power_state": "on"}`,
		services.StageGeneration:     "Done, Riley! The speaker is on.",
	}}
}

// newRouter wires the handlers the way the application router does, without
// the full middleware stack.
func newRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.POST("/chat", h.PostChat)
	r.GET("/conversations/:id/messages", h.ListConversationMessages)
	r.GET("/customers/:id/messages", h.ListCustomerMessages)
	r.GET("/customers/:id", h.GetCustomer)
	r.POST("/messages/:id/feedback", h.LeaveFeedback)
	return r
}

func newChatStack(t *testing.T, gw services.Gateway) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := newHandlerDB(t)
	h := New(
		services.NewRequestProcessor(db, gw),
		&services.HistoryService{DB: db},
		&services.FeedbackService{DB: db},
	)
	return newRouter(h), db
}

func doJSON(r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeChatResponse(t *testing.T, w *httptest.ResponseRecorder) ChatMessageResponse {
	t.Helper()
	var out ChatMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v\n%s", err, w.Body.String())
	}
	if out.Result == nil {
		t.Fatalf("nil result in %s", w.Body.String())
	}
	return out
}
