// Package services – RequestProcessor
//
// This file implements the RequestProcessor, the orchestrator of the chat
// pipeline: customer resolution, intent classification, context extraction,
// permission checking, action execution, response generation, and message
// persistence. Stage failures are contained wherever an honest degraded
// answer is possible; only missing customers, broken tier configuration, and
// an unreachable upstream during classification are fatal to a request.
//
// Persistence ordering is part of the contract: the inbound customer message
// is written before classification runs, so a request that dies at the
// classification stage still leaves its question in the conversation log.
//
// Observability: Process is OpenTelemetry-instrumented; per-stage call
// metrics are recorded inside the gateway.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/llm"
	"github.com/tbourn/go-support-backend/internal/permissions"
	"github.com/tbourn/go-support-backend/internal/repo"
)

// ReasonOutOfScope marks requests the classifier could not map to a
// supported action (off-topic, ambiguous, or degraded classification).
const ReasonOutOfScope = "out_of_scope_or_ambiguous"

// Classifier is the classification stage contract.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// Extractor is the context-extraction stage contract.
type Extractor interface {
	Extract(ctx context.Context, text string, action permissions.Action) (ExtractedContext, error)
}

// Executor is the action-execution stage contract.
type Executor interface {
	Execute(ctx context.Context, customer *domain.Customer, policy permissions.Policy, action permissions.Action, ec ExtractedContext) (ExecutionReport, error)
}

// Responder is the response-generation stage contract.
type Responder interface {
	Reply(ctx context.Context, requestText string, customer *domain.Customer, action permissions.Action, outcome Outcome, device *domain.Device) string
}

// ChatRequest is one inbound customer message.
type ChatRequest struct {
	CustomerID string
	// ConversationID groups messages; a fresh conversation is minted when
	// empty.
	ConversationID string
	Message        string
}

// ChatResult is the processed reply returned to the handler. It mirrors the
// persisted bot message.
type ChatResult struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	CustomerID     string    `json:"customer_id"`
	Message        string    `json:"message"`
	RequestType    *string   `json:"request_type,omitempty"`
	Allowed        *bool     `json:"allowed,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// RequestProcessor wires the pipeline stages over a shared DB handle.
type RequestProcessor struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	Classifier Classifier
	Extractor  Extractor
	Executor   Executor
	Responder  Responder

	// MaxMessageRunes caps inbound message length; 0 disables the cap.
	MaxMessageRunes int
}

// NewRequestProcessor constructs a processor with the default stage
// implementations bound to gw.
func NewRequestProcessor(db *gorm.DB, gw Gateway) *RequestProcessor {
	return &RequestProcessor{
		DB:              db,
		Classifier:      &IntentClassifier{Gateway: gw},
		Extractor:       &ContextExtractor{Gateway: gw},
		Executor:        &ActionExecutor{DB: db},
		Responder:       &ResponseGenerator{Gateway: gw},
		MaxMessageRunes: 2000,
	}
}

// Process runs one request through the full pipeline and returns the bot
// reply. On ErrClassificationUnavailable the inbound message has already
// been persisted; on ErrCustomerNotFound, ErrEmptyMessage, ErrMessageTooLong
// and ErrPolicyNotFound nothing has been written.
func (p *RequestProcessor) Process(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	tr := otel.Tracer("services/RequestProcessor")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("customer.id", req.CustomerID),
			attribute.String("conversation.id", req.ConversationID),
		),
	)
	defer span.End()

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if p.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > p.MaxMessageRunes {
		return nil, ErrMessageTooLong
	}

	customer, err := repo.GetCustomer(ctx, p.DB, req.CustomerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	policy, err := permissions.PolicyFor(permissions.Tier(customer.ServiceTier))
	if err != nil {
		return nil, ErrPolicyNotFound
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	// The customer's question goes into the log before the first model call
	// so that a dead upstream never swallows it.
	userMsg := &domain.Message{
		ConversationID: conversationID,
		CustomerID:     customer.ID,
		Sender:         domain.SenderUser,
		Text:           text,
	}
	if err := repo.AppendMessage(ctx, p.DB, userMsg); err != nil {
		return nil, err
	}

	cls, err := p.Classifier.Classify(ctx, text)
	if err != nil {
		if errors.Is(err, llm.ErrUpstreamUnavailable) || errors.Is(err, llm.ErrUpstreamRateLimited) {
			return nil, ErrClassificationUnavailable
		}
		return nil, err
	}

	outcome, device, allowed := p.resolve(ctx, text, customer, policy, cls)

	reply := p.Responder.Reply(ctx, text, customer, cls.PrimaryAction, outcome, device)

	botMsg := &domain.Message{
		ConversationID: conversationID,
		CustomerID:     customer.ID,
		Sender:         domain.SenderBot,
		Text:           reply,
		Allowed:        allowed,
	}
	if cls.PrimaryAction != "" {
		rt := string(cls.PrimaryAction)
		botMsg.RequestType = &rt
		botMsg.RequiredActions = actionStrings(cls.AllActions)
	}
	if err := repo.AppendMessage(ctx, p.DB, botMsg); err != nil {
		return nil, err
	}

	return &ChatResult{
		MessageID:      botMsg.ID,
		ConversationID: conversationID,
		CustomerID:     customer.ID,
		Message:        reply,
		RequestType:    botMsg.RequestType,
		Allowed:        botMsg.Allowed,
		Timestamp:      botMsg.CreatedAt,
	}, nil
}

// resolve runs permission checking, extraction, and execution for a
// classified request, producing the outcome the responder answers from.
// allowed is nil when no permission check ran.
func (p *RequestProcessor) resolve(ctx context.Context, text string, customer *domain.Customer, policy permissions.Policy, cls Classification) (outcome Outcome, device *domain.Device, allowed *bool) {
	if len(customer.Devices) > 0 {
		device = &customer.Devices[0]
	}

	if cls.OutOfScope || cls.Ambiguous || cls.PrimaryAction == "" {
		return Outcome{Kind: OutcomeNotExecuted, Reason: ReasonOutOfScope}, device, nil
	}

	// Compound requests are all-or-nothing: one uncovered action denies the
	// whole request, and nothing executes.
	decision := permissions.Check(cls.AllActions, policy)
	allowed = &decision.Allowed
	if !decision.Allowed {
		return Outcome{
			Kind:          OutcomeDenied,
			Missing:       decision.Missing,
			SuggestedTier: decision.SuggestedTier,
			SuggestedOK:   decision.SuggestedOK,
		}, device, allowed
	}

	var executed, noops int
	var noopReason string
	for _, action := range cls.AllActions {
		// Extraction is per action; a failed or empty extraction yields the
		// zero context, which the executor treats as "no change requested".
		ec, _ := p.Extractor.Extract(ctx, text, action)

		report, err := p.Executor.Execute(ctx, customer, policy, action, ec)
		if report.Device != nil {
			device = report.Device
		}
		if err != nil {
			// Downgrade, never fail the request: the customer gets an
			// apology and an intact device.
			reason := report.Reason
			if reason == "" {
				reason = ReasonWriteConflict
			}
			return Outcome{Kind: OutcomeNotExecuted, Reason: reason}, device, allowed
		}
		switch {
		case report.NoOp:
			noops++
			if noopReason == "" {
				noopReason = report.Reason
			}
		case report.Executed:
			executed++
		}
	}

	if executed == 0 {
		if noopReason == "" {
			noopReason = ReasonNoChange
		}
		return Outcome{Kind: OutcomeNotExecuted, Reason: noopReason}, device, allowed
	}
	return Outcome{Kind: OutcomeExecuted}, device, allowed
}

// actionStrings flattens an action list for message metadata.
func actionStrings(actions []permissions.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
