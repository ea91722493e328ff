// Inbound event HTTP handlers.
//
// This file exposes the ingestion endpoint for social-messaging events:
//   - POST /events   (record an inbound DM/comment and run the automation decision)
//
// Handlers are transport-thin: they validate and normalize inputs, delegate to
// the decision engine, and translate results into HTTP responses. Rejections
// from the eligibility machine are 200 responses with `sent:false` and a
// stable reason string; only transport and storage problems become HTTP
// errors. Upstream platforms redeliver webhooks freely, so the endpoint is
// safe to call any number of times with the same payload.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
	"github.com/replyflow/go-autoreply-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// EventService runs the automation decision for one inbound event.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type EventService interface {
	// Process records the event and evaluates it for an automated reply.
	Process(ctx context.Context, tenantID string, in services.InboundEventInput) (*services.DecisionResult, error)
}

// QueueService exposes read access to the outbound queue.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type QueueService interface {
	// ListFailedPage returns a page of permanently failed items for a tenant
	// and the total count.
	ListFailedPage(ctx context.Context, tenantID string, page, pageSize int) ([]domain.OutboundQueueItem, int64, error)
}

// DispatchService triggers queue processing on demand.
type DispatchService interface {
	// Sweep claims and processes one batch of due queue items.
	Sweep(ctx context.Context) services.SweepSummary
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for events, the outbound queue, and dispatch.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	eventSvc    EventService
	queueSvc    QueueService
	dispatchSvc DispatchService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(eventSvc EventService, queueSvc QueueService, dispatchSvc DispatchService) *Handlers {
	return &Handlers{eventSvc: eventSvc, queueSvc: queueSvc, dispatchSvc: dispatchSvc}
}

// tenantID extracts the authenticated tenant id from Gin context (set by
// upstream middleware). If absent, it falls back to the "X-Tenant-ID" header.
// An empty return means the request carries no tenant identity and must be
// rejected by the caller.
func tenantID(c *gin.Context) string {
	if v, ok := c.Get("tenantID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-Tenant-ID")); h != "" {
			return h
		}
	}
	return ""
}

//
// DTOs
//

// PostEventRequest is the JSON payload for an inbound social-messaging event.
type PostEventRequest struct {
	// ExternalID is the platform's identifier for the message or comment.
	// Redeliveries reuse it, which is how duplicates are collapsed.
	ExternalID string `json:"external_id" binding:"required,min=1"`
	// Channel is "dm" or "comment".
	Channel string `json:"channel" binding:"required"`
	// SenderID identifies the end user who wrote the message.
	SenderID string `json:"sender_id" binding:"required,min=1"`
	// Text is the message content. It must be non-empty.
	Text string `json:"text" binding:"required,min=1"`
}

// PostEventResponse wraps the decision outcome for one event.
type PostEventResponse struct {
	Result *services.DecisionResult `json:"result"`
}

//
// Handlers
//

// maxEventTextRunes caps inbound text at the edge; platform messages are far
// shorter in practice.
const maxEventTextRunes = 4000

// PostEvent ingests one inbound event and returns the automation decision.
func (h *Handlers) PostEvent(c *gin.Context) {
	ctx := c.Request.Context()

	tenant := tenantID(c)
	if tenant == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Tenant-ID required")
		return
	}

	var req PostEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "external_id, channel, sender_id and text are required")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}
	if len([]rune(text)) > maxEventTextRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text too long")
		return
	}

	res, err := h.eventSvc.Process(ctx, tenant, services.InboundEventInput{
		ExternalID: strings.TrimSpace(req.ExternalID),
		Channel:    strings.ToLower(strings.TrimSpace(req.Channel)),
		SenderID:   strings.TrimSpace(req.SenderID),
		Text:       text,
	})
	if err != nil {
		switch err {
		case services.ErrInvalidChannel, services.ErrEmptyText:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case services.ErrTenantNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "tenant not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeProcessFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, PostEventResponse{Result: res})
}
