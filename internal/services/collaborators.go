// Package services – external collaborator contracts.
//
// The dispatch core consumes AI classification, reply generation, and
// conversation-context resolution as black boxes. Each interface failure mode
// is bounded here: classification failure means "no intent resolved",
// resolver failure means "no context", and generation failure aborts the
// send attempt for that event. None of them are ever fatal to a sweep.
package services

import (
	"context"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
	"github.com/replyflow/go-autoreply-backend/internal/reply"
)

// Classification is the AI tuple attached to an inbound event.
type Classification struct {
	Intent     string
	Confidence float64
	Sentiment  string
}

// Classifier labels free text. May fail or be rate-limited upstream; callers
// treat any error as "no intent resolved".
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// ConversationContext is what the surrounding conversation already
// establishes about the event, resolved outside the core.
type ConversationContext struct {
	// ProductName/ProductURL reference the product the conversation is about.
	// Empty when the conversation carries no product reference.
	ProductName string
	ProductURL  string
}

// ContextResolver recovers conversation context (e.g. the story or post the
// sender is replying to). Resolution failure yields empty context.
type ContextResolver interface {
	Resolve(ctx context.Context, tenant *domain.Tenant, ev *domain.InboundEvent) (ConversationContext, error)
}

// Generator produces reply text from generation input. The default
// implementation is reply.TemplateGenerator; hosted deployments substitute
// the remote generation service.
type Generator interface {
	Generate(ctx context.Context, in reply.Input) (string, error)
}
