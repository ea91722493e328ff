// Package services – AutomationDecisionEngine
//
// The decision engine evaluates one inbound event against tenant plan,
// settings, classification, and conversation context, short-circuiting at
// the first failing condition. Every rejection is a normal outcome carrying
// a stable reason string; the engine never raises for an ineligible event,
// so callers can log the reason and move on.
//
// The claim attempt inside the engine is what makes at-least-once upstream
// delivery safe: however many times the same event is redelivered or
// processed concurrently, exactly one evaluation wins the claim and exactly
// one reply is produced.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/replyflow/go-autoreply-backend/internal/delivery"
	"github.com/replyflow/go-autoreply-backend/internal/domain"
	"github.com/replyflow/go-autoreply-backend/internal/intent"
	"github.com/replyflow/go-autoreply-backend/internal/reply"
	"github.com/replyflow/go-autoreply-backend/internal/repo"
)

// DefaultFollowUpWindow is how recently a sender's prior message must have
// arrived for the new one to count as a conversational follow-up.
const DefaultFollowUpWindow = 24 * time.Hour

// DecisionResult is the outcome of evaluating one inbound event.
//
// Exactly one of three shapes comes back: a rejection (Sent and Queued both
// false, Reason set), an immediate send (Sent true), or a deferred send
// (Queued true with the queue item ID).
type DecisionResult struct {
	Sent    bool   `json:"sent"`
	Queued  bool   `json:"queued,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Reply   string `json:"reply,omitempty"`
	ItemID  string `json:"queue_item_id,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func rejected(eventID, reason string) *DecisionResult {
	return &DecisionResult{Sent: false, Reason: reason, EventID: eventID}
}

// InboundEventInput is the ingestion payload for one upstream notification.
type InboundEventInput struct {
	ExternalID string
	Channel    string
	SenderID   string
	Text       string
}

// DecisionEngine evaluates eligibility and hands eligible events to the
// immediate-send-or-enqueue path.
type DecisionEngine struct {
	DB        *gorm.DB
	Limiter   *RateLimiter
	Messenger delivery.Messenger
	Generator Generator

	// Optional collaborators; nil disables the corresponding step input.
	Classifier Classifier
	Resolver   ContextResolver

	FollowUpWindow time.Duration
	BackoffBase    time.Duration

	// Now is a test seam; defaults to time.Now.
	Now func() time.Time
}

// NewDecisionEngine constructs an engine with production defaults.
func NewDecisionEngine(db *gorm.DB, limiter *RateLimiter, m delivery.Messenger, g Generator) *DecisionEngine {
	return &DecisionEngine{
		DB:             db,
		Limiter:        limiter,
		Messenger:      m,
		Generator:      g,
		FollowUpWindow: DefaultFollowUpWindow,
		BackoffBase:    DefaultBackoffBase,
	}
}

func (e *DecisionEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Process ingests one upstream notification and evaluates it: record the
// event (redeliveries collapse onto the existing row), attach classification
// when a classifier is available, then run the eligibility machine.
func (e *DecisionEngine) Process(ctx context.Context, tenantID string, in InboundEventInput) (*DecisionResult, error) {
	tr := otel.Tracer("services/DecisionEngine")
	ctx, span := tr.Start(ctx, "Process",
		attributeTenant(tenantID),
	)
	defer span.End()

	if in.Channel != domain.ChannelDM && in.Channel != domain.ChannelComment {
		return nil, ErrInvalidChannel
	}
	if in.Text == "" {
		return nil, ErrEmptyText
	}

	tenant, err := repo.GetTenant(ctx, e.DB, tenantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	now := e.now().UTC()
	ev := &domain.InboundEvent{
		TenantID:   tenantID,
		ExternalID: in.ExternalID,
		Channel:    in.Channel,
		SenderID:   in.SenderID,
		Text:       in.Text,
	}
	if prev, perr := repo.LastSenderEventAt(ctx, e.DB, tenantID, in.SenderID, now); perr == nil {
		ev.PrevMessageAt = prev
	}

	if cerr := repo.CreateInboundEvent(ctx, e.DB, ev); cerr != nil {
		if !errors.Is(cerr, repo.ErrDuplicate) {
			return nil, cerr
		}
		// Redelivered notification: continue with the original row. The
		// claim guard downstream keeps this from producing a second reply.
		ev, err = repo.GetInboundEventByExternalID(ctx, e.DB, tenantID, in.ExternalID)
		if err != nil {
			return nil, err
		}
	}

	if e.Classifier != nil && ev.Intent == nil {
		if cl, cerr := e.Classifier.Classify(ctx, ev.Text); cerr == nil && cl.Intent != "" {
			if aerr := repo.AttachClassification(ctx, e.DB, ev.ID, cl.Intent, cl.Confidence, cl.Sentiment); aerr == nil {
				ev.Intent = &cl.Intent
				ev.Confidence = &cl.Confidence
				ev.Sentiment = &cl.Sentiment
			}
		}
		// Classification failure is "no intent resolved", never fatal.
	}

	return e.Evaluate(ctx, tenant, ev), nil
}

// Evaluate runs the eligibility machine for one recorded event. It always
// returns a result; rejections carry a reason from the stable taxonomy.
func (e *DecisionEngine) Evaluate(ctx context.Context, tenant *domain.Tenant, ev *domain.InboundEvent) *DecisionResult {
	tr := otel.Tracer("services/DecisionEngine")
	ctx, span := tr.Start(ctx, "Evaluate",
		attributeTenant(tenant.ID),
	)
	defer span.End()

	now := e.now().UTC()
	key := repo.ClaimKey(ev)

	// 1. Duplicate-delivery guard, cheapest check first. A storage error
	// here fails closed: not knowing whether a reply was committed means
	// do not send.
	if _, err := repo.GetClaim(ctx, e.DB, tenant.ID, key); err == nil {
		return rejected(ev.ID, ReasonAlreadyReplied)
	} else if !errors.Is(err, repo.ErrNotFound) {
		log.Warn().Err(err).Str("event_key", key).Msg("claim lookup failed, not sending")
		return rejected(ev.ID, ReasonClaimLost)
	}

	// 2. Channel automation toggle.
	if !tenant.AutomationEnabled(ev.Channel) {
		return rejected(ev.ID, ReasonAutomationDisabled)
	}

	// 3. Monthly plan cap.
	if tenant.UsageInMonth(repo.MonthKey(now)) >= tenant.MonthlyReplyCap {
		return rejected(ev.ID, ReasonUsageCapExceeded)
	}

	// 4. Follow-up gate.
	if ev.PrevMessageAt != nil && now.Sub(*ev.PrevMessageAt) <= e.followUpWindow() && !tenant.AllowsFollowUps() {
		return rejected(ev.ID, ReasonFollowUpNotAllowed)
	}

	// 5. Intent resolution: AI classification when present and eligible,
	// keyword inference otherwise, but only inside a product conversation.
	convCtx := e.resolveContext(ctx, tenant, ev)
	resolved := ""
	if ev.Intent != nil && intent.Eligible(*ev.Intent) {
		resolved = *ev.Intent
	} else if convCtx.ProductName != "" {
		resolved = intent.Infer(ev.Text)
	}
	if resolved == "" {
		return rejected(ev.ID, ReasonNoEligibleIntent)
	}

	// 6. Context requirement: without a product to talk about, only plans
	// that may ask a clarifying question proceed.
	clarify := false
	if convCtx.ProductName == "" {
		if !tenant.AllowsClarifying() {
			return rejected(ev.ID, ReasonMissingContext)
		}
		clarify = true
	}

	// Reply text is produced before the claim so a generation failure never
	// leaves a claimed event with nothing to send.
	text, err := e.Generator.Generate(ctx, reply.Input{
		Intent:      resolved,
		ProductName: convCtx.ProductName,
		ProductURL:  convCtx.ProductURL,
		Clarify:     clarify,
	})
	if err != nil || text == "" {
		log.Warn().Err(err).Str("event_id", ev.ID).Msg("reply generation failed")
		return rejected(ev.ID, ReasonGenerationFailed)
	}

	// 7. The claim: insert-with-uniqueness is the whole arbitration. Losing
	// is contention, a normal outcome. A storage error fails closed.
	if _, err := repo.CreateClaim(ctx, e.DB, tenant.ID, key, text); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			log.Warn().Err(err).Str("event_key", key).Msg("claim insert failed, not sending")
		}
		return rejected(ev.ID, ReasonClaimLost)
	}

	// 8. Handoff: immediate send on the fast path when the limiter admits,
	// otherwise the queue carries it into the next window.
	res := e.deliver(ctx, tenant, ev, text, now)
	span.SetAttributes(attribute.Bool("decision.sent", res.Sent), attribute.Bool("decision.queued", res.Queued))
	return res
}

// deliver sends now when admitted, or enqueues. The claim is already won, so
// every path from here must end in exactly one send attempt trail.
func (e *DecisionEngine) deliver(ctx context.Context, tenant *domain.Tenant, ev *domain.InboundEvent, text string, now time.Time) *DecisionResult {
	if !e.Limiter.TryAdmit(ctx, tenant.ID) {
		item, err := repo.EnqueueOutbound(ctx, e.DB, tenant.ID, ev.SenderID, text, e.Limiter.NextWindow(now))
		if err != nil {
			log.Error().Err(err).Str("event_id", ev.ID).Msg("enqueue failed")
			return rejected(ev.ID, ReasonClaimLost)
		}
		return &DecisionResult{Queued: true, Reply: text, ItemID: item.ID, EventID: ev.ID}
	}

	if err := e.Messenger.Send(ctx, tenant, ev.SenderID, text); err != nil {
		// The fast path failed; fall back to the queue so the retry state
		// is persisted and observable.
		item, qerr := repo.EnqueueOutbound(ctx, e.DB, tenant.ID, ev.SenderID, text, now)
		if qerr != nil {
			log.Error().Err(qerr).Str("event_id", ev.ID).Msg("enqueue after send failure failed")
			return rejected(ev.ID, ReasonClaimLost)
		}
		if delivery.IsFatal(err) {
			_ = repo.MarkFailed(ctx, e.DB, item.ID, err.Error())
		} else {
			_ = repo.MarkRetry(ctx, e.DB, item.ID, err.Error(), now.Add(Backoff(e.backoffBase(), 1)))
		}
		return &DecisionResult{Queued: true, Reply: text, ItemID: item.ID, EventID: ev.ID}
	}

	if err := repo.IncrementUsage(ctx, e.DB, tenant.ID, repo.MonthKey(now)); err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("usage increment failed")
	}
	return &DecisionResult{Sent: true, Reply: text, EventID: ev.ID}
}

// resolveContext asks the resolver for conversation context; failure or a
// missing resolver yields empty context.
func (e *DecisionEngine) resolveContext(ctx context.Context, tenant *domain.Tenant, ev *domain.InboundEvent) ConversationContext {
	if e.Resolver == nil {
		return ConversationContext{}
	}
	cc, err := e.Resolver.Resolve(ctx, tenant, ev)
	if err != nil {
		log.Debug().Err(err).Str("event_id", ev.ID).Msg("context resolution failed")
		return ConversationContext{}
	}
	return cc
}

func (e *DecisionEngine) followUpWindow() time.Duration {
	if e.FollowUpWindow > 0 {
		return e.FollowUpWindow
	}
	return DefaultFollowUpWindow
}

func (e *DecisionEngine) backoffBase() time.Duration {
	if e.BackoffBase > 0 {
		return e.BackoffBase
	}
	return DefaultBackoffBase
}

func attributeTenant(id string) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("tenant.id", id))
}
