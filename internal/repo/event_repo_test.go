package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
)

func TestCreateInboundEvent_RedeliveryCollapses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ev := &domain.InboundEvent{
		TenantID:   "t1",
		ExternalID: "mid_123",
		Channel:    domain.ChannelDM,
		SenderID:   "u_9",
		Text:       "how much is the hoodie?",
	}
	if err := CreateInboundEvent(ctx, db, ev); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("expected generated event ID")
	}

	// The upstream source redelivers the same notification.
	dup := &domain.InboundEvent{TenantID: "t1", ExternalID: "mid_123", Channel: domain.ChannelDM, SenderID: "u_9", Text: "how much is the hoodie?"}
	if err := CreateInboundEvent(ctx, db, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("redelivery err = %v, want ErrDuplicate", err)
	}

	got, err := GetInboundEventByExternalID(ctx, db, "t1", "mid_123")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if got.ID != ev.ID {
		t.Fatalf("lookup returned %s, want original row %s", got.ID, ev.ID)
	}
}

func TestAttachClassification(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ev := &domain.InboundEvent{TenantID: "t1", ExternalID: "mid_1", Channel: domain.ChannelDM, SenderID: "u", Text: "price?"}
	if err := CreateInboundEvent(ctx, db, ev); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := AttachClassification(ctx, db, ev.ID, "price_inquiry", 0.93, "positive"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	got, _ := GetInboundEventByExternalID(ctx, db, "t1", "mid_1")
	if got.Intent == nil || *got.Intent != "price_inquiry" {
		t.Fatalf("intent = %v, want price_inquiry", got.Intent)
	}
	if got.Confidence == nil || *got.Confidence != 0.93 {
		t.Fatalf("confidence = %v, want 0.93", got.Confidence)
	}
	if got.Sentiment == nil || *got.Sentiment != "positive" {
		t.Fatalf("sentiment = %v, want positive", got.Sentiment)
	}
}

func TestLastSenderEventAt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// First contact: no prior event.
	prev, err := LastSenderEventAt(ctx, db, "t1", "u_9", now)
	if err != nil || prev != nil {
		t.Fatalf("first contact = (%v, %v), want (nil, nil)", prev, err)
	}

	old := &domain.InboundEvent{TenantID: "t1", ExternalID: "mid_old", Channel: domain.ChannelDM, SenderID: "u_9", Text: "hi"}
	if err := CreateInboundEvent(ctx, db, old); err != nil {
		t.Fatalf("seed: %v", err)
	}
	db.Model(old).Update("created_at", now.Add(-2*time.Hour))

	prev, err = LastSenderEventAt(ctx, db, "t1", "u_9", now)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if prev == nil || !prev.Equal(now.Add(-2*time.Hour)) {
		t.Fatalf("prev = %v, want two hours ago", prev)
	}

	// Another sender's history must not count.
	if prev, _ := LastSenderEventAt(ctx, db, "t1", "u_other", now); prev != nil {
		t.Fatalf("unexpected prior event for other sender: %v", prev)
	}
}
