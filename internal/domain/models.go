// Package domain defines the persistence models for tenants, inbound events,
// reply claims, the outbound send queue, and rate-limit windows. These types
// are mapped with GORM and form the core data layer of the automation backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Tenant plan tiers. The tier controls the monthly reply cap surface and
// which conversational features automation may use.
const (
	PlanStarter = "starter"
	PlanGrowth  = "growth"
	PlanPro     = "pro"
)

// Inbound channels automation can reply on.
const (
	ChannelDM      = "dm"
	ChannelComment = "comment"
)

// Tenant represents one independent customer account. The dispatch core only
// reads plan/cap/settings and increments the usage counter after a confirmed
// send; everything else on this row is owned by the account system.
//
// RepliesUsed is valid only for UsageMonth ("2006-01", UTC). When the calendar
// month rolls over, the counter is logically zero until the next increment
// stamps the new month.
type Tenant struct {
	ID   string `json:"id"   gorm:"type:char(36);primaryKey"`
	Name string `json:"name" gorm:"type:varchar(255);not null"`
	Plan string `json:"plan" gorm:"type:varchar(16);not null;default:'starter';check:plan IN ('starter','growth','pro')"`

	// Automation settings (per channel).
	AutomateDMs      bool `json:"automate_dms"      gorm:"not null;default:false"`
	AutomateComments bool `json:"automate_comments" gorm:"not null;default:false"`

	// Monthly reply budget and rolling usage.
	MonthlyReplyCap int    `json:"monthly_reply_cap" gorm:"not null;default:25"`
	RepliesUsed     int    `json:"replies_used"      gorm:"not null;default:0"`
	UsageMonth      string `json:"usage_month"       gorm:"type:char(7);not null;default:''"`

	// PageToken is the opaque upstream credential used for delivery. Exchange
	// and encryption happen outside this service.
	PageToken string `json:"-" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Tenant.
func (Tenant) TableName() string { return "tenants" }

// AllowsFollowUps reports whether the plan permits automated replies to
// follow-up messages (a second message from the same sender within the
// follow-up window).
func (t *Tenant) AllowsFollowUps() bool { return t.Plan == PlanGrowth || t.Plan == PlanPro }

// AllowsClarifying reports whether the plan permits sending a clarifying
// question when the product context for a reply cannot be resolved.
func (t *Tenant) AllowsClarifying() bool { return t.Plan == PlanPro }

// AutomationEnabled reports whether automation is switched on for a channel.
func (t *Tenant) AutomationEnabled(channel string) bool {
	switch channel {
	case ChannelDM:
		return t.AutomateDMs
	case ChannelComment:
		return t.AutomateComments
	default:
		return false
	}
}

// UsageInMonth returns the replies consumed in the given month key
// ("2006-01"). Usage stamped for an older month has lapsed and counts as zero.
func (t *Tenant) UsageInMonth(month string) int {
	if t.UsageMonth != month {
		return 0
	}
	return t.RepliesUsed
}

// InboundEvent is one externally-received message or comment. Rows are
// immutable after ingestion except for the AI classification fields, which
// are attached asynchronously.
//
// ExternalID is the upstream identifier, globally unique per tenant; the
// unique index makes redelivered notifications collapse onto one row.
// PrevMessageAt carries the timestamp of the sender's prior message and
// feeds the follow-up-window check.
type InboundEvent struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	TenantID   string `json:"tenant_id"   gorm:"type:char(36);not null;index;uniqueIndex:ux_event_tenant_external"`
	ExternalID string `json:"external_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_event_tenant_external"`
	Channel    string `json:"channel"     gorm:"type:varchar(16);not null;check:channel IN ('dm','comment')"`
	SenderID   string `json:"sender_id"   gorm:"type:varchar(128);not null;index:idx_event_sender"`
	Text       string `json:"text"        gorm:"type:text;not null"`

	PrevMessageAt *time.Time `json:"prev_message_at,omitempty"`

	// AI classification, attached after the fact. Nil until classified.
	Intent     *string  `json:"intent,omitempty"     gorm:"type:varchar(64)"`
	Confidence *float64 `json:"confidence,omitempty"`
	Sentiment  *string  `json:"sentiment,omitempty"  gorm:"type:varchar(32)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for InboundEvent.
func (InboundEvent) TableName() string { return "inbound_events" }

// ReplyClaim asserts that a tenant has committed to replying to one inbound
// event. The unique index on (tenant_id, event_key) is the concurrency
// arbitration: the insert either wins or loses, there is no check-then-act.
// Claims are permanent and keep the reply text so a losing caller can still
// see what was (or will be) sent.
type ReplyClaim struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	TenantID  string    `json:"tenant_id"  gorm:"type:char(36);not null;uniqueIndex:ux_claim_tenant_event"`
	EventKey  string    `json:"event_key"  gorm:"type:varchar(160);not null;uniqueIndex:ux_claim_tenant_event"`
	ReplyText string    `json:"reply_text" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ReplyClaim.
func (ReplyClaim) TableName() string { return "reply_claims" }

// Outbound queue item statuses.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusSent       = "sent"
	QueueStatusFailed     = "failed"
)

// OutboundQueueItem is one pending automated send.
//
// Lifecycle: pending → processing (claimed by a sweep) → sent, failed, or
// back to pending with a later NotBefore (retry backoff or rate deferral).
// ProcessingSince is set while a worker holds the row and drives stuck-item
// recovery; LockedBy records which sweep claimed it, for operator forensics.
type OutboundQueueItem struct {
	ID          string `json:"id"           gorm:"type:char(36);primaryKey"`
	TenantID    string `json:"tenant_id"    gorm:"type:char(36);not null;index"`
	RecipientID string `json:"recipient_id" gorm:"type:varchar(128);not null"`
	Text        string `json:"text"         gorm:"type:text;not null"`

	Status   string `json:"status"   gorm:"type:varchar(16);not null;default:'pending';index:idx_queue_due,priority:1;check:status IN ('pending','processing','sent','failed')"`
	Attempts int    `json:"attempts" gorm:"not null;default:0"`

	NotBefore       time.Time  `json:"not_before" gorm:"not null;index:idx_queue_due,priority:2"`
	ProcessingSince *time.Time `json:"processing_since,omitempty"`
	// Wide enough for "<worker id>:<uuid>" with a hostname-derived worker id.
	LockedBy        *string    `json:"-" gorm:"type:varchar(128)"`
	LastError       *string    `json:"last_error,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for OutboundQueueItem.
func (OutboundQueueItem) TableName() string { return "outbound_queue_items" }

// RateLimitWindow is the per-tenant, per-minute send counter. The row is
// upserted with an atomic increment; rows older than two windows are garbage
// collected opportunistically by whoever sweeps next.
type RateLimitWindow struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	TenantID    string    `json:"tenant_id"    gorm:"type:char(36);not null;uniqueIndex:ux_ratelimit_tenant_window"`
	WindowStart time.Time `json:"window_start" gorm:"not null;uniqueIndex:ux_ratelimit_tenant_window"`
	Count       int       `json:"count"        gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for RateLimitWindow.
func (RateLimitWindow) TableName() string { return "rate_limit_windows" }
