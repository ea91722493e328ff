// Package services implements the automation business logic: the decision
// engine, the dispatch sweep, and the storage-backed rate limiter. This file
// centralizes service-level error values and the eligibility reason taxonomy.
//
// Reasons are stable, enumerable strings. Analytics and support tooling key
// on them, so changing a string is a breaking change for downstream
// consumers; add new reasons instead of rewording existing ones.
package services

import "errors"

// Eligibility reasons returned by the decision engine. Every rejection is a
// normal outcome with one of these reasons, never an error.
const (
	ReasonAlreadyReplied     = "Already replied"
	ReasonAutomationDisabled = "Automation disabled"
	ReasonUsageCapExceeded   = "Usage cap exceeded"
	ReasonFollowUpNotAllowed = "Follow-up not allowed on plan"
	ReasonNoEligibleIntent   = "No eligible intent"
	ReasonMissingContext     = "Missing product context"
	ReasonClaimLost          = "Claim lost"
	ReasonGenerationFailed   = "Reply generation failed"
)

var (
	// ErrTenantNotFound indicates the referenced tenant does not exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrEventNotFound indicates the referenced inbound event does not exist.
	ErrEventNotFound = errors.New("inbound event not found")

	// ErrEmptyText is returned when an inbound event carries no message text.
	ErrEmptyText = errors.New("event text is empty")

	// ErrInvalidChannel is returned for channels outside dm|comment.
	ErrInvalidChannel = errors.New("channel must be dm or comment")
)
