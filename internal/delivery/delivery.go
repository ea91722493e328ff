// Package delivery defines the outbound messaging collaborator: the client
// that pushes automated replies to the upstream messaging platform, and the
// error taxonomy the dispatcher uses to decide between retrying with backoff
// and failing an item permanently.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
)

// Messenger delivers one reply to one recipient on behalf of a tenant.
// Implementations must honor ctx and return errors classified via Error so
// the dispatcher can tell throttling and outages from permanent rejections.
type Messenger interface {
	Send(ctx context.Context, tenant *domain.Tenant, recipientID, text string) error
}

// Error is a classified delivery failure.
//
// Fatal errors (recipient blocked the sender, permanently invalid credential)
// must not be retried; everything else (network faults, upstream rate limits,
// transient 5xx) is retryable with backoff.
type Error struct {
	Code  string // stable machine code, e.g. "recipient_blocked"
	Msg   string
	Fatal bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// IsFatal reports whether err is a delivery failure that retrying cannot fix.
// Unclassified errors are treated as retryable: wasting a retry on a truly
// dead send is cheaper than silently dropping a deliverable one.
func IsFatal(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Fatal
}
