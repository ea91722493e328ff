// HTTP Messenger implementation for graph-style messaging APIs.
//
// The client POSTs a small JSON payload with the tenant's page token and maps
// upstream responses onto the delivery error taxonomy. An expired-credential
// response triggers one refresh-and-retry when a refresher is configured;
// a second rejection is treated as a permanently invalid credential.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
)

// TokenRefresher exchanges an expired page token for a fresh one. The token
// store itself (encryption, OAuth exchange) lives outside this service.
type TokenRefresher interface {
	Refresh(ctx context.Context, tenant *domain.Tenant) (string, error)
}

// Client is an HTTP Messenger.
type Client struct {
	BaseURL   string
	HTTP      *http.Client
	Refresher TokenRefresher // optional; nil disables refresh-and-retry
}

// NewClient returns a Client for baseURL with a bounded request timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

type sendResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send delivers text to recipientID using the tenant's page token.
func (c *Client) Send(ctx context.Context, tenant *domain.Tenant, recipientID, text string) error {
	err := c.post(ctx, tenant.PageToken, recipientID, text)
	if err == nil {
		return nil
	}

	// Expired credential: refresh once and retry, then give up for good.
	var de *Error
	if c.Refresher != nil && asError(err, &de) && de.Code == "token_expired" {
		token, rerr := c.Refresher.Refresh(ctx, tenant)
		if rerr != nil {
			return &Error{Code: "credential_invalid", Msg: rerr.Error(), Fatal: true}
		}
		if err := c.post(ctx, token, recipientID, text); err != nil {
			if asError(err, &de) && de.Code == "token_expired" {
				return &Error{Code: "credential_invalid", Msg: de.Msg, Fatal: true}
			}
			return err
		}
		return nil
	}
	return err
}

func (c *Client) post(ctx context.Context, token, recipientID, text string) error {
	body, err := json.Marshal(sendRequest{RecipientID: recipientID, Text: text})
	if err != nil {
		return &Error{Code: "encode_failed", Msg: err.Error(), Fatal: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return &Error{Code: "bad_request", Msg: err.Error(), Fatal: true}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Network faults are always worth retrying.
		return &Error{Code: "network", Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var parsed sendResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &parsed)
	code := parsed.Error.Code
	msg := parsed.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("upstream status %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Code: "upstream_rate_limited", Msg: msg}
	case resp.StatusCode >= 500:
		return &Error{Code: "upstream_unavailable", Msg: msg}
	case code == "token_expired":
		return &Error{Code: "token_expired", Msg: msg}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if code == "" {
			code = "credential_invalid"
		}
		return &Error{Code: code, Msg: msg, Fatal: true}
	default:
		if code == "" {
			code = "rejected"
		}
		// Remaining 4xx (recipient blocked, bad recipient, policy) are final.
		return &Error{Code: code, Msg: msg, Fatal: true}
	}
}

// asError is errors.As narrowed to *Error; keeps call sites compact.
func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}
