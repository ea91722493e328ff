package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
)

func newQueueRouter(q QueueService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(stubEventSvc{}, q, stubDispatchSvc{})
	r := gin.New()
	r.GET("/queue/failed", h.ListFailed)
	return r
}

func getFailed(r *gin.Engine, tenant, query string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/queue/failed"+query, nil)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestListFailed_MissingTenant(t *testing.T) {
	r := newQueueRouter(stubQueueSvc{fn: func(context.Context, string, int, int) ([]domain.OutboundQueueItem, int64, error) {
		t.Fatalf("service should not be called without a tenant")
		return nil, 0, nil
	}})
	if w := getFailed(r, "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestListFailed_PaginationClamping(t *testing.T) {
	var gotPage, gotSize int
	r := newQueueRouter(stubQueueSvc{fn: func(_ context.Context, _ string, page, pageSize int) ([]domain.OutboundQueueItem, int64, error) {
		gotPage, gotSize = page, pageSize
		return nil, 0, nil
	}})

	// Garbage and out-of-range values fall back to defaults/caps.
	if w := getFailed(r, "t1", "?page=abc&page_size=999"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotPage != 1 || gotSize != 100 {
		t.Fatalf("clamped to page=%d size=%d, want 1/100", gotPage, gotSize)
	}

	if w := getFailed(r, "t1", "?page=-3&page_size=0"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotPage != 1 || gotSize != 1 {
		t.Fatalf("clamped to page=%d size=%d, want 1/1", gotPage, gotSize)
	}
}

func TestListFailed_Body(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	lastErr := "upstream_unavailable: 502"
	items := []domain.OutboundQueueItem{
		{ID: "q1", TenantID: "t1", Status: domain.QueueStatusFailed, Attempts: 3, LastError: &lastErr, NotBefore: now},
	}
	r := newQueueRouter(stubQueueSvc{fn: func(_ context.Context, tenant string, page, pageSize int) ([]domain.OutboundQueueItem, int64, error) {
		if tenant != "t1" {
			t.Fatalf("tenant = %q", tenant)
		}
		return items, 42, nil
	}})

	w := getFailed(r, "t1", "?page=2&page_size=20")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp ListFailedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "q1" {
		t.Fatalf("items unexpected: %+v", resp.Items)
	}
	p := resp.Pagination
	if p.Page != 2 || p.PageSize != 20 || p.Total != 42 || p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("pagination unexpected: %+v", p)
	}
}

func TestListFailed_ServiceError(t *testing.T) {
	r := newQueueRouter(stubQueueSvc{fn: func(context.Context, string, int, int) ([]domain.OutboundQueueItem, int64, error) {
		return nil, 0, errors.New("disk on fire")
	}})
	w := getFailed(r, "t1", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeListFailed {
		t.Fatalf("expected list_failed code, got %q", er.Code)
	}
}
