// Outbound queue HTTP handlers.
//
// This file exposes read access to the dispatch queue:
//   - GET /queue/failed   (list permanently failed items, paginated)
//
// Failed items are the operator's worklist: each carries the last delivery
// error and the attempt count, so support can decide whether to re-enqueue
// manually or follow up with the platform.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/replyflow/go-autoreply-backend/internal/domain"
	"github.com/replyflow/go-autoreply-backend/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListFailedResponse contains a page of failed queue items and pagination
// metadata.
type ListFailedResponse struct {
	Items      []domain.OutboundQueueItem `json:"items"`
	Pagination Pagination                 `json:"pagination"`
}

// clampPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// ListFailed returns a page of permanently failed queue items for the tenant.
func (h *Handlers) ListFailed(c *gin.Context) {
	ctx := c.Request.Context()

	tenant := tenantID(c)
	if tenant == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Tenant-ID required")
		return
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.queueSvc.ListFailedPage(ctx, tenant, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListFailedResponse{
		Items: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
