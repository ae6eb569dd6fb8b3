// Admin Handlers - JWT-guarded operational queries
package handlers

import (
	"net/http"
	"strconv"

	"crosscall-backend/internal/escrow"
	"crosscall-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves the operational admin surface.
type AdminHandler struct {
	service *services.RequestService
	book    *escrow.Book
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(service *services.RequestService, book *escrow.Book) *AdminHandler {
	return &AdminHandler{service: service, book: book}
}

// ListAllRequestsHandler lists every persisted request.
// GET /api/v1/admin/requests
func (h *AdminHandler) ListAllRequestsHandler(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

	rows, total, err := h.service.ListAll(c.Request.Context(), page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"requests":  rows,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

// EscrowSummaryHandler reports the value currently held in custody per
// asset. GET /api/v1/admin/escrow/summary
func (h *AdminHandler) EscrowSummaryHandler(c *gin.Context) {
	if h.book == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "escrow ledger not available",
		})
		return
	}
	totals, err := h.book.HeldTotals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	held := make(map[string]string, len(totals))
	for asset, amount := range totals {
		held[asset] = amount.String()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"held": held}})
}
