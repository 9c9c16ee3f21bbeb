package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"linkrole-backend-go/internal/plans"
)

// PlansHandler serves the plan catalog. The UI reads it to gate feature
// visibility; the same table normalizes incoming webhook plan identifiers,
// so the two can never drift apart.
type PlansHandler struct{}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler() *PlansHandler {
	return &PlansHandler{}
}

// ListPlans handles GET /api/v1/plans.
func (h *PlansHandler) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": plans.All()})
}
