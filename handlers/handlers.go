package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"invasion-viewer/models"
	"invasion-viewer/services"
	"invasion-viewer/session"
	"invasion-viewer/version"
	ws "invasion-viewer/websocket"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

const serviceName = "invasion-viewer"

// RegionLister lists the regions stored in the backend.
type RegionLister interface {
	ListRegions(ctx context.Context) ([]models.Region, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions *services.SessionService
	regions  RegionLister
	hub      *ws.Hub
}

// NewHandlers creates a new handlers instance
func NewHandlers(sessions *services.SessionService, regions RegionLister, hub *ws.Hub) *Handlers {
	return &Handlers{
		sessions: sessions,
		regions:  regions,
		hub:      hub,
	}
}

// HealthCheck returns the service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:           "healthy",
		Service:          serviceName,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ActiveSessions:   h.sessions.Count(),
		ConnectedClients: h.hub.GetConnectedClientsCount(),
	})
}

func (h *Handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get(serviceName))
}

// ListRegions handles GET /api/v1/regions
func (h *Handlers) ListRegions(c *gin.Context) {
	regions, err := h.regions.ListRegions(c.Request.Context())
	if err != nil {
		respondError(c, "list regions", err)
		return
	}
	c.JSON(http.StatusOK, models.RegionListResponse{Regions: regions})
}

// session resolves the :id path parameter. On failure the response has
// already been written.
func (h *Handlers) session(c *gin.Context) (*session.Session, bool) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get session", err)
		return nil, false
	}
	return sess, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("Failed to %s: %v", op, err)
	} else {
		log.Debugf("Rejected %s: %v", op, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
