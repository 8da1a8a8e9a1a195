package handlers

import (
	"errors"
	"net/http"

	"invasion-viewer/geometry"
	"invasion-viewer/models"

	"github.com/gin-gonic/gin"
	geojson "github.com/paulmach/go.geojson"
)

type CreateRegionRequest struct {
	Name        string           `json:"name"`
	SpeciesList []models.Species `json:"species_list"`
}

type SelectRegionRequest struct {
	RegionID string `json:"region_id" binding:"required"`
}

// CreateSession handles POST /api/v1/sessions
func (h *Handlers) CreateSession(c *gin.Context) {
	sess := h.sessions.Create()
	c.JSON(http.StatusCreated, sess.Snapshot())
}

// GetSession handles GET /api/v1/sessions/:id
func (h *Handlers) GetSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// CloseSession handles DELETE /api/v1/sessions/:id
func (h *Handlers) CloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "close session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DrawComplete handles PUT /api/v1/sessions/:id/draft
func (h *Handlers) DrawComplete(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var shape geometry.DrawnShape
	if !bindJSON(c, &shape) {
		return
	}
	draft, err := sess.DrawComplete(shape)
	if err != nil {
		respondError(c, "capture draft", err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

// ClearDraft handles DELETE /api/v1/sessions/:id/draft
func (h *Handlers) ClearDraft(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.Coordinator().ClearDraft()
	c.Status(http.StatusNoContent)
}

// DraftGeoJSON handles GET /api/v1/sessions/:id/draft/geojson
func (h *Handlers) DraftGeoJSON(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	draft := sess.Coordinator().Draft()
	if draft == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no draft"})
		return
	}
	fc := geojson.NewFeatureCollection()
	fc.AddFeature(geometry.ToFeature("draft", draft.Polygon))
	c.JSON(http.StatusOK, fc)
}

// CreateRegion handles POST /api/v1/sessions/:id/region
func (h *Handlers) CreateRegion(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req CreateRegionRequest
	if !bindJSON(c, &req) {
		return
	}
	region, err := sess.CreateRegion(c.Request.Context(), req.Name, req.SpeciesList)
	if err != nil {
		if errors.Is(err, models.ErrSuperseded) && region != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "region": region})
			return
		}
		respondError(c, "create region", err)
		return
	}
	c.JSON(http.StatusCreated, region)
}

// SelectRegion handles PUT /api/v1/sessions/:id/region
func (h *Handlers) SelectRegion(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req SelectRegionRequest
	if !bindJSON(c, &req) {
		return
	}
	region, err := sess.SelectRegion(c.Request.Context(), req.RegionID)
	if err != nil {
		respondError(c, "select region", err)
		return
	}
	c.JSON(http.StatusOK, region)
}

// ClearRegion handles DELETE /api/v1/sessions/:id/region
func (h *Handlers) ClearRegion(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.Clear()
	c.Status(http.StatusNoContent)
}

// RegionGeoJSON handles GET /api/v1/sessions/:id/region/geojson
func (h *Handlers) RegionGeoJSON(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	region := sess.Coordinator().Region()
	if region == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no region committed"})
		return
	}
	fc := geojson.NewFeatureCollection()
	fc.AddFeature(geometry.RegionFeature(region))
	c.JSON(http.StatusOK, fc)
}
