package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListLayers handles GET /api/v1/sessions/:id/layers
func (h *Handlers) ListLayers(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Layers().View())
}

// GenerateLayers handles POST /api/v1/sessions/:id/layers
func (h *Handlers) GenerateLayers(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if _, err := sess.Layers().Generate(c.Request.Context(), sess.Coordinator().RegionID()); err != nil {
		respondError(c, "generate layers", err)
		return
	}
	c.JSON(http.StatusOK, sess.Layers().View())
}

// GenerateLayerProduct handles POST /api/v1/sessions/:id/layers/products/:product
func (h *Handlers) GenerateLayerProduct(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	product := c.Param("product")
	if _, err := sess.Layers().GenerateProduct(c.Request.Context(), product, sess.Coordinator().RegionID()); err != nil {
		respondError(c, "generate "+product+" layers", err)
		return
	}
	c.JSON(http.StatusOK, sess.Layers().View())
}

// LoadLayerProduct handles GET /api/v1/sessions/:id/layers/products/:product
func (h *Handlers) LoadLayerProduct(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	product := c.Param("product")
	if _, err := sess.Layers().LoadProduct(c.Request.Context(), product, sess.Coordinator().RegionID()); err != nil {
		respondError(c, "load "+product+" layers", err)
		return
	}
	c.JSON(http.StatusOK, sess.Layers().View())
}

// ToggleLayer handles POST /api/v1/sessions/:id/layers/toggle/:layer
func (h *Handlers) ToggleLayer(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	layerID := c.Param("layer")
	visible, err := sess.ToggleLayer(layerID)
	if err != nil {
		respondError(c, "toggle layer", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": layerID, "visible": visible})
}
