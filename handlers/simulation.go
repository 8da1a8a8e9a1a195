package handlers

import (
	"net/http"
	"strconv"

	"invasion-viewer/models"

	"github.com/gin-gonic/gin"
)

// GetSimulation handles GET /api/v1/sessions/:id/simulation
func (h *Handlers) GetSimulation(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Simulation().View())
}

// StartSimulation handles POST /api/v1/sessions/:id/simulation
func (h *Handlers) StartSimulation(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var params models.SimulationParams
	if !bindJSON(c, &params) {
		return
	}
	rec, err := sess.Simulation().Start(c.Request.Context(), params)
	if err != nil {
		respondError(c, "start simulation", err)
		return
	}
	status := http.StatusOK
	if !rec.Finished() {
		status = http.StatusAccepted
	}
	c.JSON(status, rec)
}

// CheckSimulation handles POST /api/v1/sessions/:id/simulation/check
func (h *Handlers) CheckSimulation(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	rec, err := sess.Simulation().CheckStatus(c.Request.Context())
	if err != nil {
		respondError(c, "check simulation", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ResetSimulation handles DELETE /api/v1/sessions/:id/simulation
func (h *Handlers) ResetSimulation(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.Simulation().Reset()
	c.Status(http.StatusNoContent)
}

// SimulationStepGeoJSON handles GET /api/v1/sessions/:id/simulation/steps/:step/geojson
func (h *Handlers) SimulationStepGeoJSON(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil || step < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'step' parameter. Must be a non-negative integer."})
		return
	}
	fc, err := sess.Simulation().StepFeatures(step)
	if err != nil {
		respondError(c, "render simulation step", err)
		return
	}
	c.JSON(http.StatusOK, fc)
}
