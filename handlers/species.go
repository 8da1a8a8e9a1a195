package handlers

import (
	"context"
	"net/http"
	"sort"

	"invasion-viewer/models"
	"invasion-viewer/session"

	"github.com/gin-gonic/gin"
)

type SpeciesListBody struct {
	SpeciesList []models.Species `json:"species_list"`
}

// ListSpecies handles GET /api/v1/sessions/:id/species
//
// ?min_impact=<level> keeps species at or above that impact level and
// ?sort=impact lists the most harmful first.
func (h *Handlers) ListSpecies(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	view := sess.Species().View()

	var floor models.ImpactLevel
	if raw := c.Query("min_impact"); raw != "" {
		if floor = models.ParseImpactLevel(raw); floor == models.ImpactUnknown {
			respondError(c, "list species", models.Validationf("unknown impact level %q", raw))
			return
		}
	}
	sortByImpact := c.Query("sort") == "impact"
	if floor != models.ImpactUnknown || sortByImpact {
		view.Data = rankSpecies(view.Data, floor, sortByImpact)
	}
	c.JSON(http.StatusOK, view)
}

// rankSpecies returns a copy of list without species below floor, ordered by
// descending impact when byImpact is set.
func rankSpecies(list []models.Species, floor models.ImpactLevel, byImpact bool) []models.Species {
	out := make([]models.Species, 0, len(list))
	for _, sp := range list {
		if sp.Impact.Rank() >= floor.Rank() {
			out = append(out, sp)
		}
	}
	if byImpact {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Impact.Rank() > out[j].Impact.Rank()
		})
	}
	return out
}

// RefreshSpecies handles POST /api/v1/sessions/:id/species/refresh
func (h *Handlers) RefreshSpecies(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	list, err := sess.Species().FetchSpeciesFromRegion(c.Request.Context(), sess.Coordinator().RegionID())
	if err != nil {
		respondError(c, "fetch species", err)
		return
	}
	c.JSON(http.StatusOK, SpeciesListBody{SpeciesList: list})
}

// ReplaceSpecies handles PUT /api/v1/sessions/:id/species
func (h *Handlers) ReplaceSpecies(c *gin.Context) {
	h.writeSpecies(c, "replace species", func(ctx context.Context, store *session.SpeciesStore, regionID string, list []models.Species) ([]models.Species, error) {
		return store.ReplaceAllSpecies(ctx, regionID, list)
	})
}

// AddSpecies handles POST /api/v1/sessions/:id/species
func (h *Handlers) AddSpecies(c *gin.Context) {
	h.writeSpecies(c, "add species", func(ctx context.Context, store *session.SpeciesStore, regionID string, list []models.Species) ([]models.Species, error) {
		return store.AddSpecies(ctx, regionID, list...)
	})
}

// UpdateSpecies handles PATCH /api/v1/sessions/:id/species
func (h *Handlers) UpdateSpecies(c *gin.Context) {
	h.writeSpecies(c, "update species", func(ctx context.Context, store *session.SpeciesStore, regionID string, list []models.Species) ([]models.Species, error) {
		return store.UpdateSpecies(ctx, regionID, list...)
	})
}

// RemoveSpecies handles DELETE /api/v1/sessions/:id/species/:key
func (h *Handlers) RemoveSpecies(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	list, err := sess.Species().RemoveSpecies(c.Request.Context(), sess.Coordinator().RegionID(), c.Param("key"))
	if err != nil {
		respondError(c, "remove species", err)
		return
	}
	c.JSON(http.StatusOK, SpeciesListBody{SpeciesList: list})
}

type speciesWrite func(ctx context.Context, store *session.SpeciesStore, regionID string, list []models.Species) ([]models.Species, error)

func (h *Handlers) writeSpecies(c *gin.Context, op string, write speciesWrite) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req SpeciesListBody
	if !bindJSON(c, &req) {
		return
	}
	if req.SpeciesList == nil {
		req.SpeciesList = []models.Species{}
	}
	list, err := write(c.Request.Context(), sess.Species(), sess.Coordinator().RegionID(), req.SpeciesList)
	if err != nil {
		respondError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, SpeciesListBody{SpeciesList: list})
}

// GenerateSpecies handles POST /api/v1/sessions/:id/species/generate
func (h *Handlers) GenerateSpecies(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	gen, err := sess.Species().Generate(c.Request.Context(), sess.Coordinator().RegionID())
	if err != nil {
		respondError(c, "generate species", err)
		return
	}
	c.JSON(http.StatusOK, gen)
}

// SpeciesStatus handles GET /api/v1/sessions/:id/species/status
func (h *Handlers) SpeciesStatus(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	gen, err := sess.Species().Status(c.Request.Context(), sess.Coordinator().RegionID())
	if err != nil {
		respondError(c, "get species status", err)
		return
	}
	c.JSON(http.StatusOK, gen)
}

// CancelSpecies handles POST /api/v1/sessions/:id/species/cancel
func (h *Handlers) CancelSpecies(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	regionID := sess.Coordinator().RegionID()
	cancelled, err := sess.Species().Cancel(c.Request.Context(), regionID)
	if err != nil {
		respondError(c, "cancel species generation", err)
		return
	}
	c.JSON(http.StatusOK, models.SpeciesCancelResponse{RegionID: regionID, Cancelled: cancelled})
}
