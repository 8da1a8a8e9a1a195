package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the API under /api/v1. Middleware in mw applies to the
// API group only.
func (h *Handlers) RegisterRoutes(router *gin.Engine, mw ...gin.HandlerFunc) {
	router.GET("/health", h.HealthCheck)
	router.GET("/version", h.Version)

	api := router.Group("/api/v1", mw...)
	api.GET("/regions", h.ListRegions)
	api.POST("/sessions", h.CreateSession)

	s := api.Group("/sessions/:id")
	{
		s.GET("", h.GetSession)
		s.DELETE("", h.CloseSession)
		s.GET("/stream", h.StreamSession)

		s.PUT("/draft", h.DrawComplete)
		s.DELETE("/draft", h.ClearDraft)
		s.GET("/draft/geojson", h.DraftGeoJSON)

		s.POST("/region", h.CreateRegion)
		s.PUT("/region", h.SelectRegion)
		s.DELETE("/region", h.ClearRegion)
		s.GET("/region/geojson", h.RegionGeoJSON)

		s.GET("/species", h.ListSpecies)
		s.PUT("/species", h.ReplaceSpecies)
		s.POST("/species", h.AddSpecies)
		s.PATCH("/species", h.UpdateSpecies)
		s.DELETE("/species/:key", h.RemoveSpecies)
		s.POST("/species/refresh", h.RefreshSpecies)
		s.POST("/species/generate", h.GenerateSpecies)
		s.GET("/species/status", h.SpeciesStatus)
		s.POST("/species/cancel", h.CancelSpecies)

		s.GET("/layers", h.ListLayers)
		s.POST("/layers", h.GenerateLayers)
		s.POST("/layers/products/:product", h.GenerateLayerProduct)
		s.GET("/layers/products/:product", h.LoadLayerProduct)
		s.POST("/layers/toggle/:layer", h.ToggleLayer)

		s.GET("/simulation", h.GetSimulation)
		s.POST("/simulation", h.StartSimulation)
		s.DELETE("/simulation", h.ResetSimulation)
		s.POST("/simulation/check", h.CheckSimulation)
		s.GET("/simulation/steps/:step/geojson", h.SimulationStepGeoJSON)
	}
}
