package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"invasion-viewer/models"
)

const layerStatusPartial = "completed_with_errors"

type layerInfo struct {
	key         string
	name        string
	description string
	category    models.LayerCategory
}

// layerCatalog maps the backend's *_url keys to display metadata. Its order is
// the order layers are listed in.
var layerCatalog = []layerInfo{
	{"copernicus_url", "Land Cover", "Copernicus global land cover classification", models.CategoryLandUse},
	{"srtm_url", "Elevation", "SRTM digital elevation model", models.CategoryElevation},
	{"worldclim_bio1_url", "Annual Mean Temperature", "WorldClim BIO1, annual mean temperature", models.CategoryClimate},
	{"worldclim_bio5_url", "Max Temperature of Warmest Month", "WorldClim BIO5, max temperature of the warmest month", models.CategoryClimate},
	{"worldclim_bio6_url", "Min Temperature of Coldest Month", "WorldClim BIO6, min temperature of the coldest month", models.CategoryClimate},
	{"worldclim_bio12_url", "Annual Precipitation", "WorldClim BIO12, annual precipitation", models.CategoryClimate},
	{"worldclim_bio15_url", "Precipitation Seasonality", "WorldClim BIO15, coefficient of variation of precipitation", models.CategoryClimate},
}

// MapLayers turns a layer set into the uniform layer list. Unknown keys are
// kept under the "other" category, after the known ones, in key order.
func MapLayers(set *models.LayerSet) []models.Layer {
	layers := []models.Layer{}
	if set == nil {
		return layers
	}
	known := make(map[string]bool, len(layerCatalog))
	for _, info := range layerCatalog {
		known[info.key] = true
		url, ok := set.URLs[info.key]
		if !ok || url == "" {
			continue
		}
		layers = append(layers, models.Layer{
			ID:          strings.TrimSuffix(info.key, "_url"),
			Name:        info.name,
			Description: info.description,
			Category:    info.category,
			URL:         url,
		})
	}

	var unknown []string
	for key, url := range set.URLs {
		if !known[key] && url != "" {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		id := strings.TrimSuffix(key, "_url")
		layers = append(layers, models.Layer{
			ID:          id,
			Name:        id,
			Description: "Additional layer " + id,
			Category:    models.CategoryOther,
			URL:         set.URLs[key],
		})
	}
	return layers
}

// partialFailure describes what went wrong in a layer set that still produced
// a result, or returns "" if nothing did.
func partialFailure(set *models.LayerSet) string {
	if set == nil {
		return ""
	}
	if len(set.Errors) == 0 {
		if set.Status == layerStatusPartial {
			return "layer generation completed with errors"
		}
		return ""
	}
	products := make([]string, 0, len(set.Errors))
	for product := range set.Errors {
		products = append(products, product)
	}
	sort.Strings(products)
	parts := make([]string, len(products))
	for i, p := range products {
		parts[i] = p + ": " + set.Errors[p]
	}
	return "layer generation completed with errors (" + strings.Join(parts, "; ") + ")"
}

// LayerStore is the environment layer list of the active region plus the
// client-side visible set. Visibility never triggers a fetch and is reset when
// the region changes.
type LayerStore struct {
	api   LayersAPI
	cache *Keyed[[]models.Layer]

	mu      sync.Mutex
	visible map[string]bool
}

func newLayerStore(ctx context.Context, api LayersAPI, onChange func(View[[]models.Layer])) *LayerStore {
	s := &LayerStore{api: api, visible: make(map[string]bool)}
	s.cache = NewKeyed(ctx, "layers", s.load, func(v View[[]models.Layer]) {
		if onChange != nil {
			onChange(s.decorate(v))
		}
	})
	return s
}

func (s *LayerStore) load(ctx context.Context, regionID string) ([]models.Layer, error) {
	set, err := s.api.GetLayers(ctx, regionID)
	if errors.Is(err, models.ErrNotFound) {
		// Nothing generated yet for this region.
		return []models.Layer{}, nil
	}
	if err != nil {
		return nil, err
	}
	return MapLayers(set), nil
}

func (s *LayerStore) setRegion(regionID string) {
	if s.cache.Key() != regionID {
		s.mu.Lock()
		s.visible = make(map[string]bool)
		s.mu.Unlock()
	}
	s.cache.SetKey(regionID)
}

// View returns the layers with their current visibility.
func (s *LayerStore) View() View[[]models.Layer] {
	return s.decorate(s.cache.View())
}

func (s *LayerStore) decorate(v View[[]models.Layer]) View[[]models.Layer] {
	s.mu.Lock()
	defer s.mu.Unlock()
	layers := make([]models.Layer, len(v.Data))
	for i, l := range v.Data {
		l.Visible = s.visible[l.ID]
		layers[i] = l
	}
	v.Data = layers
	return v
}

// ToggleLayer flips the visibility of a layer and returns the new state.
func (s *LayerStore) ToggleLayer(layerID string) (bool, error) {
	if strings.TrimSpace(layerID) == "" {
		return false, models.Validationf("layer id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible[layerID] {
		delete(s.visible, layerID)
		return false, nil
	}
	s.visible[layerID] = true
	return true, nil
}

// VisibleLayers returns the ids of the visible layers in sorted order.
func (s *LayerStore) VisibleLayers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.visible))
	for id := range s.visible {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *LayerStore) setVisible(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = make(map[string]bool, len(ids))
	for _, id := range ids {
		s.visible[id] = true
	}
}

func (s *LayerStore) Refresh() {
	s.cache.Refresh()
}

func (s *LayerStore) Wait() {
	s.cache.Wait()
}

// Generate runs the whole layer pipeline for a region. A partial result is
// still applied; callers inspect it with partialFailure.
func (s *LayerStore) Generate(ctx context.Context, regionID string) (*models.LayerSet, error) {
	if err := requireRegionID(regionID); err != nil {
		return nil, err
	}
	set, err := s.api.GenerateLayers(ctx, regionID)
	if err != nil {
		s.cache.Fail(regionID, err)
		return nil, fmt.Errorf("failed to generate layers for region %s: %w", regionID, err)
	}
	s.cache.Replace(regionID, MapLayers(set))
	return set, nil
}

// GenerateProduct generates a single product and merges its layers into the
// current list.
func (s *LayerStore) GenerateProduct(ctx context.Context, product, regionID string) (*models.LayerSet, error) {
	return s.product(ctx, "generate", product, regionID, s.api.GenerateLayerProduct)
}

// LoadProduct reads the already generated layers of one product and merges
// them into the current list.
func (s *LayerStore) LoadProduct(ctx context.Context, product, regionID string) (*models.LayerSet, error) {
	return s.product(ctx, "load", product, regionID, s.api.GetLayerProduct)
}

func (s *LayerStore) product(ctx context.Context, verb, product, regionID string, call func(context.Context, string, string) (*models.LayerSet, error)) (*models.LayerSet, error) {
	if !models.IsLayerProduct(product) {
		return nil, models.Validationf("unknown layer product %q", product)
	}
	if err := requireRegionID(regionID); err != nil {
		return nil, err
	}
	set, err := call(ctx, product, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s layers for region %s: %w", verb, product, regionID, err)
	}
	fresh := MapLayers(set)
	// A list fetch still in flight must not overwrite the product.
	s.cache.Merge(regionID, func(current []models.Layer) []models.Layer {
		return mergeLayers(current, fresh)
	})
	return set, nil
}

// mergeLayers replaces layers of current by id and appends new ones, keeping
// catalog order.
func mergeLayers(current, fresh []models.Layer) []models.Layer {
	urls := make(map[string]string, len(current)+len(fresh))
	for _, l := range current {
		urls[l.ID+"_url"] = l.URL
	}
	for _, l := range fresh {
		urls[l.ID+"_url"] = l.URL
	}
	return MapLayers(&models.LayerSet{URLs: urls})
}
