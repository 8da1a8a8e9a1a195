package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"invasion-viewer/models"
)

type speciesBackend interface {
	RegionAPI
	SpeciesAPI
}

// SpeciesStore is the species list of the active region. The backend has no
// partial-list endpoint, so every mutation rewrites the whole list through the
// region update call and the local cache only follows the acknowledged list.
type SpeciesStore struct {
	api   speciesBackend
	cache *Keyed[[]models.Species]

	// writes serializes read-modify-write cycles.
	writes sync.Mutex
}

func newSpeciesStore(ctx context.Context, api speciesBackend, onChange func(View[[]models.Species])) *SpeciesStore {
	s := &SpeciesStore{api: api}
	s.cache = NewKeyed(ctx, "species", s.load, onChange)
	return s
}

func (s *SpeciesStore) View() View[[]models.Species] {
	return s.cache.View()
}

// Lookup finds a species of the active region by key.
func (s *SpeciesStore) Lookup(key string) (models.Species, bool) {
	for _, sp := range s.cache.View().Data {
		if sp.Key() == key {
			return sp, true
		}
	}
	return models.Species{}, false
}

func (s *SpeciesStore) setRegion(regionID string) {
	s.cache.SetKey(regionID)
}

func (s *SpeciesStore) Refresh() {
	s.cache.Refresh()
}

func (s *SpeciesStore) Wait() {
	s.cache.Wait()
}

func (s *SpeciesStore) load(ctx context.Context, regionID string) ([]models.Species, error) {
	region, err := s.api.GetRegion(ctx, regionID)
	if err != nil {
		return nil, err
	}
	return cloneSpecies(region.SpeciesList), nil
}

// FetchSpeciesFromRegion reads the full species list of a region and, when it
// is the active one, replaces the local list with it.
func (s *SpeciesStore) FetchSpeciesFromRegion(ctx context.Context, regionID string) ([]models.Species, error) {
	if err := requireRegionID(regionID); err != nil {
		return nil, err
	}
	list, err := s.load(ctx, regionID)
	if err != nil {
		s.cache.Fail(regionID, err)
		return nil, fmt.Errorf("failed to fetch species of region %s: %w", regionID, err)
	}
	s.cache.Replace(regionID, list)
	return list, nil
}

// ReplaceAllSpecies persists list as the region's species list.
func (s *SpeciesStore) ReplaceAllSpecies(ctx context.Context, regionID string, list []models.Species) ([]models.Species, error) {
	if err := requireRegionID(regionID); err != nil {
		return nil, err
	}
	s.writes.Lock()
	defer s.writes.Unlock()
	return s.persist(ctx, regionID, cloneSpecies(list))
}

// AddSpecies appends species to the region. It fails with
// models.ErrDuplicateSpecies if any of them is already there.
func (s *SpeciesStore) AddSpecies(ctx context.Context, regionID string, species ...models.Species) ([]models.Species, error) {
	return s.modify(ctx, regionID, func(current []models.Species) ([]models.Species, error) {
		index := indexSpecies(current)
		for _, sp := range species {
			key := sp.Key()
			if key == "" {
				return nil, models.Validationf("species needs an id or a scientific name")
			}
			if _, ok := index[key]; ok {
				return nil, fmt.Errorf("%w: %q", models.ErrDuplicateSpecies, key)
			}
			index[key] = len(current)
			current = append(current, sp)
		}
		return current, nil
	})
}

// UpdateSpecies replaces existing entries matched by key. It fails with
// models.ErrSpeciesNotFound if any of them is missing.
func (s *SpeciesStore) UpdateSpecies(ctx context.Context, regionID string, species ...models.Species) ([]models.Species, error) {
	return s.modify(ctx, regionID, func(current []models.Species) ([]models.Species, error) {
		index := indexSpecies(current)
		for _, sp := range species {
			i, ok := index[sp.Key()]
			if !ok {
				return nil, fmt.Errorf("%w: %q", models.ErrSpeciesNotFound, sp.Key())
			}
			current[i] = sp
		}
		return current, nil
	})
}

func (s *SpeciesStore) RemoveSpecies(ctx context.Context, regionID string, keys ...string) ([]models.Species, error) {
	return s.modify(ctx, regionID, func(current []models.Species) ([]models.Species, error) {
		index := indexSpecies(current)
		remove := make(map[string]bool, len(keys))
		for _, key := range keys {
			if _, ok := index[key]; !ok {
				return nil, fmt.Errorf("%w: %q", models.ErrSpeciesNotFound, key)
			}
			remove[key] = true
		}
		kept := make([]models.Species, 0, len(current))
		for _, sp := range current {
			if !remove[sp.Key()] {
				kept = append(kept, sp)
			}
		}
		return kept, nil
	})
}

// Generate asks the backend to infer the invasive species of a region.
func (s *SpeciesStore) Generate(ctx context.Context, regionID string) (*models.SpeciesGeneration, error) {
	if err := requireRegionID(regionID); err != nil {
		return nil, err
	}
	gen, err := s.api.GenerateSpecies(ctx, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate species for region %s: %w", regionID, err)
	}
	if gen.SpeciesList != nil {
		s.cache.Replace(regionID, cloneSpecies(gen.SpeciesList))
	} else {
		s.cache.Refresh()
	}
	return gen, nil
}

func (s *SpeciesStore) Status(ctx context.Context, regionID string) (*models.SpeciesGeneration, error) {
	if err := requireRegionID(regionID); err != nil {
		return nil, err
	}
	return s.api.SpeciesStatus(ctx, regionID)
}

func (s *SpeciesStore) Cancel(ctx context.Context, regionID string) (bool, error) {
	if err := requireRegionID(regionID); err != nil {
		return false, err
	}
	return s.api.CancelSpecies(ctx, regionID)
}

func (s *SpeciesStore) modify(ctx context.Context, regionID string, fn func([]models.Species) ([]models.Species, error)) ([]models.Species, error) {
	if err := requireRegionID(regionID); err != nil {
		return nil, err
	}
	s.writes.Lock()
	defer s.writes.Unlock()

	current, err := s.load(ctx, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read species of region %s: %w", regionID, err)
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, regionID, next)
}

func (s *SpeciesStore) persist(ctx context.Context, regionID string, list []models.Species) ([]models.Species, error) {
	if err := checkUniqueKeys(list); err != nil {
		return nil, err
	}
	region, err := s.api.UpdateRegion(ctx, regionID, models.RegionUpdateRequest{SpeciesList: &list})
	if err != nil {
		return nil, fmt.Errorf("failed to update species of region %s: %w", regionID, err)
	}
	acked := cloneSpecies(region.SpeciesList)
	s.cache.Replace(regionID, acked)
	return acked, nil
}

func requireRegionID(regionID string) error {
	if strings.TrimSpace(regionID) == "" {
		return models.Validationf("no region selected")
	}
	return nil
}

func checkUniqueKeys(list []models.Species) error {
	seen := make(map[string]bool, len(list))
	for _, sp := range list {
		key := sp.Key()
		if key == "" {
			return models.Validationf("species needs an id or a scientific name")
		}
		if seen[key] {
			return fmt.Errorf("%w: %q", models.ErrDuplicateSpecies, key)
		}
		seen[key] = true
	}
	return nil
}

func indexSpecies(list []models.Species) map[string]int {
	index := make(map[string]int, len(list))
	for i, sp := range list {
		index[sp.Key()] = i
	}
	return index
}

// cloneSpecies copies list so cached data is never shared with callers. A nil
// list becomes an empty one.
func cloneSpecies(list []models.Species) []models.Species {
	out := make([]models.Species, len(list))
	copy(out, list)
	return out
}
