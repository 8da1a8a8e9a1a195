// Package session holds the per-map state of the viewer: the region
// coordinator, the caches derived from the active region and the simulation
// runner. All of it is keyed by the active region id, which only the
// coordinator may change.
package session

import (
	"context"

	"invasion-viewer/models"
)

type RegionAPI interface {
	CreateRegion(ctx context.Context, req models.RegionCreateRequest) (*models.Region, error)
	GetRegion(ctx context.Context, regionID string) (*models.Region, error)
	UpdateRegion(ctx context.Context, regionID string, req models.RegionUpdateRequest) (*models.Region, error)
	ListRegions(ctx context.Context) ([]models.Region, error)
}

type SpeciesAPI interface {
	GenerateSpecies(ctx context.Context, regionID string) (*models.SpeciesGeneration, error)
	SpeciesStatus(ctx context.Context, regionID string) (*models.SpeciesGeneration, error)
	CancelSpecies(ctx context.Context, regionID string) (bool, error)
}

type LayersAPI interface {
	GenerateLayers(ctx context.Context, regionID string) (*models.LayerSet, error)
	GetLayers(ctx context.Context, regionID string) (*models.LayerSet, error)
	GenerateLayerProduct(ctx context.Context, product, regionID string) (*models.LayerSet, error)
	GetLayerProduct(ctx context.Context, product, regionID string) (*models.LayerSet, error)
}

type SimulationAPI interface {
	StartSimulation(ctx context.Context, req models.SimulationRequest) (*models.SimulationRecord, error)
	SimulationStatus(ctx context.Context, regionID string) (*models.SimulationRecord, error)
}

// Backend is everything a session needs from the invasion backend.
// *backend.Client implements it.
type Backend interface {
	RegionAPI
	SpeciesAPI
	LayersAPI
	SimulationAPI
}

// Notifier receives every state change of a session.
type Notifier interface {
	Notify(event models.Event)
}

type NotifierFunc func(event models.Event)

func (f NotifierFunc) Notify(event models.Event) {
	f(event)
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(event models.Event) {
	for _, n := range m {
		n.Notify(event)
	}
}

// Notifiers fans an event out to each non-nil notifier in order.
func Notifiers(notifiers ...Notifier) Notifier {
	var m multiNotifier
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}
