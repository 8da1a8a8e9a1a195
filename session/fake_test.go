package session

import (
	"context"
	"fmt"
	"sync"

	"invasion-viewer/models"
)

// fakeBackend is an in-memory Backend. gates hold back the next call of an
// operation for a region until the channel is closed.
type fakeBackend struct {
	mu sync.Mutex

	regions map[string]*models.Region
	nextID  int
	calls   map[string]int
	started chan string

	gates map[string]chan struct{}

	createErr    error
	updateErr    error
	layersErr    error
	layerSet     *models.LayerSet
	generatedFor []string

	startRecord    *models.SimulationRecord
	startErr       error
	statusRecords  []*models.SimulationRecord
	simulationReqs []models.SimulationRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		regions: make(map[string]*models.Region),
		calls:   make(map[string]int),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

func (f *fakeBackend) addRegion(id, name string, species ...models.Species) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if species == nil {
		species = []models.Species{}
	}
	f.regions[id] = &models.Region{ID: id, Name: name, SpeciesList: species}
}

func (f *fakeBackend) gate(op, regionID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[op+":"+regionID] = ch
	return ch
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// enter records a call and blocks on its gate, if any.
func (f *fakeBackend) enter(ctx context.Context, op, regionID string) error {
	f.mu.Lock()
	f.calls[op]++
	gate, ok := f.gates[op+":"+regionID]
	if ok {
		delete(f.gates, op+":"+regionID)
	}
	f.mu.Unlock()

	select {
	case f.started <- op + ":" + regionID:
	default:
	}
	if ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func copyRegion(r *models.Region) *models.Region {
	c := *r
	c.SpeciesList = append([]models.Species{}, r.SpeciesList...)
	return &c
}

func (f *fakeBackend) CreateRegion(ctx context.Context, req models.RegionCreateRequest) (*models.Region, error) {
	if err := f.enter(ctx, "create_region", req.Name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	r := &models.Region{
		ID:          fmt.Sprintf("r%d", f.nextID),
		Name:        req.Name,
		Points:      req.Points,
		SpeciesList: append([]models.Species{}, req.SpeciesList...),
	}
	f.regions[r.ID] = r
	return copyRegion(r), nil
}

func (f *fakeBackend) GetRegion(ctx context.Context, regionID string) (*models.Region, error) {
	if err := f.enter(ctx, "get_region", regionID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regions[regionID]
	if !ok {
		return nil, fmt.Errorf("%w: region %s", models.ErrNotFound, regionID)
	}
	return copyRegion(r), nil
}

func (f *fakeBackend) UpdateRegion(ctx context.Context, regionID string, req models.RegionUpdateRequest) (*models.Region, error) {
	if err := f.enter(ctx, "update_region", regionID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	r, ok := f.regions[regionID]
	if !ok {
		return nil, fmt.Errorf("%w: region %s", models.ErrNotFound, regionID)
	}
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Points != nil {
		r.Points = req.Points
	}
	if req.SpeciesList != nil {
		r.SpeciesList = append([]models.Species{}, (*req.SpeciesList)...)
	}
	return copyRegion(r), nil
}

func (f *fakeBackend) ListRegions(ctx context.Context) ([]models.Region, error) {
	if err := f.enter(ctx, "list_regions", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Region{}
	for _, r := range f.regions {
		out = append(out, *copyRegion(r))
	}
	return out, nil
}

func (f *fakeBackend) GenerateSpecies(ctx context.Context, regionID string) (*models.SpeciesGeneration, error) {
	if err := f.enter(ctx, "generate_species", regionID); err != nil {
		return nil, err
	}
	return &models.SpeciesGeneration{RegionID: regionID, Status: "completed", SpeciesList: []models.Species{
		{ScientificName: "Sus scrofa", CommonName: "Wild boar"},
	}}, nil
}

func (f *fakeBackend) SpeciesStatus(ctx context.Context, regionID string) (*models.SpeciesGeneration, error) {
	if err := f.enter(ctx, "species_status", regionID); err != nil {
		return nil, err
	}
	return &models.SpeciesGeneration{RegionID: regionID, Status: "running"}, nil
}

func (f *fakeBackend) CancelSpecies(ctx context.Context, regionID string) (bool, error) {
	if err := f.enter(ctx, "cancel_species", regionID); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeBackend) GenerateLayers(ctx context.Context, regionID string) (*models.LayerSet, error) {
	if err := f.enter(ctx, "generate_layers", regionID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generatedFor = append(f.generatedFor, regionID)
	if f.layersErr != nil {
		return nil, f.layersErr
	}
	if f.layerSet != nil {
		return f.layerSet, nil
	}
	return &models.LayerSet{URLs: map[string]string{"srtm_url": "https://tiles/" + regionID + "/srtm.tif"}}, nil
}

func (f *fakeBackend) GetLayers(ctx context.Context, regionID string) (*models.LayerSet, error) {
	if err := f.enter(ctx, "get_layers", regionID); err != nil {
		return nil, err
	}
	return &models.LayerSet{URLs: map[string]string{
		"srtm_url":           "https://tiles/" + regionID + "/srtm.tif",
		"worldclim_bio1_url": "https://tiles/" + regionID + "/bio1.tif",
	}}, nil
}

func (f *fakeBackend) GenerateLayerProduct(ctx context.Context, product, regionID string) (*models.LayerSet, error) {
	if err := f.enter(ctx, "generate_layer_product", regionID); err != nil {
		return nil, err
	}
	return &models.LayerSet{URLs: map[string]string{product + "_url": "https://tiles/" + regionID + "/" + product + ".tif"}}, nil
}

func (f *fakeBackend) GetLayerProduct(ctx context.Context, product, regionID string) (*models.LayerSet, error) {
	if err := f.enter(ctx, "get_layer_product", regionID); err != nil {
		return nil, err
	}
	if product != models.ProductWorldClim {
		return &models.LayerSet{URLs: map[string]string{}}, nil
	}
	return &models.LayerSet{URLs: map[string]string{
		"worldclim_bio1_url":  "https://tiles/" + regionID + "/bio1.tif",
		"worldclim_bio12_url": "https://tiles/" + regionID + "/bio12.tif",
	}}, nil
}

func (f *fakeBackend) StartSimulation(ctx context.Context, req models.SimulationRequest) (*models.SimulationRecord, error) {
	if err := f.enter(ctx, "start_simulation", req.RegionID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulationReqs = append(f.simulationReqs, req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.startRecord != nil {
		return f.startRecord, nil
	}
	return &models.SimulationRecord{RegionID: req.RegionID, Status: models.SimulationCompleted}, nil
}

func (f *fakeBackend) SimulationStatus(ctx context.Context, regionID string) (*models.SimulationRecord, error) {
	if err := f.enter(ctx, "simulation_status", regionID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statusRecords) == 0 {
		return nil, fmt.Errorf("%w: no simulation", models.ErrNotFound)
	}
	rec := f.statusRecords[0]
	if len(f.statusRecords) > 1 {
		f.statusRecords = f.statusRecords[1:]
	}
	return rec, nil
}

// recorder collects session events.
type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Notify(e models.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
