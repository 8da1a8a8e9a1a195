package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"invasion-viewer/geometry"
	"invasion-viewer/metrics"
	"invasion-viewer/models"

	"github.com/apex/log"
)

const maxWarnings = 50

type Options struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	Notifier        Notifier
}

// Session is one open map: a coordinator and the stores keyed by its active
// region. It is safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	coord      *Coordinator
	species    *SpeciesStore
	layers     *LayerStore
	simulation *SimulationRunner
	notifier   Notifier

	mu         sync.Mutex
	warnings   []models.Warning
	lastAccess time.Time
	closed     bool

	saga sync.WaitGroup
}

// Snapshot is the full read-only state of a session.
type Snapshot struct {
	ID              string                 `json:"id"`
	State           State                  `json:"state"`
	CanCreateRegion bool                   `json:"can_create_region"`
	Draft           *geometry.Draft        `json:"draft,omitempty"`
	Region          *models.Region         `json:"region,omitempty"`
	Species         View[[]models.Species] `json:"species"`
	Layers          View[[]models.Layer]   `json:"layers"`
	Simulation      SimulationView         `json:"simulation"`
	Warnings        []models.Warning       `json:"warnings"`
	CreatedAt       time.Time              `json:"created_at"`
	LastAccess      time.Time              `json:"last_access"`
}

func New(id string, api Backend, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		notifier:   opts.Notifier,
		warnings:   []models.Warning{},
		lastAccess: now,
	}

	s.species = newSpeciesStore(ctx, api, func(v View[[]models.Species]) {
		s.notify(models.EventSpeciesUpdated, v.Key, v)
	})
	s.layers = newLayerStore(ctx, api, func(v View[[]models.Layer]) {
		s.notify(models.EventLayersUpdated, v.Key, v)
	})
	s.simulation = newSimulationRunner(ctx, api, s.species.Lookup, opts.PollInterval, opts.MaxPollAttempts, func(v SimulationView) {
		s.notify(models.EventSimulationUpdated, v.RegionID, v)
		if v.Record.Completed() {
			s.notify(models.EventSimulationDone, v.RegionID, v.Record)
		}
	})
	s.coord = &Coordinator{
		regions:     api,
		onCommit:    s.rekey,
		afterCreate: s.generateLayersAfterCreate,
		emit:        s.notify,
	}
	return s
}

func (s *Session) Coordinator() *Coordinator { return s.coord }

func (s *Session) Species() *SpeciesStore { return s.species }

func (s *Session) Layers() *LayerStore { return s.layers }

func (s *Session) Simulation() *SimulationRunner { return s.simulation }

// rekey points every derived store at regionID.
func (s *Session) rekey(regionID string) {
	s.species.setRegion(regionID)
	s.layers.setRegion(regionID)
	s.simulation.setRegion(regionID)
}

// generateLayersAfterCreate requests the environment layers of a freshly
// created region. Its failures are reported as warnings and never undo the
// region commit.
func (s *Session) generateLayersAfterCreate(regionID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Debugf("Session %s closed, skipping layer generation for region %s", s.ID, regionID)
		return
	}
	s.saga.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.saga.Done()
		set, err := s.layers.Generate(s.ctx, regionID)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.warn("generate_layers", regionID, err.Error())
			return
		}
		if msg := partialFailure(set); msg != "" {
			s.warn("generate_layers", regionID, msg)
		}
	}()
}

func (s *Session) warn(op, regionID, message string) {
	w := models.Warning{Op: op, RegionID: regionID, Message: message, At: time.Now().UTC()}
	s.mu.Lock()
	s.warnings = append(s.warnings, w)
	if len(s.warnings) > maxWarnings {
		s.warnings = s.warnings[len(s.warnings)-maxWarnings:]
	}
	s.mu.Unlock()

	metrics.LayerGenerationWarnings.Inc()
	log.Warnf("Session %s: %s for region %s: %s", s.ID, op, regionID, message)
	s.notify(models.EventLayersWarning, regionID, w)
}

// Warnings returns the non-fatal failures recorded so far.
func (s *Session) Warnings() []models.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Warning, len(s.warnings))
	copy(out, s.warnings)
	return out
}

func (s *Session) notify(t models.EventType, regionID string, data interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(models.Event{
		Type:      t,
		SessionID: s.ID,
		RegionID:  regionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Session) DrawComplete(shape geometry.DrawnShape) (*geometry.Draft, error) {
	return s.coord.DrawComplete(shape)
}

func (s *Session) CreateRegion(ctx context.Context, name string, species []models.Species) (*models.Region, error) {
	return s.coord.CreateRegion(ctx, name, species)
}

func (s *Session) SelectRegion(ctx context.Context, regionID string) (*models.Region, error) {
	return s.coord.SelectRegion(ctx, regionID)
}

func (s *Session) Clear() {
	s.coord.Clear()
}

// ToggleLayer flips a layer's visibility and broadcasts the new layer view.
func (s *Session) ToggleLayer(layerID string) (bool, error) {
	visible, err := s.layers.ToggleLayer(layerID)
	if err != nil {
		return false, err
	}
	v := s.layers.View()
	s.notify(models.EventLayersUpdated, v.Key, v)
	return visible, nil
}

// Restore brings a session back to a saved region and layer visibility.
func (s *Session) Restore(ctx context.Context, regionID string, visibleLayers []string) error {
	if regionID == "" {
		return nil
	}
	if _, err := s.coord.SelectRegion(ctx, regionID); err != nil {
		return fmt.Errorf("failed to restore session %s: %w", s.ID, err)
	}
	s.layers.setVisible(visibleLayers)
	return nil
}

func (s *Session) Snapshot() Snapshot {
	c := s.coord
	c.mu.Lock()
	state := c.stateLocked()
	canCreate := c.draft != nil && !c.creating
	draft, region := c.draft, c.region
	c.mu.Unlock()

	s.mu.Lock()
	lastAccess := s.lastAccess
	s.mu.Unlock()

	return Snapshot{
		ID:              s.ID,
		State:           state,
		CanCreateRegion: canCreate,
		Draft:           draft,
		Region:          region,
		Species:         s.species.View(),
		Layers:          s.layers.View(),
		Simulation:      s.simulation.View(),
		Warnings:        s.Warnings(),
		CreatedAt:       s.CreatedAt,
		LastAccess:      lastAccess,
	}
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Wait blocks until every background fetch, poll and layer generation
// started so far has finished.
func (s *Session) Wait() {
	s.saga.Wait()
	s.species.Wait()
	s.layers.Wait()
	s.simulation.Wait()
}

// Close stops all background work of the session.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.Wait()
	s.notify(models.EventSessionClosed, s.coord.RegionID(), nil)
}
