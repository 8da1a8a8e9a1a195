package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"invasion-viewer/geometry"
	"invasion-viewer/metrics"
	"invasion-viewer/models"

	"github.com/apex/log"
	geojson "github.com/paulmach/go.geojson"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollAttempts = 120
)

type SimulationView struct {
	RegionID string                   `json:"region_id,omitempty"`
	Running  bool                     `json:"running"`
	Polling  bool                     `json:"polling"`
	Record   *models.SimulationRecord `json:"record,omitempty"`
	Err      error                    `json:"-"`
	Error    string                   `json:"error,omitempty"`
}

// SimulationRunner submits one simulation at a time for the active region and
// polls its status until the backend reports it finished. Every start, reset
// and region change opens a new generation; results of older generations are
// dropped.
type SimulationRunner struct {
	api      SimulationAPI
	resolve  func(key string) (models.Species, bool)
	base     context.Context
	interval time.Duration
	maxPolls int
	onChange func(SimulationView)

	mu         sync.Mutex
	regionID   string
	gen        uint64
	inFlight   bool
	polling    bool
	record     *models.SimulationRecord
	err        error
	cancelPoll context.CancelFunc

	wg sync.WaitGroup
}

func newSimulationRunner(ctx context.Context, api SimulationAPI, resolve func(string) (models.Species, bool), interval time.Duration, maxPolls int, onChange func(SimulationView)) *SimulationRunner {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPollAttempts
	}
	return &SimulationRunner{
		api:      api,
		resolve:  resolve,
		base:     ctx,
		interval: interval,
		maxPolls: maxPolls,
		onChange: onChange,
	}
}

func (r *SimulationRunner) View() SimulationView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// IsRunning is true while a start request is in flight or the latest record
// has no completion marker.
func (r *SimulationRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

func (r *SimulationRunner) runningLocked() bool {
	return r.inFlight || (r.record != nil && !r.record.Finished())
}

func (r *SimulationRunner) setRegion(regionID string) {
	r.mu.Lock()
	if r.regionID == regionID {
		r.mu.Unlock()
		return
	}
	r.regionID = regionID
	view := r.resetLocked()
	r.mu.Unlock()
	r.emit(view)
}

// Reset clears the result, error and running flag. A request still in flight
// is not cancelled server-side; its answer is discarded when it arrives.
func (r *SimulationRunner) Reset() {
	r.mu.Lock()
	view := r.resetLocked()
	r.mu.Unlock()
	r.emit(view)
}

func (r *SimulationRunner) resetLocked() SimulationView {
	r.gen++
	r.stopPollLocked()
	r.inFlight = false
	r.record = nil
	r.err = nil
	return r.viewLocked()
}

// Start validates params, submits the simulation and, if the backend answers
// with an unfinished record, starts polling for it.
func (r *SimulationRunner) Start(ctx context.Context, params models.SimulationParams) (*models.SimulationRecord, error) {
	r.mu.Lock()
	regionID := r.regionID
	if regionID == "" {
		r.mu.Unlock()
		return nil, models.Validationf("no region committed")
	}
	if r.inFlight {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: a simulation request is already in flight", models.ErrConflict)
	}
	r.mu.Unlock()

	req, err := r.buildRequest(regionID, params)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.regionID != regionID || r.inFlight {
		r.mu.Unlock()
		return nil, models.ErrSuperseded
	}
	r.gen++
	gen := r.gen
	r.stopPollLocked()
	r.inFlight = true
	r.record = nil
	r.err = nil
	view := r.viewLocked()
	r.mu.Unlock()
	r.emit(view)

	rec, err := r.api.StartSimulation(ctx, req)

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		metrics.StaleResponsesDropped.WithLabelValues("simulation").Inc()
		log.Infof("Discarded simulation start result for region %s after reset", regionID)
		return nil, models.ErrSuperseded
	}
	r.inFlight = false
	if err != nil {
		r.err = err
		view = r.viewLocked()
		r.mu.Unlock()
		r.emit(view)
		return nil, fmt.Errorf("failed to start simulation for region %s: %w", regionID, err)
	}
	r.record = rec
	if !rec.Finished() {
		r.startPollLocked(gen, regionID)
	}
	view = r.viewLocked()
	r.mu.Unlock()
	r.emit(view)
	return rec, nil
}

// CheckStatus asks the backend for the current record once.
func (r *SimulationRunner) CheckStatus(ctx context.Context) (*models.SimulationRecord, error) {
	r.mu.Lock()
	regionID, gen := r.regionID, r.gen
	r.mu.Unlock()
	if regionID == "" {
		return nil, models.Validationf("no region committed")
	}

	rec, err := r.api.SimulationStatus(ctx, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get simulation status for region %s: %w", regionID, err)
	}
	if !r.apply(gen, rec) {
		return nil, models.ErrSuperseded
	}
	return rec, nil
}

// StepFeatures renders the cell samples of one step as GeoJSON.
func (r *SimulationRunner) StepFeatures(index int) (*geojson.FeatureCollection, error) {
	r.mu.Lock()
	rec := r.record
	r.mu.Unlock()
	if rec == nil {
		return nil, fmt.Errorf("%w: no simulation result", models.ErrNotFound)
	}
	for _, step := range rec.Steps {
		if step.Index == index {
			return geometry.CellsToFeatureCollection(step), nil
		}
	}
	return nil, fmt.Errorf("%w: simulation step %d", models.ErrNotFound, index)
}

func (r *SimulationRunner) Wait() {
	r.wg.Wait()
}

func (r *SimulationRunner) buildRequest(regionID string, p models.SimulationParams) (models.SimulationRequest, error) {
	var name string
	switch {
	case p.CustomSpecies != nil && strings.TrimSpace(p.CustomSpecies.CommonName) != "":
		name = strings.TrimSpace(p.CustomSpecies.CommonName)
	case p.SpeciesKey != "":
		sp, ok := r.resolve(p.SpeciesKey)
		if !ok {
			return models.SimulationRequest{}, fmt.Errorf("%w: %q", models.ErrSpeciesNotFound, p.SpeciesKey)
		}
		name = sp.DisplayName()
	default:
		return models.SimulationRequest{}, models.Validationf("no species selected")
	}

	switch {
	case p.Timesteps <= 0:
		return models.SimulationRequest{}, models.Validationf("timesteps must be positive")
	case !finite(p.InitialPopulation) || p.InitialPopulation <= 0:
		return models.SimulationRequest{}, models.Validationf("initial population must be positive")
	case !finite(p.GrowthRate):
		return models.SimulationRequest{}, models.Validationf("growth rate must be a number")
	case !finite(p.Dispersal.Sigma) || p.Dispersal.Sigma < 0:
		return models.SimulationRequest{}, models.Validationf("dispersal sigma must not be negative")
	case p.Dispersal.JumpProbability < 0 || p.Dispersal.JumpProbability > 1:
		return models.SimulationRequest{}, models.Validationf("jump probability must be within [0, 1]")
	case p.Dispersal.MaxDistanceKm < 0 || p.TimestepYears < 0:
		return models.SimulationRequest{}, models.Validationf("distances and durations must not be negative")
	}
	for variable, tol := range p.ClimateTolerances {
		if tol.Min > tol.Max {
			return models.SimulationRequest{}, models.Validationf("climate tolerance %s has min above max", variable)
		}
	}

	return models.SimulationRequest{
		RegionID:           regionID,
		SpeciesName:        name,
		InitialPopulation:  p.InitialPopulation,
		GrowthRate:         p.GrowthRate,
		DispersalKernel:    p.Dispersal.Sigma,
		Timesteps:          p.Timesteps,
		TimestepYears:      p.TimestepYears,
		JumpProbability:    p.Dispersal.JumpProbability,
		MaxDispersalKm:     p.Dispersal.MaxDistanceKm,
		HabitatPreferences: p.HabitatPreferences,
		ClimatePreferences: p.ClimatePreferences,
		ClimateTolerances:  p.ClimateTolerances,
		Mobility:           p.Mobility,
	}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (r *SimulationRunner) startPollLocked(gen uint64, regionID string) {
	ctx, cancel := context.WithCancel(r.base)
	r.cancelPoll = cancel
	r.polling = true
	r.wg.Add(1)
	go r.poll(ctx, cancel, gen, regionID)
}

func (r *SimulationRunner) stopPollLocked() {
	if r.cancelPoll != nil {
		r.cancelPoll()
		r.cancelPoll = nil
	}
	r.polling = false
}

func (r *SimulationRunner) poll(ctx context.Context, cancel context.CancelFunc, gen uint64, regionID string) {
	defer r.wg.Done()
	defer cancel()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= r.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rec, err := r.api.SimulationStatus(ctx, regionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.SimulationPolls.WithLabelValues("error").Inc()
			log.Warnf("Simulation poll %d for region %s failed: %v", attempt, regionID, err)
			continue
		}
		metrics.SimulationPolls.WithLabelValues(rec.Status).Inc()
		if !r.apply(gen, rec) || rec.Finished() {
			return
		}
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.polling = false
	r.cancelPoll = nil
	r.err = fmt.Errorf("%w: simulation for region %s still running after %d polls", models.ErrTimeout, regionID, r.maxPolls)
	view := r.viewLocked()
	r.mu.Unlock()
	log.Warnf("Gave up polling simulation for region %s", regionID)
	r.emit(view)
}

// apply stores rec if gen is still current.
func (r *SimulationRunner) apply(gen uint64, rec *models.SimulationRecord) bool {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		metrics.StaleResponsesDropped.WithLabelValues("simulation").Inc()
		return false
	}
	r.record = rec
	r.err = nil
	if rec.Finished() {
		r.stopPollLocked()
	}
	if rec.Failed() {
		msg := rec.Error
		if msg == "" {
			msg = "simulation failed"
		}
		r.err = errors.New(msg)
	}
	view := r.viewLocked()
	r.mu.Unlock()
	r.emit(view)
	return true
}

func (r *SimulationRunner) viewLocked() SimulationView {
	v := SimulationView{
		RegionID: r.regionID,
		Running:  r.runningLocked(),
		Polling:  r.polling,
		Record:   r.record,
		Err:      r.err,
	}
	if r.err != nil {
		v.Error = r.err.Error()
	}
	return v
}

func (r *SimulationRunner) emit(view SimulationView) {
	if r.onChange != nil {
		r.onChange(view)
	}
}
