package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"invasion-viewer/geometry"
	"invasion-viewer/metrics"
	"invasion-viewer/models"

	"github.com/apex/log"
)

type State string

const (
	StateIdle      State = "idle"
	StateDrafting  State = "drafting"
	StateCreating  State = "creating"
	StateCommitted State = "committed"
)

// Coordinator owns the draft and the active region id. CreateRegion,
// SelectRegion and Clear are the only writers of the id; each of them opens a
// new epoch, and a create or select whose epoch was overtaken while its
// request was in flight does not commit.
type Coordinator struct {
	regions RegionAPI

	// onCommit re-keys the derived caches. Called outside the lock.
	onCommit func(regionID string)
	// afterCreate is the best-effort step run after a successful create.
	afterCreate func(regionID string)
	emit        func(t models.EventType, regionID string, data interface{})

	// commitMu orders commits so the caches are re-keyed in commit order.
	commitMu sync.Mutex

	mu       sync.Mutex
	draft    *geometry.Draft
	creating bool
	regionID string
	region   *models.Region
	epoch    uint64

	// createEpoch is the epoch of the create that set creating.
	createEpoch uint64
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	switch {
	case c.creating:
		return StateCreating
	case c.draft != nil:
		return StateDrafting
	case c.regionID != "":
		return StateCommitted
	default:
		return StateIdle
	}
}

// RegionID returns the committed region id, or "" if none.
func (c *Coordinator) RegionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regionID
}

func (c *Coordinator) Region() *models.Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region
}

func (c *Coordinator) Draft() *geometry.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// CanCreateRegion is true when a draft exists and no create is in flight.
func (c *Coordinator) CanCreateRegion() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft != nil && !c.creating
}

// DrawComplete stores a finished drawing as the draft. The committed region id
// is left alone.
func (c *Coordinator) DrawComplete(shape geometry.DrawnShape) (*geometry.Draft, error) {
	draft, err := geometry.Capture(shape)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.creating {
		c.mu.Unlock()
		return nil, models.Validationf("a region is being created")
	}
	c.draft = draft
	regionID := c.regionID
	c.mu.Unlock()

	c.emit(models.EventDraftUpdated, regionID, draft)
	return draft, nil
}

// ClearDraft drops the drawing only.
func (c *Coordinator) ClearDraft() {
	c.mu.Lock()
	had := c.draft != nil
	c.draft = nil
	regionID := c.regionID
	c.mu.Unlock()

	if had {
		c.emit(models.EventDraftCleared, regionID, nil)
	}
}

// CreateRegion persists the draft. Preconditions are checked before any
// network call. On failure the draft is kept for a retry.
func (c *Coordinator) CreateRegion(ctx context.Context, name string, species []models.Species) (*models.Region, error) {
	name = strings.TrimSpace(name)

	c.mu.Lock()
	switch {
	case c.creating:
		c.mu.Unlock()
		return nil, models.Validationf("a region is already being created")
	case c.draft == nil:
		c.mu.Unlock()
		return nil, models.Validationf("no region drafted")
	case name == "":
		c.mu.Unlock()
		return nil, models.Validationf("region name is required")
	}
	if err := checkUniqueKeys(species); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.creating = true
	c.epoch++
	epoch := c.epoch
	c.createEpoch = epoch
	req := models.RegionCreateRequest{
		Name:        name,
		Points:      geometry.PolygonToPoints(c.draft.Polygon),
		SpeciesList: cloneSpecies(species),
	}
	c.mu.Unlock()

	c.emit(models.EventRegionCreating, "", req)

	region, err := c.regions.CreateRegion(ctx, req)

	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	c.mu.Lock()
	// Clear may have released creating and a newer create taken it.
	if c.createEpoch == epoch {
		c.creating = false
	}
	if err != nil {
		c.mu.Unlock()
		metrics.RegionsCreated.WithLabelValues("failed").Inc()
		log.Errorf("Failed to create region %q: %v", name, err)
		c.emit(models.EventRegionCreateFailed, "", err.Error())
		return nil, fmt.Errorf("failed to create region: %w", err)
	}
	if epoch != c.epoch {
		c.mu.Unlock()
		metrics.RegionsCreated.WithLabelValues("superseded").Inc()
		log.Warnf("Region %s was created but a newer selection replaced it", region.ID)
		return region, fmt.Errorf("%w: region %s was created but not committed", models.ErrSuperseded, region.ID)
	}
	c.regionID = region.ID
	c.region = region
	c.draft = nil
	c.mu.Unlock()

	metrics.RegionsCreated.WithLabelValues("ok").Inc()
	log.Infof("Created region %s (%s)", region.ID, region.Name)

	c.onCommit(region.ID)
	c.emit(models.EventRegionCommitted, region.ID, region)
	if c.afterCreate != nil {
		c.afterCreate(region.ID)
	}
	return region, nil
}

// SelectRegion makes an existing region the active one.
func (c *Coordinator) SelectRegion(ctx context.Context, regionID string) (*models.Region, error) {
	if err := requireRegionID(regionID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	region, err := c.regions.GetRegion(ctx, regionID)

	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		metrics.StaleResponsesDropped.WithLabelValues("region").Inc()
		return nil, fmt.Errorf("%w: selection of region %s", models.ErrSuperseded, regionID)
	}
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to select region %s: %w", regionID, err)
	}
	if region.ID == "" {
		region.ID = regionID
	}
	c.regionID = regionID
	c.region = region
	c.draft = nil
	c.mu.Unlock()

	c.onCommit(regionID)
	c.emit(models.EventRegionCommitted, regionID, region)
	return region, nil
}

// Clear returns to Idle from any state. A create still in flight is
// abandoned: its result will not be committed.
func (c *Coordinator) Clear() {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	c.mu.Lock()
	c.epoch++
	regionID := c.regionID
	c.creating = false
	c.draft = nil
	c.regionID = ""
	c.region = nil
	c.mu.Unlock()

	c.onCommit("")
	c.emit(models.EventRegionCleared, regionID, nil)
}

func (c *Coordinator) ListRegions(ctx context.Context) ([]models.Region, error) {
	regions, err := c.regions.ListRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	return regions, nil
}
