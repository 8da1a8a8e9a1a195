package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Point is a single vertex of a region as the backend stores it.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type BoundingBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

type Region struct {
	ID                 string     `json:"id,omitempty"`
	Name               string     `json:"name"`
	Points             []Point    `json:"points"`
	SpeciesList        []Species  `json:"species_list"`
	SpeciesGeneratedAt *time.Time `json:"species_generated_at,omitempty"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

type RegionCreateRequest struct {
	Name        string    `json:"name"`
	Points      []Point   `json:"points"`
	SpeciesList []Species `json:"species_list"`
}

// RegionUpdateRequest is a partial update; nil fields are left untouched.
type RegionUpdateRequest struct {
	Name        *string    `json:"name,omitempty"`
	Points      []Point    `json:"points,omitempty"`
	SpeciesList *[]Species `json:"species_list,omitempty"`
}

type RegionListResponse struct {
	Regions []Region `json:"regions"`
}

type ImpactLevel string

const (
	ImpactUnknown ImpactLevel = ""
	ImpactLow     ImpactLevel = "low"
	ImpactMedium  ImpactLevel = "medium"
	ImpactHigh    ImpactLevel = "high"
	ImpactSevere  ImpactLevel = "severe"
)

var impactRank = map[ImpactLevel]int{
	ImpactLow:    1,
	ImpactMedium: 2,
	ImpactHigh:   3,
	ImpactSevere: 4,
}

// Rank orders impact levels; unknown levels rank 0.
func (l ImpactLevel) Rank() int {
	return impactRank[l]
}

func ParseImpactLevel(s string) ImpactLevel {
	l := ImpactLevel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := impactRank[l]; ok {
		return l
	}
	return ImpactUnknown
}

// Tags is a set of strings that also accepts a single JSON string, which is how
// older backend documents store the primary habitat.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*t = Tags{}
		return nil
	}
	*t = Tags{single}
	return nil
}

type Species struct {
	ID                string      `json:"id,omitempty"`
	CommonName        string      `json:"commonName,omitempty"`
	ScientificName    string      `json:"scientificName"`
	Status            string      `json:"status"`
	Impact            ImpactLevel `json:"impactLevel,omitempty"`
	ImpactSummary     string      `json:"impactSummary,omitempty"`
	PrimaryHabitat    Tags        `json:"primaryHabitat"`
	RecommendedLayers Tags        `json:"recommendedLayers"`
}

// Key identifies a species inside its region. Backend-generated entries carry no
// id, so the scientific name stands in for it.
func (s Species) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.ScientificName
}

// DisplayName is the name sent to the simulation service.
func (s Species) DisplayName() string {
	if s.CommonName != "" {
		return s.CommonName
	}
	return s.ScientificName
}

type SpeciesGeneration struct {
	RegionID    string     `json:"region_id"`
	Status      string     `json:"status"`
	SpeciesList []Species  `json:"species_list,omitempty"`
	GeneratedAt *time.Time `json:"species_generated_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type SpeciesCancelResponse struct {
	RegionID  string `json:"region_id"`
	Cancelled bool   `json:"cancelled"`
}

type LayerCategory string

const (
	CategoryLandUse   LayerCategory = "land-use"
	CategoryElevation LayerCategory = "elevation"
	CategoryClimate   LayerCategory = "climate"
	CategoryHydrology LayerCategory = "hydrology"
	CategoryOther     LayerCategory = "other"
)

type Layer struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    LayerCategory `json:"category"`
	URL         string        `json:"url"`
	Visible     bool          `json:"visible"`
}

// LayerSet is the raw answer of the layers service: a flat object of *_url keys,
// optionally with a status and per-product errors.
type LayerSet struct {
	Status string            `json:"status,omitempty"`
	URLs   map[string]string `json:"urls"`
	Errors map[string]string `json:"errors,omitempty"`
}

func (s *LayerSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.URLs = make(map[string]string)
	for k, v := range raw {
		switch {
		case k == "errors":
			if err := json.Unmarshal(v, &s.Errors); err != nil {
				return err
			}
		case k == "status":
			if err := json.Unmarshal(v, &s.Status); err != nil {
				return err
			}
		case strings.HasSuffix(k, "_url"):
			var u string
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			s.URLs[k] = u
		}
	}
	return nil
}

type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type Mobility string

const (
	MobilitySessile Mobility = "sessile"
	MobilityLow     Mobility = "low"
	MobilityMedium  Mobility = "medium"
	MobilityHigh    Mobility = "high"
)

type DispersalKernel struct {
	// Sigma is the kernel spread in meters.
	Sigma           float64 `json:"sigma"`
	JumpProbability float64 `json:"jump_probability,omitempty"`
	MaxDistanceKm   float64 `json:"max_distance_km,omitempty"`
}

type CustomSpecies struct {
	CommonName     string `json:"common_name"`
	ScientificName string `json:"scientific_name,omitempty"`
}

// SimulationParams is what the client submits; the species is either a key of a
// species already in the region or an ad-hoc custom species.
type SimulationParams struct {
	SpeciesKey         string             `json:"species_key,omitempty"`
	CustomSpecies      *CustomSpecies     `json:"custom_species,omitempty"`
	InitialPopulation  float64            `json:"initial_population"`
	GrowthRate         float64            `json:"growth_rate"`
	Dispersal          DispersalKernel    `json:"dispersal"`
	Timesteps          int                `json:"timesteps"`
	TimestepYears      float64            `json:"timestep_years,omitempty"`
	HabitatPreferences map[string]float64 `json:"habitat_preferences,omitempty"`
	ClimatePreferences map[string]float64 `json:"climate_preferences,omitempty"`
	ClimateTolerances  map[string]Range   `json:"climate_tolerances,omitempty"`
	Mobility           Mobility           `json:"mobility,omitempty"`
}

// SimulationRequest is the wire body of POST /simulation/.
type SimulationRequest struct {
	RegionID           string             `json:"region_id"`
	SpeciesName        string             `json:"species_name"`
	InitialPopulation  float64            `json:"initial_population"`
	GrowthRate         float64            `json:"growth_rate"`
	DispersalKernel    float64            `json:"dispersal_kernel"`
	Timesteps          int                `json:"timesteps"`
	TimestepYears      float64            `json:"timestep_years,omitempty"`
	JumpProbability    float64            `json:"jump_probability,omitempty"`
	MaxDispersalKm     float64            `json:"max_dispersal_km,omitempty"`
	HabitatPreferences map[string]float64 `json:"habitat_preferences,omitempty"`
	ClimatePreferences map[string]float64 `json:"climate_preferences,omitempty"`
	ClimateTolerances  map[string]Range   `json:"climate_tolerances,omitempty"`
	Mobility           Mobility           `json:"mobility,omitempty"`
}

const (
	SimulationPending   = "pending"
	SimulationRunning   = "running"
	SimulationCompleted = "completed"
	SimulationFailed    = "failed"
)

type CellSample struct {
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	Population float64 `json:"population"`
}

type StepStats struct {
	TotalPopulation float64 `json:"total_population"`
	InvadedAreaKm2  float64 `json:"invaded_area_km2"`
	OccupiedCells   int     `json:"occupied_cells"`
}

type SimulationStep struct {
	Index int          `json:"index"`
	URL   string       `json:"url,omitempty"`
	Cells []CellSample `json:"cells,omitempty"`
	Stats *StepStats   `json:"stats,omitempty"`
}

type SimulationStats struct {
	MaxPopulation       float64 `json:"max_population"`
	FinalInvadedAreaKm2 float64 `json:"final_invaded_area_km2"`
	MeanSpreadKmPerYear float64 `json:"mean_spread_km_per_year"`
	CumulativeImpact    float64 `json:"cumulative_impact"`
}

type SimulationRecord struct {
	RegionID  string           `json:"region_id"`
	Status    string           `json:"status"`
	Timesteps []string         `json:"timesteps,omitempty"`
	Steps     []SimulationStep `json:"steps,omitempty"`
	Stats     *SimulationStats `json:"stats,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func (r *SimulationRecord) Completed() bool {
	return r != nil && r.Status == SimulationCompleted
}

func (r *SimulationRecord) Failed() bool {
	return r != nil && r.Status == SimulationFailed
}

// Finished is true once the backend will not change the record any more.
func (r *SimulationRecord) Finished() bool {
	return r.Completed() || r.Failed()
}

// Warning is a non-fatal failure of a best-effort step.
type Warning struct {
	Op       string    `json:"op"`
	RegionID string    `json:"region_id"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Timestamp        string `json:"timestamp"`
	ActiveSessions   int    `json:"active_sessions"`
	ConnectedClients int    `json:"connected_clients"`
}

// Layer products that can be generated on their own.
const (
	ProductSRTM       = "srtm"
	ProductCopernicus = "copernicus"
	ProductWorldClim  = "worldclim"
)

func IsLayerProduct(p string) bool {
	switch p {
	case ProductSRTM, ProductCopernicus, ProductWorldClim:
		return true
	}
	return false
}

// SessionSnapshot is the persisted part of a session, enough to restore it.
type SessionSnapshot struct {
	SessionID     string    `json:"session_id"`
	RegionID      string    `json:"region_id"`
	VisibleLayers []string  `json:"visible_layers"`
	UpdatedAt     time.Time `json:"updated_at"`
}
