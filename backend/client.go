// Package backend is the JSON/HTTP client of the external invasion backend
// (regions, species, layers and simulation services).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"invasion-viewer/metrics"
	"invasion-viewer/models"

	"github.com/apex/log"
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultLongTimeout = 10 * time.Minute

	maxErrorBody = 4096
)

// Client talks to the invasion backend. Every call gets its own deadline:
// the short timeout for reads and region writes, the long one for raster,
// species and simulation generation.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	longTimeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeouts(timeout, longTimeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
		if longTimeout > 0 {
			c.longTimeout = longTimeout
		}
	}
}

// NewClient creates a new backend client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		timeout:     DefaultTimeout,
		longTimeout: DefaultLongTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRegion persists a new region and returns it with its server-assigned id.
func (c *Client) CreateRegion(ctx context.Context, req models.RegionCreateRequest) (*models.Region, error) {
	if req.SpeciesList == nil {
		req.SpeciesList = []models.Species{}
	}
	var region models.Region
	if err := c.do(ctx, "create_region", http.MethodPost, "/region/", nil, req, &region, c.timeout); err != nil {
		return nil, err
	}
	if region.ID == "" {
		return nil, &Error{Op: "create_region", Kind: models.ErrTransport, Err: errors.New("response carries no region id")}
	}
	return &region, nil
}

func (c *Client) GetRegion(ctx context.Context, regionID string) (*models.Region, error) {
	if err := requireID("get_region", regionID); err != nil {
		return nil, err
	}
	var region models.Region
	if err := c.do(ctx, "get_region", http.MethodGet, "/region/"+url.PathEscape(regionID), nil, nil, &region, c.timeout); err != nil {
		return nil, err
	}
	return &region, nil
}

func (c *Client) UpdateRegion(ctx context.Context, regionID string, req models.RegionUpdateRequest) (*models.Region, error) {
	if err := requireID("update_region", regionID); err != nil {
		return nil, err
	}
	var region models.Region
	if err := c.do(ctx, "update_region", http.MethodPatch, "/region/"+url.PathEscape(regionID), nil, req, &region, c.timeout); err != nil {
		return nil, err
	}
	return &region, nil
}

func (c *Client) ListRegions(ctx context.Context) ([]models.Region, error) {
	var resp models.RegionListResponse
	if err := c.do(ctx, "list_regions", http.MethodGet, "/region/", nil, nil, &resp, c.timeout); err != nil {
		return nil, err
	}
	if resp.Regions == nil {
		return []models.Region{}, nil
	}
	return resp.Regions, nil
}

type regionRequest struct {
	RegionID string `json:"region_id"`
}

func (c *Client) GenerateSpecies(ctx context.Context, regionID string) (*models.SpeciesGeneration, error) {
	if err := requireID("generate_species", regionID); err != nil {
		return nil, err
	}
	var gen models.SpeciesGeneration
	if err := c.do(ctx, "generate_species", http.MethodPost, "/species/", nil, regionRequest{RegionID: regionID}, &gen, c.longTimeout); err != nil {
		return nil, err
	}
	if gen.RegionID == "" {
		gen.RegionID = regionID
	}
	return &gen, nil
}

func (c *Client) GetSpecies(ctx context.Context, regionID string) (*models.SpeciesGeneration, error) {
	return c.speciesDoc(ctx, "get_species", "/species/", regionID)
}

func (c *Client) SpeciesStatus(ctx context.Context, regionID string) (*models.SpeciesGeneration, error) {
	return c.speciesDoc(ctx, "species_status", "/species/status", regionID)
}

func (c *Client) speciesDoc(ctx context.Context, op, path, regionID string) (*models.SpeciesGeneration, error) {
	if err := requireID(op, regionID); err != nil {
		return nil, err
	}
	var gen models.SpeciesGeneration
	q := url.Values{"region_id": {regionID}}
	if err := c.do(ctx, op, http.MethodGet, path, q, nil, &gen, c.timeout); err != nil {
		return nil, err
	}
	if gen.RegionID == "" {
		gen.RegionID = regionID
	}
	return &gen, nil
}

func (c *Client) CancelSpecies(ctx context.Context, regionID string) (bool, error) {
	if err := requireID("cancel_species", regionID); err != nil {
		return false, err
	}
	var resp models.SpeciesCancelResponse
	if err := c.do(ctx, "cancel_species", http.MethodPost, "/species/cancel", nil, regionRequest{RegionID: regionID}, &resp, c.timeout); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

// GenerateLayers runs the full raster pipeline for a region and returns every
// layer URL it produced.
func (c *Client) GenerateLayers(ctx context.Context, regionID string) (*models.LayerSet, error) {
	if err := requireID("generate_layers", regionID); err != nil {
		return nil, err
	}
	var set models.LayerSet
	if err := c.do(ctx, "generate_layers", http.MethodPost, "/layers/", nil, regionRequest{RegionID: regionID}, &set, c.longTimeout); err != nil {
		return nil, err
	}
	return &set, nil
}

func (c *Client) GetLayers(ctx context.Context, regionID string) (*models.LayerSet, error) {
	if err := requireID("get_layers", regionID); err != nil {
		return nil, err
	}
	var set models.LayerSet
	if err := c.do(ctx, "get_layers", http.MethodGet, "/layers/"+url.PathEscape(regionID), nil, nil, &set, c.timeout); err != nil {
		return nil, err
	}
	return &set, nil
}

// GenerateLayerProduct generates a single product (srtm, copernicus, worldclim).
func (c *Client) GenerateLayerProduct(ctx context.Context, product, regionID string) (*models.LayerSet, error) {
	op := "generate_layer_" + product
	if err := requireProduct(op, product); err != nil {
		return nil, err
	}
	if err := requireID(op, regionID); err != nil {
		return nil, err
	}
	var set models.LayerSet
	if err := c.do(ctx, op, http.MethodPost, "/layers/"+product, nil, regionRequest{RegionID: regionID}, &set, c.longTimeout); err != nil {
		return nil, err
	}
	return &set, nil
}

func (c *Client) GetLayerProduct(ctx context.Context, product, regionID string) (*models.LayerSet, error) {
	op := "get_layer_" + product
	if err := requireProduct(op, product); err != nil {
		return nil, err
	}
	if err := requireID(op, regionID); err != nil {
		return nil, err
	}
	var set models.LayerSet
	if err := c.do(ctx, op, http.MethodGet, "/layers/"+product+"/"+url.PathEscape(regionID), nil, nil, &set, c.timeout); err != nil {
		return nil, err
	}
	return &set, nil
}

func (c *Client) StartSimulation(ctx context.Context, req models.SimulationRequest) (*models.SimulationRecord, error) {
	if err := requireID("start_simulation", req.RegionID); err != nil {
		return nil, err
	}
	var rec models.SimulationRecord
	if err := c.do(ctx, "start_simulation", http.MethodPost, "/simulation/", nil, req, &rec, c.longTimeout); err != nil {
		return nil, err
	}
	if rec.RegionID == "" {
		rec.RegionID = req.RegionID
	}
	return &rec, nil
}

func (c *Client) SimulationStatus(ctx context.Context, regionID string) (*models.SimulationRecord, error) {
	if err := requireID("simulation_status", regionID); err != nil {
		return nil, err
	}
	var rec models.SimulationRecord
	q := url.Values{"region_id": {regionID}}
	if err := c.do(ctx, "simulation_status", http.MethodGet, "/simulation/", q, nil, &rec, c.timeout); err != nil {
		return nil, err
	}
	if rec.RegionID == "" {
		rec.RegionID = regionID
	}
	return &rec, nil
}

func requireID(op, regionID string) error {
	if strings.TrimSpace(regionID) == "" {
		return &Error{Op: op, Kind: models.ErrValidation, Err: errors.New("region id is required")}
	}
	return nil
}

func requireProduct(op, product string) error {
	if !models.IsLayerProduct(product) {
		return &Error{Op: op, Kind: models.ErrValidation, Err: fmt.Errorf("unknown layer product %q", product)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.roundTrip(ctx, op, method, path, query, body, out)
	metrics.BackendRequestDuration.WithLabelValues(op, resultLabel(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warnf("Backend call %s %s failed: %v", method, path, err)
	} else {
		log.Debugf("Backend call %s %s took %s", method, path, time.Since(start))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: models.ErrValidation, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reader = bytes.NewReader(reqBody)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &Error{Op: op, Kind: models.ErrTransport, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportError(op, ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Kind:       kindForStatus(resp.StatusCode),
			Err:        errors.New(errorDetail(resp.Body)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return transportError(op, ctx, err)
		}
		return &Error{Op: op, Kind: models.ErrTransport, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// errorDetail extracts the FastAPI style {"detail": ...} message, falling back
// to the raw body.
func errorDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Detail interface{} `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(body.Detail); err == nil {
			return string(b)
		}
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "empty response body"
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrTimeout):
		return "timeout"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	default:
		return "transport"
	}
}
