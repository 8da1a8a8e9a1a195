package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"invasion-viewer/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRegion(t *testing.T) {
	var got models.RegionCreateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/region/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"r1","name":"Test Zone","points":[{"latitude":0,"longitude":0}],"species_list":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	region, err := c.CreateRegion(context.Background(), models.RegionCreateRequest{
		Name:   "Test Zone",
		Points: []models.Point{{Latitude: 0, Longitude: 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", region.ID)
	assert.Equal(t, "Test Zone", got.Name)
	assert.NotNil(t, got.SpeciesList, "species_list must be sent as an empty array")
}

func TestCreateRegionWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"x"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateRegion(context.Background(), models.RegionCreateRequest{Name: "x"})
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestStatusMapping(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{"Not found", http.StatusNotFound, `{"detail":"Region not found"}`, models.ErrNotFound},
		{"Conflict", http.StatusConflict, `{"detail":"exists"}`, models.ErrConflict},
		{"Bad request", http.StatusBadRequest, `bad`, models.ErrValidation},
		{"Unprocessable", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","name"]}]}`, models.ErrValidation},
		{"Gateway timeout", http.StatusGatewayTimeout, ``, models.ErrTimeout},
		{"Server error", http.StatusInternalServerError, `boom`, models.ErrTransport},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).GetRegion(context.Background(), "r1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)

			var berr *Error
			require.True(t, errors.As(err, &berr))
			assert.Equal(t, tc.status, berr.StatusCode)
			assert.Equal(t, "get_region", berr.Op)
		})
	}
}

func TestErrorDetailMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Region not found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetRegion(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Region not found")
}

func TestTimeoutIsDistinctFromTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, WithTimeouts(50*time.Millisecond, 50*time.Millisecond))
	_, err := c.GetRegion(context.Background(), "r1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.False(t, errors.Is(err, models.ErrTransport))
}

func TestConnectionRefusedIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).ListRegions(context.Background())
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestEmptyRegionIDMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.GetSpecies(ctx, "")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = c.GetLayers(ctx, " ")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = c.StartSimulation(ctx, models.SimulationRequest{})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = c.GenerateLayerProduct(ctx, "modis", "r1")
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestSpeciesQueryParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "r 1", r.URL.Query().Get("region_id"))
		switch r.URL.Path {
		case "/species/":
			w.Write([]byte(`{"species_list":[{"scientificName":"Sus scrofa","status":"invasive","primaryHabitat":"forest"}]}`))
		case "/species/status":
			w.Write([]byte(`{"region_id":"r 1","status":"running"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	gen, err := c.GetSpecies(context.Background(), "r 1")
	require.NoError(t, err)
	assert.Equal(t, "r 1", gen.RegionID)
	require.Len(t, gen.SpeciesList, 1)
	assert.Equal(t, models.Tags{"forest"}, gen.SpeciesList[0].PrimaryHabitat)

	status, err := c.SpeciesStatus(context.Background(), "r 1")
	require.NoError(t, err)
	assert.Equal(t, "running", status.Status)
}

func TestCancelSpecies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body["region_id"])
		w.Write([]byte(`{"region_id":"r1","cancelled":true}`))
	}))
	defer srv.Close()

	ok, err := NewClient(srv.URL).CancelSpecies(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerateLayers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/layers/", r.URL.Path)
		w.Write([]byte(`{
			"status": "completed_with_errors",
			"srtm_url": "https://tiles/srtm.tif",
			"worldclim_bio1_url": "https://tiles/bio1.tif",
			"errors": {"copernicus": "upstream 503"}
		}`))
	}))
	defer srv.Close()

	set, err := NewClient(srv.URL).GenerateLayers(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "completed_with_errors", set.Status)
	assert.Equal(t, "https://tiles/srtm.tif", set.URLs["srtm_url"])
	assert.Len(t, set.URLs, 2)
	assert.Equal(t, "upstream 503", set.Errors["copernicus"])
}

func TestLayerProductPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/layers/srtm":
			w.Write([]byte(`{"srtm_url":"a"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/layers/copernicus/r1":
			w.Write([]byte(`{"copernicus_url":"b"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	set, err := c.GenerateLayerProduct(context.Background(), models.ProductSRTM, "r1")
	require.NoError(t, err)
	assert.Equal(t, "a", set.URLs["srtm_url"])

	set, err = c.GetLayerProduct(context.Background(), models.ProductCopernicus, "r1")
	require.NoError(t, err)
	assert.Equal(t, "b", set.URLs["copernicus_url"])
}

func TestSimulation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req models.SimulationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Wild boar", req.SpeciesName)
			assert.Equal(t, 10, req.Timesteps)
			w.Write([]byte(`{"region_id":"r1","status":"running"}`))
		case http.MethodGet:
			assert.Equal(t, "r1", r.URL.Query().Get("region_id"))
			w.Write([]byte(`{"region_id":"r1","status":"completed","timesteps":["u0","u1"]}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	rec, err := c.StartSimulation(context.Background(), models.SimulationRequest{
		RegionID:    "r1",
		SpeciesName: "Wild boar",
		Timesteps:   10,
	})
	require.NoError(t, err)
	assert.False(t, rec.Finished())

	rec, err = c.SimulationStatus(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, rec.Completed())
	assert.Len(t, rec.Timesteps, 2)
}

func TestListRegionsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"regions":null}`))
	}))
	defer srv.Close()

	regions, err := NewClient(srv.URL).ListRegions(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, regions)
	assert.Empty(t, regions)
}
