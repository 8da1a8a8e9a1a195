package geometry

import (
	"invasion-viewer/models"

	geojson "github.com/paulmach/go.geojson"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// ToFeature renders a polygon as a GeoJSON feature for the map overlay.
func ToFeature(name string, p orb.Polygon) *geojson.Feature {
	f := geojson.NewPolygonFeature(toCoordinates(p))
	if name != "" {
		f.SetProperty("name", name)
	}
	b := Bounds(p)
	f.BoundingBox = []float64{b.XMin, b.YMin, b.XMax, b.YMax}
	return f
}

// RegionFeature is ToFeature for a committed region. The polygon is also
// attached as WKT for GIS tools that import it directly.
func RegionFeature(r *models.Region) *geojson.Feature {
	poly := PointsToPolygon(r.Points)
	f := ToFeature(r.Name, poly)
	if len(poly) > 0 {
		f.SetProperty("wkt", wkt.MarshalString(poly))
	}
	if r.ID != "" {
		f.ID = r.ID
		f.SetProperty("region_id", r.ID)
	}
	f.SetProperty("species_count", len(r.SpeciesList))
	return f
}

// CellsToFeatureCollection renders simulation cell samples as point features.
func CellsToFeatureCollection(step models.SimulationStep) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range step.Cells {
		f := geojson.NewPointFeature([]float64{c.Longitude, c.Latitude})
		f.SetProperty("population", c.Population)
		f.SetProperty("step", step.Index)
		fc.AddFeature(f)
	}
	return fc
}

func toCoordinates(p orb.Polygon) [][][]float64 {
	coords := make([][][]float64, len(p))
	for i, ring := range p {
		coords[i] = make([][]float64, len(ring))
		for j, pt := range ring {
			coords[i][j] = []float64{pt.Lon(), pt.Lat()}
		}
	}
	return coords
}
