// Package geometry turns shapes drawn on the map into the polygon and bounding
// box pair a region is created from, and back into map overlays.
package geometry

import (
	"math"

	"invasion-viewer/models"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// minRingArea is the smallest outer ring, in square degrees, accepted as a
// region.
const minRingArea = 1e-12

type ShapeKind string

const (
	ShapeRectangle ShapeKind = "rectangle"
	ShapePolygon   ShapeKind = "polygon"
)

const earthRadiusKm = 6371.01

// DrawnShape is what the map drawing tool reports: vertices as lng/lat pairs in
// the order they were drawn. A rectangle may be sent as its two opposite corners.
type DrawnShape struct {
	Kind        ShapeKind    `json:"kind"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// Draft is a drawn but not yet persisted region outline.
type Draft struct {
	Polygon orb.Polygon        `json:"polygon"`
	Bounds  models.BoundingBox `json:"bbox"`
	AreaKm2 float64            `json:"area_km2"`
}

// Capture validates a drawn shape and converts it into a Draft with a closed
// outer ring.
func Capture(shape DrawnShape) (*Draft, error) {
	coords := shape.Coordinates
	switch shape.Kind {
	case ShapeRectangle:
		if len(coords) == 2 {
			coords = expandCorners(coords[0], coords[1])
		}
	case ShapePolygon, "":
	default:
		return nil, models.Validationf("unsupported shape kind %q", shape.Kind)
	}

	ring := make(orb.Ring, 0, len(coords)+1)
	for i, c := range coords {
		lng, lat := c[0], c[1]
		if math.IsNaN(lng) || math.IsNaN(lat) || lng < -180 || lng > 180 || lat < -90 || lat > 90 {
			return nil, models.Validationf("vertex %d (%g, %g) is outside lng/lat range", i, lng, lat)
		}
		ring = append(ring, orb.Point{lng, lat})
	}

	if n := distinctVertices(ring); n < 3 {
		return nil, models.Validationf("a region needs at least 3 distinct vertices, got %d", n)
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	if math.Abs(planar.Area(ring)) < minRingArea {
		return nil, models.Validationf("region has no area, its vertices are collinear")
	}

	poly := orb.Polygon{ring}
	return &Draft{
		Polygon: poly,
		Bounds:  Bounds(poly),
		AreaKm2: AreaKm2(poly),
	}, nil
}

func expandCorners(a, b [2]float64) [][2]float64 {
	return [][2]float64{
		{a[0], a[1]},
		{a[0], b[1]},
		{b[0], b[1]},
		{b[0], a[1]},
	}
}

func distinctVertices(ring orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(ring))
	for _, p := range ring {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// Bounds returns the bounding box of the polygon's outer ring.
func Bounds(p orb.Polygon) models.BoundingBox {
	if len(p) == 0 || len(p[0]) == 0 {
		return models.BoundingBox{}
	}
	b := p[0].Bound()
	return models.BoundingBox{
		XMin: b.Min.Lon(),
		YMin: b.Min.Lat(),
		XMax: b.Max.Lon(),
		YMax: b.Max.Lat(),
	}
}

// PolygonToPoints returns the outer ring without its closing vertex, in drawing
// order, as the region service expects it.
func PolygonToPoints(p orb.Polygon) []models.Point {
	if len(p) == 0 {
		return []models.Point{}
	}
	ring := p[0]
	n := len(ring)
	if n > 1 && ring.Closed() {
		n--
	}
	points := make([]models.Point, 0, n)
	for _, pt := range ring[:n] {
		points = append(points, models.Point{Latitude: pt.Lat(), Longitude: pt.Lon()})
	}
	return points
}

// PointsToPolygon closes an open point list back into a polygon.
func PointsToPolygon(points []models.Point) orb.Polygon {
	if len(points) == 0 {
		return orb.Polygon{}
	}
	ring := make(orb.Ring, 0, len(points)+1)
	for _, pt := range points {
		ring = append(ring, orb.Point{pt.Longitude, pt.Latitude})
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// AreaKm2 is the spherical area of the outer ring. Drawing direction does not
// matter.
func AreaKm2(p orb.Polygon) float64 {
	pts := PolygonToPoints(p)
	if len(pts) < 3 {
		return 0
	}
	s2pts := make([]s2.Point, len(pts))
	for i, pt := range pts {
		s2pts[i] = s2.PointFromLatLng(s2.LatLngFromDegrees(pt.Latitude, pt.Longitude))
	}
	area := s2.LoopFromPoints(s2pts).Area()
	if area > 2*math.Pi {
		area = 4*math.Pi - area
	}
	return area * earthRadiusKm * earthRadiusKm
}
