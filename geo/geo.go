// Package geo resolves coordinates to borough names using a GeoJSON
// FeatureCollection of polygons.
package geo

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

type boroughShape struct {
	name     string
	geometry orb.Geometry
}

// Locator answers point-in-polygon borough lookups. Immutable after load.
type Locator struct {
	shapes []boroughShape
}

// Load reads a FeatureCollection from disk. nameProperty is the feature
// property holding the borough name (e.g. "boro_name").
func Load(path, nameProperty string) (*Locator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading geojson: %w", err)
	}
	return Parse(data, nameProperty)
}

// Parse builds a Locator from raw GeoJSON bytes.
func Parse(data []byte, nameProperty string) (*Locator, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling feature collection: %w", err)
	}

	l := &Locator{}
	for i, f := range fc.Features {
		name, ok := f.Properties[nameProperty].(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("feature %d missing property '%s'", i, nameProperty)
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, fmt.Errorf("feature %d (%s) is not a polygon", i, name)
		}
		l.shapes = append(l.shapes, boroughShape{name: name, geometry: f.Geometry})
	}

	if len(l.shapes) == 0 {
		return nil, fmt.Errorf("no borough polygons in collection")
	}

	return l, nil
}

// Borough returns the borough containing the point, or "" if the point falls
// outside every polygon.
func (l *Locator) Borough(lat, lon float64) string {
	pt := orb.Point{lon, lat}
	for _, s := range l.shapes {
		switch g := s.geometry.(type) {
		case orb.Polygon:
			if planar.PolygonContains(g, pt) {
				return s.name
			}
		case orb.MultiPolygon:
			if planar.MultiPolygonContains(g, pt) {
				return s.name
			}
		}
	}
	return ""
}
