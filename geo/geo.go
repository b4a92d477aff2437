package geo

import "math"

const (
	// EarthRadiusMeters is the mean earth radius used for great-circle distances.
	EarthRadiusMeters = 6371000.0

	metersPerFoot = 0.3048
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

// Valid reports whether both coordinates are finite and inside their ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) ||
		math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// HaversineMeters returns the great-circle distance between two coordinates in meters.
// NaN input yields NaN output; callers validate first.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	// rounding can push a past 1 for antipodal points
	a = math.Min(a, 1)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Distance is HaversineMeters for two points.
func Distance(a, b Point) float64 {
	return HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

func FeetToMeters(feet float64) float64 {
	return feet * metersPerFoot
}

// GeoJSONPoint is the GeoJSON form of a point, indexed by mongo's 2dsphere index.
type GeoJSONPoint struct {
	Type        string     `bson:"type" json:"type"`
	Coordinates [2]float64 `bson:"coordinates" json:"coordinates"`
}

// GeoJSON converts p into GeoJSON, which orders coordinates longitude first.
func GeoJSON(p Point) GeoJSONPoint {
	return GeoJSONPoint{Type: "Point", Coordinates: [2]float64{p.Longitude, p.Latitude}}
}

// Point converts back from GeoJSON.
func (g GeoJSONPoint) Point() Point {
	return Point{Latitude: g.Coordinates[1], Longitude: g.Coordinates[0]}
}
