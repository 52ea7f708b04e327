package matching

import "math"

// EarthRadiusMiles is the mean Earth radius used by Distance.
const EarthRadiusMiles = 3959

// DefaultRadiusMiles is how close an outdoor candidate must be to the viewer.
const DefaultRadiusMiles = 50.0

// Distance returns the great-circle distance between a and b in miles
// (haversine). Out-of-range input is not rejected; NaN propagates.
func Distance(a, b Coordinates) float64 {
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMiles * c
}

func toRadians(deg float64) float64 {
	return deg * (math.Pi / 180)
}

// WithinRadius reports whether p lies within radius miles of viewer.
// An absent viewer position or an unlocated candidate is never within radius.
func WithinRadius(viewer *Coordinates, p Profile, radius float64) bool {
	if viewer == nil || p.Coordinates == nil {
		return false
	}
	return Distance(*viewer, *p.Coordinates) <= radius
}
