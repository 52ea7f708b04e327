package matching

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	liverpool  = Coordinates{Latitude: 53.4084, Longitude: -2.9916}
	manchester = Coordinates{Latitude: 53.4808, Longitude: -2.2426}
	london     = Coordinates{Latitude: 51.5074, Longitude: -0.1278}
	sydney     = Coordinates{Latitude: -33.8688, Longitude: 151.2093}
)

func TestDistance(t *testing.T) {
	t.Run("Same point is zero", func(t *testing.T) {
		for _, p := range []Coordinates{liverpool, london, sydney, {}, {Latitude: 90, Longitude: 180}} {
			assert.Equal(t, 0.0, Distance(p, p))
		}
	})

	t.Run("Symmetric", func(t *testing.T) {
		pairs := [][2]Coordinates{
			{liverpool, manchester},
			{liverpool, london},
			{london, sydney},
			{{Latitude: -90, Longitude: -180}, {Latitude: 90, Longitude: 180}},
		}
		for _, pr := range pairs {
			assert.InDelta(t, Distance(pr[0], pr[1]), Distance(pr[1], pr[0]), 1e-9)
		}
	})

	t.Run("Known distances in miles", func(t *testing.T) {
		assert.InDelta(t, 31.3, Distance(liverpool, manchester), 1.0)
		assert.InDelta(t, 178, Distance(liverpool, london), 5)
		assert.InDelta(t, 10560, Distance(london, sydney), 60)
	})

	t.Run("Never negative", func(t *testing.T) {
		assert.GreaterOrEqual(t, Distance(sydney, liverpool), 0.0)
	})

	t.Run("NaN propagates", func(t *testing.T) {
		d := Distance(Coordinates{Latitude: math.NaN()}, liverpool)
		assert.True(t, math.IsNaN(d))
	})
}

func TestWithinRadius(t *testing.T) {
	located := Profile{ID: "a", Coordinates: &manchester}
	unlocated := Profile{ID: "b"}

	t.Run("Unlocated candidate is never within radius", func(t *testing.T) {
		for _, viewer := range []*Coordinates{nil, &liverpool, &manchester} {
			assert.False(t, WithinRadius(viewer, unlocated, DefaultRadiusMiles))
			assert.False(t, WithinRadius(viewer, unlocated, math.MaxFloat64))
		}
	})

	t.Run("Absent viewer excludes everyone", func(t *testing.T) {
		assert.False(t, WithinRadius(nil, located, DefaultRadiusMiles))
	})

	t.Run("Threshold is a parameter", func(t *testing.T) {
		assert.True(t, WithinRadius(&liverpool, located, DefaultRadiusMiles))
		assert.False(t, WithinRadius(&liverpool, located, 20))
		assert.False(t, WithinRadius(&liverpool, Profile{Coordinates: &london}, DefaultRadiusMiles))
	})

	t.Run("Same point is within a zero radius", func(t *testing.T) {
		assert.True(t, WithinRadius(&manchester, located, 0))
	})
}
