package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceM(t *testing.T) {
	// One degree of longitude at the equator is ~111km
	d := DistanceM(0, 0, 0, 1)
	assert.InDelta(t, 111_000, d, 1_000)

	assert.Zero(t, DistanceM(40.7, -74.0, 40.7, -74.0))
}

func TestDBSCANSeparatesDistantGroups(t *testing.T) {
	// Two tight groups ~11km apart
	points := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0.0001, Lon: 0},
		{Lat: 0, Lon: 0.0001},
		{Lat: 0.1, Lon: 0},
		{Lat: 0.1001, Lon: 0},
		{Lat: 0.1, Lon: 0.0001},
	}

	clusters := DBSCAN(points, 100, 3)
	require.Len(t, clusters, 2)
	for _, c := range clusters {
		assert.Len(t, c.Points, 3)
		assert.Less(t, c.RadiusM, 100.0)
	}

	assert.InDelta(t, 11_100, MaxCentroidDistanceM(clusters), 200)
}

func TestDBSCANNoiseBecomesSingletonCluster(t *testing.T) {
	points := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0.0001, Lon: 0},
		{Lat: 0, Lon: 0.0001},
		{Lat: 5, Lon: 5}, // lone distant sighting
	}

	clusters := DBSCAN(points, 100, 3)
	require.Len(t, clusters, 2)

	var singleton bool
	for _, c := range clusters {
		if len(c.Points) == 1 {
			singleton = true
			assert.Equal(t, 5.0, c.CentroidLat)
			assert.Zero(t, c.RadiusM)
		}
	}
	assert.True(t, singleton, "lone point should survive as its own cluster")
}

func TestDBSCANEmptyInput(t *testing.T) {
	assert.Nil(t, DBSCAN(nil, 100, 3))
}

func TestMaxCentroidDistanceSingleCluster(t *testing.T) {
	clusters := DBSCAN([]Point{{Lat: 0, Lon: 0}, {Lat: 0.0001, Lon: 0}, {Lat: 0, Lon: 0.0001}}, 100, 3)
	require.Len(t, clusters, 1)
	assert.Zero(t, MaxCentroidDistanceM(clusters))
}
