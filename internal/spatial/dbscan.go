package spatial

import (
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Point is one geolocated sighting fed to the clusterer.
type Point struct {
	ObservationID uuid.UUID
	Lat           float64
	Lon           float64
}

func (p Point) orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// DistanceM returns the haversine distance between two points in meters.
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
}

// Cluster is a group of points discovered by the clusterer.
type Cluster struct {
	Points      []Point
	CentroidLat float64
	CentroidLon float64
	RadiusM     float64 // max member distance from the centroid
}

func newCluster(points []Point) Cluster {
	c := Cluster{Points: points}
	for _, p := range points {
		c.CentroidLat += p.Lat
		c.CentroidLon += p.Lon
	}
	n := float64(len(points))
	c.CentroidLat /= n
	c.CentroidLon /= n
	for _, p := range points {
		if d := DistanceM(c.CentroidLat, c.CentroidLon, p.Lat, p.Lon); d > c.RadiusM {
			c.RadiusM = d
		}
	}
	return c
}

const (
	labelUnvisited = 0
	labelNoise     = -1
)

// DBSCAN runs density-based clustering over the point set with a haversine
// metric. epsM is the neighborhood radius in meters, minPts the core-point
// threshold. Points that end up as noise are returned as singleton clusters:
// for collision analysis a lone sighting far from everything else is evidence,
// not garbage.
func DBSCAN(points []Point, epsM float64, minPts int) []Cluster {
	if len(points) == 0 {
		return nil
	}

	labels := make([]int, len(points)) // 0 unvisited, -1 noise, >0 cluster id
	nextID := 0

	neighborsOf := func(i int) []int {
		var out []int
		pi := points[i].orb()
		for j := range points {
			if geo.DistanceHaversine(pi, points[j].orb()) <= epsM {
				out = append(out, j) // includes i itself
			}
		}
		return out
	}

	for i := range points {
		if labels[i] != labelUnvisited {
			continue
		}
		neighbors := neighborsOf(i)
		if len(neighbors) < minPts {
			labels[i] = labelNoise
			continue
		}

		nextID++
		labels[i] = nextID

		// Expand the cluster through density-reachable points
		for k := 0; k < len(neighbors); k++ {
			j := neighbors[k]
			if labels[j] == labelNoise {
				labels[j] = nextID // border point
				continue
			}
			if labels[j] != labelUnvisited {
				continue
			}
			labels[j] = nextID
			jn := neighborsOf(j)
			if len(jn) >= minPts {
				neighbors = append(neighbors, jn...)
			}
		}
	}

	grouped := make(map[int][]Point)
	for i, lbl := range labels {
		grouped[lbl] = append(grouped[lbl], points[i])
	}

	clusters := make([]Cluster, 0, len(grouped))
	for lbl, members := range grouped {
		if lbl == labelNoise {
			for _, p := range members {
				clusters = append(clusters, newCluster([]Point{p}))
			}
			continue
		}
		clusters = append(clusters, newCluster(members))
	}
	return clusters
}

// MaxCentroidDistanceM returns the maximum pairwise distance between cluster
// centroids, zero when fewer than two clusters exist.
func MaxCentroidDistanceM(clusters []Cluster) float64 {
	var max float64
	for i := 0; i < len(clusters); i++ {
		for j := i + 1; j < len(clusters); j++ {
			d := DistanceM(
				clusters[i].CentroidLat, clusters[i].CentroidLon,
				clusters[j].CentroidLat, clusters[j].CentroidLon,
			)
			if d > max {
				max = d
			}
		}
	}
	return max
}
