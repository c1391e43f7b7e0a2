package models

import "time"

// CollisionClass is the collision analyzer's verdict for one identity.
type CollisionClass string

const (
	// CollisionMobileDevice: all sightings fit a single mobile device.
	CollisionMobileDevice CollisionClass = "mobile_device"
	// CollisionVendorReuse: clusters too far apart for one device; the
	// address is reused across distinct hardware.
	CollisionVendorReuse CollisionClass = "vendor_reuse"
	// CollisionPossible: geographically suspect, flagged for review.
	CollisionPossible CollisionClass = "possible_collision"
	// CollisionAmbiguous: evidence does not support a clean verdict.
	CollisionAmbiguous CollisionClass = "ambiguous"
)

// ClusterEvidence is one geographic cluster backing a collision verdict.
type ClusterEvidence struct {
	CentroidLat float64 `json:"centroid_lat"`
	CentroidLon float64 `json:"centroid_lon"`
	PointCount  int     `json:"point_count"`
	RadiusM     float64 `json:"radius_m"` // max distance from centroid to a member
}

// SpatialCollisionRecord is derived per identity and fully replaced on every
// recompute, never appended to.
type SpatialCollisionRecord struct {
	BSSID               string            `db:"bssid"`
	ClusterCount        int               `db:"cluster_count"`
	MaxClusterDistanceM float64           `db:"max_cluster_distance_m"`
	Classification      CollisionClass    `db:"classification"`
	Clusters            []ClusterEvidence `db:"clusters"`
	ObservationCount    int               `db:"observation_count"`
	ComputedAt          time.Time         `db:"computed_at"`
}
