package models

import "time"

// RadioCategory uses the WiGLE single-letter type codes carried by every
// collection pipeline.
type RadioCategory string

const (
	CategoryWiFi      RadioCategory = "W"
	CategoryBluetooth RadioCategory = "B"
	CategoryBLE       RadioCategory = "E"
	CategoryGSM       RadioCategory = "G"
	CategoryLTE       RadioCategory = "L"
)

// AllCategories lists every category the detector and the adaptive controller
// iterate over.
var AllCategories = []RadioCategory{
	CategoryWiFi, CategoryBluetooth, CategoryBLE, CategoryGSM, CategoryLTE,
}

func (c RadioCategory) Valid() bool {
	switch c {
	case CategoryWiFi, CategoryBluetooth, CategoryBLE, CategoryGSM, CategoryLTE:
		return true
	}
	return false
}

// WirelessIdentity is one hardware address as seen across all pipelines.
// The BSSID key is immutable; rows are only ever updated in place.
type WirelessIdentity struct {
	BSSID            string        `db:"bssid"`
	Name             string        `db:"name"` // canonical SSID / device name
	Category         RadioCategory `db:"category"`
	IsMobile         bool          `db:"is_mobile"`
	MobileConfidence float64       `db:"mobile_confidence"`
	ObservationCount int64         `db:"observation_count"`
	FirstSeen        time.Time     `db:"first_seen"`
	LastSeen         time.Time     `db:"last_seen"`
	PrimaryLat       *float64      `db:"primary_lat"` // derived, from triangulation
	PrimaryLon       *float64      `db:"primary_lon"`
	CreatedAt        time.Time     `db:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at"`
}
