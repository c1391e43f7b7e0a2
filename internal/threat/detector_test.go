package threat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

var testRef = ReferencePoint{Lat: 0, Lon: 0}

func wifiIdentity(bssid string) *models.WirelessIdentity {
	return &models.WirelessIdentity{BSSID: bssid, Category: models.CategoryWiFi}
}

// ~12km north of the reference
const farLat = 0.11

func TestEvaluateFollowMePattern(t *testing.T) {
	d := NewDetector(testRef)
	settings := models.DefaultSettings(models.CategoryWiFi)

	// Seen repeatedly at the reference and six times ~12km away
	sightings := []Sighting{
		{Lat: 0, Lon: 0},
		{Lat: 0.001, Lon: 0},
	}
	for i := 0; i < 6; i++ {
		sightings = append(sightings, Sighting{Lat: farLat, Lon: float64(i) * 0.0001})
	}

	rec := d.Evaluate(wifiIdentity("A0:BB:CC:DD:EE:FF"), sightings, settings)
	require.NotNil(t, rec)

	assert.False(t, rec.Excluded)
	assert.Equal(t, models.TierCritical, rec.Tier)
	assert.Equal(t, 2, rec.NearCount)
	assert.Equal(t, 6, rec.AwayCount)
	assert.Equal(t, 8, rec.TotalSightings)
	assert.InDelta(t, 12_200, rec.MaxAwayDistanceM, 300)
	assert.False(t, rec.MobileHotspot)
	assert.Equal(t, settings.Version, rec.SettingsVersion)

	// 0.4*(maxAway/50km) + 0.3*(6/8) + 0.2 near bonus
	expected := 0.4*(rec.MaxAwayDistanceM/50_000) + 0.3*0.75 + 0.2
	assert.InDelta(t, expected, rec.Confidence, 1e-9)
}

func TestEvaluateNoNearAwayPair(t *testing.T) {
	d := NewDetector(testRef)
	settings := models.DefaultSettings(models.CategoryWiFi)

	// Only near sightings: an ordinary neighborhood AP
	nearOnly := d.Evaluate(wifiIdentity("A0:BB:CC:DD:EE:FF"), []Sighting{
		{Lat: 0, Lon: 0},
		{Lat: 0.001, Lon: 0},
	}, settings)
	assert.True(t, nearOnly.Excluded)
	assert.Equal(t, "no near/away sighting pair", nearOnly.ExclusionReason)
	assert.Equal(t, models.TierNone, nearOnly.Tier)

	// Only away sightings: never at the reference, no pattern
	awayOnly := d.Evaluate(wifiIdentity("A0:BB:CC:DD:EE:FF"), []Sighting{
		{Lat: farLat, Lon: 0},
		{Lat: farLat, Lon: 0.001},
	}, settings)
	assert.True(t, awayOnly.Excluded)
	assert.Equal(t, "no near/away sighting pair", awayOnly.ExclusionReason)
}

func TestEvaluateBelowConfidenceThreshold(t *testing.T) {
	d := NewDetector(testRef)
	settings := models.DefaultSettings(models.CategoryWiFi)

	// One weak away sighting out of three: the pattern exists but the score
	// stays under the default 0.5 threshold.
	rec := d.Evaluate(wifiIdentity("A0:BB:CC:DD:EE:FF"), []Sighting{
		{Lat: 0, Lon: 0},
		{Lat: 0.001, Lon: 0},
		{Lat: farLat, Lon: 0},
	}, settings)

	assert.True(t, rec.Excluded)
	assert.Equal(t, "below confidence threshold", rec.ExclusionReason)
	// The tier is still assigned for audit
	assert.Equal(t, models.TierCritical, rec.Tier)
	assert.Less(t, rec.Confidence, settings.ConfidenceThreshold)
}

func TestEvaluateDisabledCategory(t *testing.T) {
	d := NewDetector(testRef)
	settings := models.DefaultSettings(models.CategoryWiFi)
	settings.Enabled = false

	sightings := []Sighting{{Lat: 0, Lon: 0}}
	for i := 0; i < 6; i++ {
		sightings = append(sightings, Sighting{Lat: farLat, Lon: float64(i) * 0.0001})
	}

	rec := d.Evaluate(wifiIdentity("A0:BB:CC:DD:EE:FF"), sightings, settings)
	assert.True(t, rec.Excluded)
	assert.Equal(t, "category disabled", rec.ExclusionReason)
}

func TestEvaluateLocallyAdministeredBonus(t *testing.T) {
	d := NewDetector(testRef)
	settings := models.DefaultSettings(models.CategoryWiFi)

	sightings := []Sighting{
		{Lat: 0, Lon: 0},
		{Lat: farLat, Lon: 0},
		{Lat: farLat, Lon: 0.001},
	}

	universal := d.Evaluate(wifiIdentity("A0:BB:CC:DD:EE:FF"), sightings, settings)
	local := d.Evaluate(wifiIdentity("A2:BB:CC:DD:EE:FF"), sightings, settings)

	assert.False(t, universal.MobileHotspot)
	assert.True(t, local.MobileHotspot)
	assert.InDelta(t, 0.1, local.Confidence-universal.Confidence, 1e-9)
}

func TestAssignTierWalksBands(t *testing.T) {
	settings := models.DefaultSettings(models.CategoryWiFi)
	bands := settings.SortedBands()

	assert.Equal(t, models.TierExtreme, assignTier(60_000, bands))
	assert.Equal(t, models.TierCritical, assignTier(12_000, bands))
	assert.Equal(t, models.TierHigh, assignTier(5_000, bands))
	assert.Equal(t, models.TierMedium, assignTier(3_000, bands))
	assert.Equal(t, models.TierLow, assignTier(1_500, bands))
	assert.Equal(t, models.TierNone, assignTier(500, bands))
}

func TestHasLocallyAdministeredBit(t *testing.T) {
	assert.True(t, HasLocallyAdministeredBit("02:00:00:00:00:01"))
	assert.True(t, HasLocallyAdministeredBit("AA:BB:CC:DD:EE:FF"))
	assert.False(t, HasLocallyAdministeredBit("A0:BB:CC:DD:EE:FF"))
	assert.False(t, HasLocallyAdministeredBit("00:11:22:33:44:55"))
	assert.False(t, HasLocallyAdministeredBit("garbage"))
}
