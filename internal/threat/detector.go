package threat

import (
	"strconv"
	"strings"
	"time"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/spatial"
)

// Confidence weights. The composite score favors identities that have been
// seen both at the reference location and far from it, the follow-me pattern
// surveillance produces.
const (
	distanceWeight  = 0.4
	ratioWeight     = 0.3
	nearBonus       = 0.2
	laaBonus        = 0.1
	defaultNormDist = 10_000.0 // fallback when a category has no bands
)

// ReferencePoint anchors detection; sightings are partitioned by their
// distance to it.
type ReferencePoint struct {
	Lat float64
	Lon float64
}

// Sighting is one canonical geolocated observation of the identity.
type Sighting struct {
	Lat float64
	Lon float64
}

// Detector classifies identities as surveillance candidates relative to the
// reference point. Settings are passed by value per run and never mutated.
type Detector struct {
	ref ReferencePoint
}

func NewDetector(ref ReferencePoint) *Detector {
	return &Detector{ref: ref}
}

// Evaluate scores one identity against its category's active settings. The
// record is always computed for audit; Excluded marks records that the query
// surface must not return (below threshold or disabled category). The caller
// skips whitelisted/owned identities before ever calling Evaluate.
func (d *Detector) Evaluate(identity *models.WirelessIdentity, sightings []Sighting, settings models.DetectionSettings) *models.ThreatRecord {
	rec := &models.ThreatRecord{
		BSSID:           identity.BSSID,
		Category:        identity.Category,
		TotalSightings:  len(sightings),
		Tier:            models.TierNone,
		SettingsVersion: settings.Version,
		ComputedAt:      time.Now().UTC(),
	}

	for _, s := range sightings {
		dist := spatial.DistanceM(d.ref.Lat, d.ref.Lon, s.Lat, s.Lon)
		if dist <= settings.ReferenceRadiusM {
			rec.NearCount++
		}
		if dist > settings.MinAwayDistanceM {
			rec.AwayCount++
			if dist > rec.MaxAwayDistanceM {
				rec.MaxAwayDistanceM = dist
			}
		}
	}

	// Surveillance needs both halves of the pattern: presence at the
	// reference and sightings well away from it.
	if rec.NearCount == 0 || rec.AwayCount == 0 {
		rec.Excluded = true
		rec.ExclusionReason = "no near/away sighting pair"
		return rec
	}

	rec.MobileHotspot = HasLocallyAdministeredBit(identity.BSSID)
	rec.Tier = assignTier(rec.MaxAwayDistanceM, settings.SortedBands())
	rec.Confidence = d.confidence(rec, settings)

	switch {
	case !settings.Enabled:
		rec.Excluded = true
		rec.ExclusionReason = "category disabled"
	case rec.Confidence < settings.ConfidenceThreshold:
		rec.Excluded = true
		rec.ExclusionReason = "below confidence threshold"
	}
	return rec
}

// assignTier walks the bands from widest to narrowest and returns the first
// one the max away-distance clears.
func assignTier(maxAwayM float64, bands []models.ThreatBand) models.ThreatTier {
	for _, b := range bands {
		if maxAwayM >= b.MinDistanceM {
			return b.Tier
		}
	}
	return models.TierNone
}

// confidence = 0.4*capped normalized distance + 0.3*away ratio + 0.2 near
// bonus, plus 0.1 when the address carries the locally-administered bit,
// clamped to [0,1].
func (d *Detector) confidence(rec *models.ThreatRecord, settings models.DetectionSettings) float64 {
	norm := settings.MaxBandDistanceM()
	if norm <= 0 {
		norm = defaultNormDist
	}
	distFactor := rec.MaxAwayDistanceM / norm
	if distFactor > 1 {
		distFactor = 1
	}

	awayRatio := 0.0
	if rec.TotalSightings > 0 {
		awayRatio = float64(rec.AwayCount) / float64(rec.TotalSightings)
	}

	conf := distanceWeight*distFactor + ratioWeight*awayRatio
	if rec.NearCount > 0 {
		conf += nearBonus
	}
	if rec.MobileHotspot {
		conf += laaBonus
	}

	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

// HasLocallyAdministeredBit reports whether the address's first octet has the
// locally-administered bit set, the pattern randomized interfaces (phone
// hotspots, MAC randomization) conventionally use.
func HasLocallyAdministeredBit(bssid string) bool {
	first := bssid
	if i := strings.IndexByte(bssid, ':'); i > 0 {
		first = bssid[:i]
	}
	if len(first) != 2 {
		return false
	}
	octet, err := strconv.ParseUint(first, 16, 8)
	if err != nil {
		return false
	}
	return octet&0x02 != 0
}
