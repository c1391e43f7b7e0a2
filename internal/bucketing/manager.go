package bucketing

import (
	"fmt"
	"hash"
	"math"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
)

// FingerprintManager derives deterministic fingerprint keys and spatial cells
// for observations. Fingerprinting is a pure function of its inputs: the same
// (bssid, timestamp, signal) always yields the same key regardless of which
// node computes it.
type FingerprintManager struct {
	timeBucket   time.Duration
	signalBucket int
	cellSizeDeg  float64
	hasherPool   sync.Pool
}

func NewFingerprintManager(cfg *config.Config) *FingerprintManager {
	fm := &FingerprintManager{
		timeBucket:   cfg.Dedup.TimeBucket,
		signalBucket: cfg.Dedup.SignalBucket,
		cellSizeDeg:  cfg.Bucketing.CellSizeDegrees,
	}
	if fm.timeBucket <= 0 {
		fm.timeBucket = 10 * time.Second
	}
	if fm.signalBucket <= 0 {
		fm.signalBucket = 5
	}
	if fm.cellSizeDeg <= 0 {
		fm.cellSizeDeg = 0.01
	}

	// Pool of hashers to avoid allocation on the hot ingest path
	fm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return fm
}

// TimeBucket maps a timestamp onto its dedup window index.
func (fm *FingerprintManager) TimeBucket(ts time.Time) int64 {
	window := int64(fm.timeBucket / time.Second)
	return ts.Unix() / window
}

// SignalBucket maps a dBm reading onto its granularity step. Floor division so
// that e.g. -63 and -61 share the -65..-61 step with a 5 dBm bucket.
func (fm *FingerprintManager) SignalBucket(dbm int) int {
	g := fm.signalBucket
	return int(math.Floor(float64(dbm)/float64(g))) * g
}

// Fingerprint returns the fingerprint key for an observation along with the
// buckets that produced it.
func (fm *FingerprintManager) Fingerprint(bssid string, ts time.Time, dbm int) (id string, timeBucket int64, signalBucket int) {
	timeBucket = fm.TimeBucket(ts)
	signalBucket = fm.SignalBucket(dbm)
	id = fm.FingerprintKey(bssid, timeBucket, signalBucket)
	return id, timeBucket, signalBucket
}

// FingerprintKey hashes already-bucketed inputs. Exposed separately so the
// deduplicator can probe adjacent buckets without re-bucketing.
func (fm *FingerprintManager) FingerprintKey(bssid string, timeBucket int64, signalBucket int) string {
	hasher := fm.hasherPool.Get().(hash.Hash64)
	defer fm.hasherPool.Put(hasher)

	hasher.Reset()
	fmt.Fprintf(hasher, "%s|%d|%d", bssid, timeBucket, signalBucket)
	return fmt.Sprintf("%016x", hasher.Sum64())
}

// SignalBucketDBM returns the configured signal granularity in dBm.
func (fm *FingerprintManager) SignalBucketDBM() int {
	return fm.signalBucket
}

// GeoCell maps a coordinate onto a coarse grid cell key. Cells back the
// store's spatial-range capability: a radius query scans the covering cells
// and filters by exact distance in process.
func (fm *FingerprintManager) GeoCell(lat, lon float64) string {
	latCell := int(math.Floor(lat / fm.cellSizeDeg))
	lonCell := int(math.Floor(lon / fm.cellSizeDeg))
	return fmt.Sprintf("%d:%d", latCell, lonCell)
}

// CoveringCells returns every cell key overlapping a radius around a point.
func (fm *FingerprintManager) CoveringCells(lat, lon, radiusM float64) []string {
	// One degree of latitude is ~111km; stretch longitude by cos(lat).
	latDelta := radiusM / 111_000.0
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lonDelta := radiusM / (111_000.0 * cosLat)

	minLat := int(math.Floor((lat - latDelta) / fm.cellSizeDeg))
	maxLat := int(math.Floor((lat + latDelta) / fm.cellSizeDeg))
	minLon := int(math.Floor((lon - lonDelta) / fm.cellSizeDeg))
	maxLon := int(math.Floor((lon + lonDelta) / fm.cellSizeDeg))

	cells := make([]string, 0, (maxLat-minLat+1)*(maxLon-minLon+1))
	for la := minLat; la <= maxLat; la++ {
		for lo := minLon; lo <= maxLon; lo++ {
			cells = append(cells, fmt.Sprintf("%d:%d", la, lo))
		}
	}
	return cells
}
