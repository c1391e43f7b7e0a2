package bucketing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
)

func newTestManager(t *testing.T) *FingerprintManager {
	t.Helper()
	return NewFingerprintManager(&config.Config{})
}

func TestFingerprintDeterministic(t *testing.T) {
	fm := newTestManager(t)
	ts := time.Date(2025, 6, 1, 12, 0, 3, 0, time.UTC)

	id1, tb1, sb1 := fm.Fingerprint("AA:BB:CC:DD:EE:FF", ts, -63)
	id2, tb2, sb2 := fm.Fingerprint("AA:BB:CC:DD:EE:FF", ts, -63)

	assert.Equal(t, id1, id2)
	assert.Equal(t, tb1, tb2)
	assert.Equal(t, sb1, sb2)
	assert.Len(t, id1, 16)
}

func TestFingerprintChangesWithInputs(t *testing.T) {
	fm := newTestManager(t)
	ts := time.Date(2025, 6, 1, 12, 0, 3, 0, time.UTC)

	base, _, _ := fm.Fingerprint("AA:BB:CC:DD:EE:FF", ts, -63)

	otherBSSID, _, _ := fm.Fingerprint("AA:BB:CC:DD:EE:00", ts, -63)
	assert.NotEqual(t, base, otherBSSID)

	otherWindow, _, _ := fm.Fingerprint("AA:BB:CC:DD:EE:FF", ts.Add(time.Minute), -63)
	assert.NotEqual(t, base, otherWindow)

	otherSignal, _, _ := fm.Fingerprint("AA:BB:CC:DD:EE:FF", ts, -40)
	assert.NotEqual(t, base, otherSignal)
}

func TestTimeBucketWindows(t *testing.T) {
	fm := newTestManager(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Same 10s window
	assert.Equal(t, fm.TimeBucket(base), fm.TimeBucket(base.Add(9*time.Second)))
	// Next window
	assert.Equal(t, fm.TimeBucket(base)+1, fm.TimeBucket(base.Add(10*time.Second)))
}

func TestSignalBucketFloorDivision(t *testing.T) {
	fm := newTestManager(t)

	// -63 and -61 share the -65..-61 step with 5 dBm granularity
	assert.Equal(t, -65, fm.SignalBucket(-63))
	assert.Equal(t, -65, fm.SignalBucket(-61))
	assert.Equal(t, -60, fm.SignalBucket(-60))
	assert.Equal(t, -70, fm.SignalBucket(-66))
}

func TestGeoCellStable(t *testing.T) {
	fm := newTestManager(t)

	assert.Equal(t, fm.GeoCell(40.7128, -74.0060), fm.GeoCell(40.7129, -74.0061))
	assert.NotEqual(t, fm.GeoCell(40.7128, -74.0060), fm.GeoCell(40.8128, -74.0060))
}

func TestCoveringCellsIncludeCenterAndNeighbors(t *testing.T) {
	fm := newTestManager(t)

	cells := fm.CoveringCells(40.7128, -74.0060, 2000)
	require.NotEmpty(t, cells)

	assert.Contains(t, cells, fm.GeoCell(40.7128, -74.0060))
	// 2km reaches past the ~1.1km cell size in every direction
	assert.Contains(t, cells, fm.GeoCell(40.7128+0.015, -74.0060))
	assert.Contains(t, cells, fm.GeoCell(40.7128, -74.0060-0.02))
}
