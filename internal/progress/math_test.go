package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

func TestSpeed(t *testing.T) {
	tests := []struct {
		name    string
		bytes   int64
		elapsed time.Duration
		want    float64
	}{
		{"zero bytes", 0, 10 * time.Second, 0},
		{"sub-second clamps to one second", 1024, 100 * time.Millisecond, 1024},
		{"steady rate", 10 * 1024 * 1024, 10 * time.Second, 1024 * 1024},
		{"negative bytes", -5, time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Speed(tt.bytes, tt.elapsed), 0.01)
		})
	}
}

func TestFormatSpeedIsPure(t *testing.T) {
	v := 3.2 * 1024 * 1024
	assert.Equal(t, FormatSpeed(v), FormatSpeed(v))
	assert.Equal(t, "3.2MB/s", FormatSpeed(v))
	assert.Equal(t, "0B/s", FormatSpeed(0))
}

func TestETA(t *testing.T) {
	eta := ETA(50, 100, 10)
	require.NotNil(t, eta)
	assert.Equal(t, int64(5), *eta)

	assert.Nil(t, ETA(50, 0, 10), "unknown total")
	assert.Nil(t, ETA(50, 100, 0), "unknown speed")

	eta = ETA(150, 100, 10)
	require.NotNil(t, eta)
	assert.Equal(t, int64(0), *eta, "overshoot clamps to zero")
}

func TestPercent(t *testing.T) {
	assert.Equal(t, float64(0), Percent(0, 0), "zero total stays at zero")
	assert.Equal(t, float64(0), Percent(500, 0))
	assert.Equal(t, float64(50), Percent(50, 100))
	assert.Equal(t, float64(100), Percent(200, 100), "clamped")
}

func TestPercentByCount(t *testing.T) {
	assert.Equal(t, float64(0), PercentByCount(0, 0))
	assert.Equal(t, float64(25), PercentByCount(1, 4))
	assert.Equal(t, float64(100), PercentByCount(5, 4))
}

func TestAggregateByteWeighted(t *testing.T) {
	subTasks := []*models.SubTask{
		{Progress: 100, DownloadedBytes: 900, TotalBytes: 900},
		{Progress: 0, DownloadedBytes: 0, TotalBytes: 100},
	}

	percent, downloaded, total := Aggregate(subTasks)
	assert.InDelta(t, 90, percent, 0.01)
	assert.Equal(t, int64(900), downloaded)
	assert.Equal(t, int64(1000), total)
}

func TestAggregateFallsBackToArithmeticMean(t *testing.T) {
	subTasks := []*models.SubTask{
		{Progress: 100},
		{Progress: 0},
	}

	percent, downloaded, total := Aggregate(subTasks)
	assert.InDelta(t, 50, percent, 0.01)
	assert.Zero(t, downloaded)
	assert.Zero(t, total)
}

func TestAggregateEmpty(t *testing.T) {
	percent, downloaded, total := Aggregate(nil)
	assert.Zero(t, percent)
	assert.Zero(t, downloaded)
	assert.Zero(t, total)
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	tr.SetTotal(1000)
	tr.Add(250)
	tr.Add(250)
	tr.Add(-10) // ignored

	snap := tr.Snapshot()
	assert.Equal(t, int64(500), snap.Downloaded)
	assert.Equal(t, int64(1000), snap.Total)
	assert.InDelta(t, 50, snap.Percent, 0.01)
	assert.Greater(t, snap.Speed, float64(0))
	require.NotNil(t, snap.ETASeconds)

	// Totals never shrink.
	tr.SetTotal(100)
	assert.Equal(t, int64(1000), tr.Snapshot().Total)
}
