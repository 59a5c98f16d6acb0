// Package progress provides download progress accounting and fan-out to
// subscribers.
package progress

import (
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/pkg/bytesize"
)

// Speed returns the mean transfer rate in bytes per second. Elapsed times
// under one second are clamped to one second so early samples do not
// overshoot.
func Speed(downloadedBytes int64, elapsed time.Duration) float64 {
	if downloadedBytes <= 0 {
		return 0
	}
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return float64(downloadedBytes) / elapsed.Seconds()
}

// FormatSpeed renders a byte rate as a human string such as "3.2MB/s".
func FormatSpeed(bytesPerSecond float64) string {
	return bytesize.FormatRate(bytesPerSecond)
}

// ETA estimates remaining seconds from byte counts and the current speed.
// It returns nil when the total or speed is unknown.
func ETA(downloadedBytes, totalBytes int64, speed float64) *int64 {
	if totalBytes <= 0 || speed <= 0 {
		return nil
	}
	remaining := totalBytes - downloadedBytes
	if remaining < 0 {
		remaining = 0
	}
	eta := int64(float64(remaining) / speed)
	return &eta
}

// Percent computes completion by bytes, clamped to [0,100]. An unknown total
// yields 0; the terminal transition is what reports 100 in that case.
func Percent(downloadedBytes, totalBytes int64) float64 {
	if totalBytes <= 0 {
		return 0
	}
	return clampPercent(float64(downloadedBytes) / float64(totalBytes) * 100)
}

// PercentByCount computes completion from unit counts (segments, media
// seconds) when byte totals are unknown.
func PercentByCount(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return clampPercent(float64(done) / float64(total) * 100)
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Aggregate folds sub-task progress into a task-level figure. Sub-tasks with
// known byte totals contribute byte-weighted; when no totals are known the
// arithmetic mean of percentages is used instead.
func Aggregate(subTasks []*models.SubTask) (percent float64, downloaded, total int64) {
	if len(subTasks) == 0 {
		return 0, 0, 0
	}

	var weighted float64
	var weightSum int64
	var percentSum float64

	for _, st := range subTasks {
		downloaded += st.DownloadedBytes
		percentSum += st.Progress
		if st.TotalBytes > 0 {
			total += st.TotalBytes
			weighted += st.Progress * float64(st.TotalBytes)
			weightSum += st.TotalBytes
		}
	}

	if weightSum > 0 {
		return clampPercent(weighted / float64(weightSum)), downloaded, total
	}
	return clampPercent(percentSum / float64(len(subTasks))), downloaded, total
}
