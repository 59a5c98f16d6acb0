package muxer

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/process"
)

// sampleInterval is how often the child process is sampled.
const sampleInterval = 5 * time.Second

// monitorProcess samples CPU and memory usage of the muxer child and logs
// them at debug level until the context is cancelled. Sampling failures are
// silent: the process usually exited between samples.
func monitorProcess(ctx context.Context, logger *slog.Logger, pid int) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return
	}

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cpu, err := proc.CPUPercentWithContext(ctx)
			if err != nil {
				return
			}
			var rss uint64
			if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
				rss = mem.RSS
			}
			logger.Debug("muxer process stats",
				slog.Int("pid", pid),
				slog.Float64("cpu_percent", cpu),
				slog.String("memory_rss", humanize.IBytes(rss)),
			)
		}
	}
}
