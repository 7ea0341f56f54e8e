package metrics

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
)

// Health is a point-in-time snapshot of the process and the data
// directory holding the sqlite database, surfaced through the bot's
// admin report.
type Health struct {
	HeapAllocMB  uint64
	HeapSysMB    uint64
	TotalAllocMB uint64
	GCCycles     uint32
	Goroutines   int
	DataDirUsage string
}

// Snapshot collects current process stats and the on-disk footprint of
// the data directory.
func Snapshot(dataDir string) Health {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	const mb = 1024 * 1024
	return Health{
		HeapAllocMB:  m.Alloc / mb,
		HeapSysMB:    m.Sys / mb,
		TotalAllocMB: m.TotalAlloc / mb,
		GCCycles:     m.NumGC,
		Goroutines:   runtime.NumGoroutine(),
		DataDirUsage: humanSize(dirSize(dataDir)),
	}
}

// dirSize sums file sizes under path. Unreadable entries are skipped so
// one bad file cannot blank the whole report.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size += info.Size()
		return nil
	})
	return size
}

func humanSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
