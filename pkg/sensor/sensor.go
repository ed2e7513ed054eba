package sensor

import (
	"context"
	"sync"
	"syscall"
	"time"

	"presencedb/pkg/logger"
	"presencedb/pkg/telemetry"
)

// Snapshot is a best-effort view of the DB volume. Fields may be zero on
// unsupported platforms.
type Snapshot struct {
	Timestamp time.Time
	DiskTotal uint64
	DiskFree  uint64
}

// UsedPct returns disk usage as a percentage, 0 when unknown.
func (s Snapshot) UsedPct() int {
	if s.DiskTotal == 0 {
		return 0
	}
	used := s.DiskTotal - s.DiskFree
	return int(used * 100 / s.DiskTotal)
}

// Monitor polls the filesystem holding the database and exports the
// readings. Above the high threshold it logs a warning each poll.
type Monitor struct {
	path     string
	interval time.Duration
	highPct  int

	mu   sync.Mutex
	last Snapshot
}

// NewMonitor builds a disk monitor for the given path. interval defaults
// to 30s and highPct to 85 when zero.
func NewMonitor(path string, interval time.Duration, highPct int) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if highPct <= 0 {
		highPct = 85
	}
	return &Monitor{path: path, interval: interval, highPct: highPct}
}

// Snapshot returns the most recent reading.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Start launches the polling loop. Returns a stop func.
func (m *Monitor) Start(ctx context.Context) context.CancelFunc {
	ctx2, cancel := context.WithCancel(ctx)
	go m.run(ctx2)
	return cancel
}

func (m *Monitor) run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	m.poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	snap := readDisk(m.path)
	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	telemetry.DiskFreeBytes.Set(float64(snap.DiskFree))
	telemetry.DiskUsedPct.Set(float64(snap.UsedPct()))
	if pct := snap.UsedPct(); pct >= m.highPct {
		logger.Warn("disk_usage_high", "path", m.path, "used_pct", pct, "free_bytes", snap.DiskFree)
	}
}

func readDisk(path string) Snapshot {
	snap := Snapshot{Timestamp: time.Now()}
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		logger.Debug("disk_statfs_failed", "path", path, "error", err)
		return snap
	}
	bs := uint64(st.Bsize)
	snap.DiskTotal = st.Blocks * bs
	snap.DiskFree = st.Bavail * bs
	return snap
}
