package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is a snapshot of resource usage on the machine running the
// node, surfaced alongside replication status so an operator can
// correlate lag with host pressure.
type HostStats struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
	LoadAverage1m    float64 `json:"load_average_1m"`
}

// HostMonitor polls HostStats on a fixed interval.
type HostMonitor struct {
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu    sync.RWMutex
	stats HostStats
}

// NewHostMonitor creates a monitor polling every interval (15s if <= 0).
func NewHostMonitor(logger *slog.Logger, interval time.Duration) *HostMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HostMonitor{
		logger:   logger.With("component", "observability.hoststats"),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins polling in the background.
func (m *HostMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts polling and waits for the goroutine to exit.
func (m *HostMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Stats returns the most recently collected snapshot.
func (m *HostMonitor) Stats() HostStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *HostMonitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *HostMonitor) collect() {
	var s HostStats

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else {
		m.logger.Debug("collecting cpu stats", "error", err)
	}
	if v, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("collecting memory stats", "error", err)
	}
	if d, err := disk.Usage("/"); err == nil {
		s.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("collecting disk stats", "error", err)
	}
	if l, err := load.Avg(); err == nil {
		s.LoadAverage1m = l.Load1
	} else {
		m.logger.Debug("collecting load average", "error", err)
	}

	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()
}
