// Package monitor samples host resources for the health endpoint
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/santa-tracker/santa-gateway/internal/logger"
)

// HostResources is one sample of the machine the gateway runs on
type HostResources struct {
	Hostname      string    `json:"hostname"`
	OS            string    `json:"os"`
	Platform      string    `json:"platform,omitempty"`
	CPUCount      int       `json:"cpuCount"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryTotal   uint64    `json:"memoryTotal"`
	MemoryUsed    uint64    `json:"memoryUsed"`
	MemoryPercent float64   `json:"memoryPercent"`
	DiskTotal     uint64    `json:"diskTotal"`
	DiskUsed      uint64    `json:"diskUsed"`
	LoadAverage   []float64 `json:"loadAverage,omitempty"`
	Uptime        int64     `json:"uptime"` // gateway uptime in seconds
	SampledAt     time.Time `json:"sampledAt"`
}

// Config configures a ResourceMonitor
type Config struct {
	Interval time.Duration // sampling interval, default 15s
	DiskPath string        // filesystem to report, default "/"
}

// ResourceMonitor samples host resources in the background and serves
// the latest sample
type ResourceMonitor struct {
	interval time.Duration
	diskPath string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	mu        sync.RWMutex
	latest    HostResources
	startTime time.Time
}

// NewResourceMonitor creates a monitor. Call Start to begin sampling.
func NewResourceMonitor(cfg Config) *ResourceMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ResourceMonitor{
		interval:  cfg.Interval,
		diskPath:  cfg.DiskPath,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		latest: HostResources{
			OS:       runtime.GOOS,
			CPUCount: runtime.NumCPU(),
		},
	}
}

// Start takes a first sample and keeps sampling until Stop
func (m *ResourceMonitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.update()

	m.wg.Add(1)
	go m.loop()
	logger.Debugf("Resource monitor started, interval %s", m.interval)
}

// Stop ends sampling
func (m *ResourceMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// Snapshot returns the latest sample
func (m *ResourceMonitor) Snapshot() HostResources {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.latest
	if m.latest.LoadAverage != nil {
		snap.LoadAverage = append([]float64(nil), m.latest.LoadAverage...)
	}
	snap.Uptime = int64(time.Since(m.startTime).Seconds())
	return snap
}

func (m *ResourceMonitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.update()
		}
	}
}

// update samples outside the lock and swaps the result in
func (m *ResourceMonitor) update() {
	s := Sample(m.ctx, m.diskPath)

	m.mu.Lock()
	m.latest = s
	m.mu.Unlock()
}

// Sample reads the current host resources. Probes that fail leave their
// fields zero.
func Sample(ctx context.Context, diskPath string) HostResources {
	s := HostResources{
		OS:        runtime.GOOS,
		CPUCount:  runtime.NumCPU(),
		SampledAt: time.Now(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		s.Hostname = info.Hostname
		s.Platform = info.Platform
	} else {
		logger.WithError(err).Debug("Failed to read host info")
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else if err != nil {
		logger.WithError(err).Debug("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryTotal = vm.Total
		s.MemoryUsed = vm.Used
		s.MemoryPercent = vm.UsedPercent
	} else {
		logger.WithError(err).Debug("Failed to read memory usage")
	}

	if du, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		s.DiskTotal = du.Total
		s.DiskUsed = du.Used
	} else {
		logger.WithError(err).Debug("Failed to read disk usage")
	}

	// load average is not available on windows
	if runtime.GOOS != "windows" {
		if avg, err := load.AvgWithContext(ctx); err == nil {
			s.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
		}
	}

	return s
}
