package sandbox

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// MemoryMonitor samples interpreter memory on a fixed interval while an
// execution runs. When usage crosses the limit it invokes the breach
// callback once per sampling tick; the callback interrupts the running
// script.
type MemoryMonitor struct {
	memoryLimit     uint64
	limitExceededFn func()
	logger          *zap.Logger

	proc *process.Process

	mutex        sync.Mutex
	stopCh       chan struct{}
	currentUsage uint64
	running      bool
}

// NewMemoryMonitor creates a monitor. limitExceededFn runs on the monitor
// goroutine and must not block.
func NewMemoryMonitor(memoryLimit uint64, logger *zap.Logger, limitExceededFn func()) *MemoryMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Process-level RSS complements the Go heap sample; failure to resolve
	// the process handle just disables the RSS reading.
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}

	return &MemoryMonitor{
		memoryLimit:     memoryLimit,
		limitExceededFn: limitExceededFn,
		logger:          logger,
		proc:            proc,
	}
}

// Start begins sampling. A running monitor is restarted.
func (m *MemoryMonitor) Start() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		close(m.stopCh)
	}
	m.stopCh = make(chan struct{})
	m.running = true

	go m.monitor(m.stopCh)
}

// Stop ends sampling.
func (m *MemoryMonitor) Stop() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		close(m.stopCh)
		m.running = false
	}
}

// GetCurrentUsage returns the most recent sample in bytes.
func (m *MemoryMonitor) GetCurrentUsage() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.currentUsage == 0 {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		m.currentUsage = stats.HeapAlloc
	}
	return m.currentUsage
}

func (m *MemoryMonitor) monitor(stopCh chan struct{}) {
	ticker := time.NewTicker(MemoryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			usage := stats.HeapAlloc

			m.mutex.Lock()
			m.currentUsage = usage
			m.mutex.Unlock()

			if usage > m.memoryLimit {
				m.logger.Warn("memory limit exceeded",
					zap.Uint64("limit", m.memoryLimit),
					zap.Uint64("heap", usage),
					zap.Uint64("rss", m.rss()))
				if m.limitExceededFn != nil {
					m.limitExceededFn()
				}
			}
		}
	}
}

// rss reads the process resident set size for diagnostics. The breach check
// itself uses the heap sample; RSS covers the whole process and would trip
// small per-call limits on its own.
func (m *MemoryMonitor) rss() uint64 {
	if m.proc == nil {
		return 0
	}
	info, err := m.proc.MemoryInfo()
	if err != nil {
		return 0
	}
	return info.RSS
}
