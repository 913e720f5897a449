// Package resources sizes the worker pools of the pipeline from the
// configured thread count, the CPUs and the available memory.
package resources

import (
	"fmt"
	"runtime"

	"github.com/GenomiqueENS/aozan/internal/constants"
)

// Manager holds the size of the worker pools. It is immutable.
type Manager struct {
	totalThreads int
	cpuThreads   int
	memoryLimit  int
}

// Config holds configuration for the resource manager
type Config struct {
	// MaxThreads is the configured thread count. Below 1 means one per CPU.
	MaxThreads int
}

// NewManager creates a manager whose pool size is MaxThreads (or NumCPU),
// capped by the available memory and constants.AbsoluteMaxThreads.
func NewManager(config Config) *Manager {
	return newManager(config, runtime.NumCPU(), getAvailableMemory())
}

func newManager(config Config, cpus int, availableMemory uint64) *Manager {
	memoryThreads := int(availableMemory / constants.MemoryPerWorker)
	if memoryThreads < 1 {
		memoryThreads = 1
	}

	totalThreads := config.MaxThreads
	if totalThreads < 1 {
		totalThreads = cpus
	}
	if totalThreads > memoryThreads {
		totalThreads = memoryThreads
	}
	if totalThreads > constants.AbsoluteMaxThreads {
		totalThreads = constants.AbsoluteMaxThreads
	}
	if totalThreads < 1 {
		totalThreads = 1
	}

	return &Manager{
		totalThreads: totalThreads,
		cpuThreads:   cpus,
		memoryLimit:  memoryThreads,
	}
}

// PoolSize returns the number of workers to start for jobs items.
func (m *Manager) PoolSize(jobs int) int {
	n := m.totalThreads
	if jobs > 0 && jobs < n {
		n = jobs
	}
	return n
}

// TotalThreads returns the pool size.
func (m *Manager) TotalThreads() int {
	return m.totalThreads
}

// Stats returns current resource manager statistics
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		TotalThreads: m.totalThreads,
		CPUThreads:   m.cpuThreads,
		MemoryLimit:  m.memoryLimit,
	}
}

// ManagerStats holds statistics about the resource manager
type ManagerStats struct {
	TotalThreads int
	CPUThreads   int
	MemoryLimit  int
}

func (m *Manager) String() string {
	stats := m.Stats()
	return fmt.Sprintf("ResourceManager[total=%d cpus=%d memory_limit=%d]",
		stats.TotalThreads, stats.CPUThreads, stats.MemoryLimit)
}
