// Package pprof collects runtime profiles of the simulator itself, so the
// barrier and refinement paths can be examined under load.
package pprof

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"
)

// ProfileType selects a runtime profile.
type ProfileType string

// Supported profile types.
const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileGoroutine ProfileType = "goroutine"
	ProfileBlock     ProfileType = "block"
	ProfileMutex     ProfileType = "mutex"
)

// Config configures the collector.
type Config struct {
	// Dir is the output directory for profile files.
	Dir string
	// Profiles lists the profiles written at Stop (CPU runs for the whole
	// collection window).
	Profiles []ProfileType
	// MutexFraction enables mutex profiling when > 0.
	MutexFraction int
	// BlockRate enables block profiling when > 0.
	BlockRate int
}

// DefaultConfig collects CPU and heap profiles into ./profiles.
func DefaultConfig() *Config {
	return &Config{
		Dir:      "./profiles",
		Profiles: []ProfileType{ProfileCPU, ProfileHeap},
	}
}

// Collector writes runtime profiles for one collection window.
type Collector struct {
	cfg     *Config
	mu      sync.Mutex
	cpuFile *os.File
	started time.Time
}

// NewCollector creates a collector, creating the output directory.
func NewCollector(cfg *Config) (*Collector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	return &Collector{cfg: cfg}, nil
}

func (c *Collector) hasProfile(pt ProfileType) bool {
	for _, p := range c.cfg.Profiles {
		if p == pt {
			return true
		}
	}
	return false
}

func (c *Collector) path(pt ProfileType) string {
	stamp := c.started.Format("20060102T150405")
	return filepath.Join(c.cfg.Dir, fmt.Sprintf("%s-%s.pb.gz", pt, stamp))
}

// Start begins the collection window.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = time.Now()

	if c.cfg.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(c.cfg.MutexFraction)
	}
	if c.cfg.BlockRate > 0 {
		runtime.SetBlockProfileRate(c.cfg.BlockRate)
	}

	if c.hasProfile(ProfileCPU) {
		f, err := os.Create(c.path(ProfileCPU))
		if err != nil {
			return fmt.Errorf("failed to create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		c.cpuFile = f
	}
	return nil
}

// Stop ends the window and writes the remaining profiles. Returns the
// paths written.
func (c *Collector) Stop() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var paths []string
	if c.cpuFile != nil {
		pprof.StopCPUProfile()
		paths = append(paths, c.cpuFile.Name())
		c.cpuFile.Close()
		c.cpuFile = nil
	}

	for _, pt := range c.cfg.Profiles {
		if pt == ProfileCPU {
			continue
		}
		name := string(pt)
		prof := pprof.Lookup(name)
		if prof == nil {
			return paths, fmt.Errorf("unknown profile type: %s", name)
		}
		f, err := os.Create(c.path(pt))
		if err != nil {
			return paths, fmt.Errorf("failed to create %s profile: %w", name, err)
		}
		if pt == ProfileHeap {
			runtime.GC()
		}
		err = prof.WriteTo(f, 0)
		f.Close()
		if err != nil {
			return paths, fmt.Errorf("failed to write %s profile: %w", name, err)
		}
		paths = append(paths, f.Name())
	}
	return paths, nil
}
