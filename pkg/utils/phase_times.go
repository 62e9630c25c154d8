package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// PhaseTimes records the duration of the phases of a pause. Sub-task
// workers record concurrently; the coordinator reads the summary after the
// pause. A phase recorded more than once keeps the maximum duration, which
// is the critical-path view for parallel sub-tasks.
type PhaseTimes struct {
	mu     sync.Mutex
	name   string
	order  []string
	phases map[string]time.Duration
	clock  Clock
}

// NewPhaseTimes creates a recorder for a pause with the given name.
func NewPhaseTimes(name string) *PhaseTimes {
	return &PhaseTimes{
		name:   name,
		phases: make(map[string]time.Duration),
		clock:  NewRealClock(),
	}
}

// SetClock replaces the clock; for tests.
func (p *PhaseTimes) SetClock(c Clock) {
	p.clock = c
}

// Record records a phase duration, keeping the maximum across workers.
func (p *PhaseTimes) Record(phase string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	old, seen := p.phases[phase]
	if !seen {
		p.order = append(p.order, phase)
	}
	if d > old {
		p.phases[phase] = d
	}
}

// Time runs fn and records its duration under phase.
func (p *PhaseTimes) Time(phase string, fn func()) time.Duration {
	start := p.clock.Now()
	fn()
	d := p.clock.Since(start)
	p.Record(phase, d)
	return d
}

// Get returns the recorded duration of a phase.
func (p *PhaseTimes) Get(phase string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phases[phase]
}

// Summary returns a formatted listing of all phases in recording order.
func (p *PhaseTimes) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== %s Phase Times ===\n", p.name))
	total := time.Duration(0)
	for _, phase := range p.order {
		d := p.phases[phase]
		total += d
		sb.WriteString(fmt.Sprintf("  %s: %v\n", phase, d))
	}
	sb.WriteString(fmt.Sprintf("Total: %v\n", total))
	return sb.String()
}

// Reset clears all recorded phases.
func (p *PhaseTimes) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = p.order[:0]
	p.phases = make(map[string]time.Duration)
}
