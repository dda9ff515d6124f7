package main

import (
	"sync/atomic"
	"time"
)

// ProbeManager tracks liveness/readiness for the admin /healthz endpoint,
// grounded on infrastructure/service/probes.go's ProbeManager shape.
type ProbeManager struct {
	ready atomic.Bool
	live  atomic.Bool

	startTime    time.Time
	startupGrace time.Duration
}

// NewProbeManager creates a ProbeManager, live immediately and not-ready
// until SetReady(true) is called once startup finishes.
func NewProbeManager(startupGrace time.Duration) *ProbeManager {
	if startupGrace == 0 {
		startupGrace = 10 * time.Second
	}
	pm := &ProbeManager{startTime: time.Now(), startupGrace: startupGrace}
	pm.live.Store(true)
	return pm
}

func (p *ProbeManager) SetReady(ready bool) { p.ready.Store(ready) }
func (p *ProbeManager) IsReady() bool       { return p.ready.Load() }
func (p *ProbeManager) IsLive() bool        { return p.live.Load() }

func (p *ProbeManager) InStartupGrace() bool {
	return time.Since(p.startTime) < p.startupGrace
}
