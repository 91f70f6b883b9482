package main

import (
	"sync"
	"time"

	"github.com/freqmon/pkg/monitor"
)

const historySize = 512

// Server state
type ServerState struct {
	mu sync.RWMutex

	// Session
	Mode      string
	Source    string // instrument address or "simulator"
	StartedAt time.Time

	// Envelope of the running loop
	FreqMinMHz  float64
	FreqMaxMHz  float64
	VoltMin     float64
	VoltMax     float64
	Resolution  float64
	RangePolicy string

	// Live results
	Last    *monitor.Update
	History []monitor.Update // most recent last, at most historySize
	stats   func() monitor.Stats
}

// MonitorSnapshot is the JSON view of the running monitor.
type MonitorSnapshot struct {
	Mode      string          `json:"mode"`
	Source    string          `json:"source"`
	StartedAt string          `json:"started_at,omitempty"`
	Stats     *monitor.Stats  `json:"stats,omitempty"`
	Last      *monitor.Update `json:"last,omitempty"`
	Envelope  Envelope        `json:"envelope"`
}

type Envelope struct {
	FreqMinMHz    float64 `json:"freq_min_mhz"`
	FreqMaxMHz    float64 `json:"freq_max_mhz"`
	VoltMin       float64 `json:"volt_min"`
	VoltMax       float64 `json:"volt_max"`
	ResolutionMHz float64 `json:"resolution_mhz"`
	RangePolicy   string  `json:"range_policy"`
}

var serverState = &ServerState{Mode: "idle"}

// attach points the state at a loop about to run.
func (s *ServerState) attach(loop *monitor.Loop, source string, env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mode = "monitor"
	s.Source = source
	s.StartedAt = time.Now()
	s.FreqMinMHz, s.FreqMaxMHz = env.FreqMinMHz, env.FreqMaxMHz
	s.VoltMin, s.VoltMax = env.VoltMin, env.VoltMax
	s.Resolution = env.ResolutionMHz
	s.RangePolicy = env.RangePolicy
	s.Last = nil
	s.History = s.History[:0]
	s.stats = loop.Stats
}

// record stores one cycle result.
func (s *ServerState) record(u monitor.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Last = &u
	if len(s.History) == historySize {
		copy(s.History, s.History[1:])
		s.History = s.History[:historySize-1]
	}
	s.History = append(s.History, u)
}

func (s *ServerState) snapshot() MonitorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := MonitorSnapshot{
		Mode:   s.Mode,
		Source: s.Source,
		Last:   s.Last,
		Envelope: Envelope{
			FreqMinMHz:    s.FreqMinMHz,
			FreqMaxMHz:    s.FreqMaxMHz,
			VoltMin:       s.VoltMin,
			VoltMax:       s.VoltMax,
			ResolutionMHz: s.Resolution,
			RangePolicy:   s.RangePolicy,
		},
	}
	if !s.StartedAt.IsZero() {
		snap.StartedAt = s.StartedAt.UTC().Format(time.RFC3339)
	}
	if s.stats != nil {
		st := s.stats()
		snap.Stats = &st
	}
	return snap
}

func (s *ServerState) history() []monitor.Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]monitor.Update(nil), s.History...)
}
