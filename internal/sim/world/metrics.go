package world

import "sync/atomic"

type op int

const (
	opPlace op = iota
	opReposition
	opTransfer
	opDestroy
	opSetOwner
	opCustomAware

	opCount
)

var opNames = [opCount]string{"place", "reposition", "transfer", "destroy", "set_owner", "custom_aware"}

type worldStats struct {
	results [opCount][resultCount]atomic.Uint64
}

func (s *worldStats) record(o op, r Result) Result {
	if r >= 0 && r < resultCount {
		s.results[o][r].Add(1)
	}
	return r
}

// WorldMetrics is a point-in-time view of the registry, read by HTTP handlers and tests.
type WorldMetrics struct {
	Objects    int `json:"objects"`
	TopLevel   int `json:"top_level"`
	Contained  int `json:"contained"`
	Sessions   int `json:"sessions"`
	AwarePairs int `json:"aware_pairs"`

	Indexed   map[string]int     `json:"indexed"`
	MaxBubble map[string]float64 `json:"max_bubble"`

	// Ops counts completed operations by op name and result.
	Ops map[string]map[string]uint64 `json:"ops"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	m := WorldMetrics{
		Indexed:   map[string]int{},
		MaxBubble: map[string]float64{},
		Ops:       map[string]map[string]uint64{},
	}
	w.mu.RLock()
	m.Objects = len(w.objects)
	m.Sessions = len(w.sessions)
	pairs := 0
	for _, o := range w.objects {
		if o.parent == 0 {
			m.TopLevel++
		} else {
			m.Contained++
		}
		pairs += o.aware.Size()
	}
	m.AwarePairs = pairs / 2
	for k, v := range w.maxBubble {
		m.MaxBubble[k] = v
	}
	w.mu.RUnlock()

	for _, id := range w.cfg.Terrains.IDs() {
		if n := w.index.Len(id); n > 0 {
			m.Indexed[id] = n
		}
	}
	for o := op(0); o < opCount; o++ {
		byResult := map[string]uint64{}
		for r := Result(0); r < resultCount; r++ {
			if n := w.stats.results[o][r].Load(); n > 0 {
				byResult[r.String()] = n
			}
		}
		if len(byResult) > 0 {
			m.Ops[opNames[o]] = byResult
		}
	}
	return m
}
