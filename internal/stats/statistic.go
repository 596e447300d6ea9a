// Package stats aggregates combat events into per-player rolling statistics.
package stats

import "time"

// Window is the span of the rolling realtime window.
const Window = time.Second

// Breakdown splits a cumulative total by hit kind.
type Breakdown struct {
	Normal    int64 `json:"normal"`
	Critical  int64 `json:"critical"`
	Lucky     int64 `json:"lucky"`
	CritLucky int64 `json:"crit_lucky"`
	HpLessen  int64 `json:"hpLessen"`
	Total     int64 `json:"total"`
}

// Counts tallies events. A crit-lucky hit counts toward both Critical and Lucky.
type Counts struct {
	Normal   int64 `json:"normal"`
	Critical int64 `json:"critical"`
	Lucky    int64 `json:"lucky"`
	Total    int64 `json:"total"`
}

func (c Counts) Add(o Counts) Counts {
	return Counts{
		Normal:   c.Normal + o.Normal,
		Critical: c.Critical + o.Critical,
		Lucky:    c.Lucky + o.Lucky,
		Total:    c.Total + o.Total,
	}
}

type sample struct {
	at     time.Time
	amount int64
}

// Statistic is one damage or healing ledger.
type Statistic struct {
	Totals      Breakdown
	Counts      Counts
	Realtime    int64
	RealtimeMax int64

	first    time.Time
	last     time.Time
	window   []sample
	windowed bool
}

// NewStatistic returns a ledger with a realtime window.
func NewStatistic() *Statistic {
	return &Statistic{windowed: true}
}

func newSkillStatistic() *Statistic {
	return &Statistic{}
}

// AddRecord folds one event into the ledger.
func (s *Statistic) AddRecord(now time.Time, amount int64, crit, lucky bool, hpLessen int64) {
	switch {
	case crit && lucky:
		s.Totals.CritLucky += amount
	case crit:
		s.Totals.Critical += amount
	case lucky:
		s.Totals.Lucky += amount
	default:
		s.Totals.Normal += amount
	}
	s.Totals.Total += amount
	s.Totals.HpLessen += hpLessen

	if crit {
		s.Counts.Critical++
	}
	if lucky {
		s.Counts.Lucky++
	}
	if !crit && !lucky {
		s.Counts.Normal++
	}
	s.Counts.Total++

	if s.windowed {
		s.window = append(s.window, sample{at: now, amount: amount})
	}
	if s.first.IsZero() {
		s.first = now
	}
	s.last = now
}

// Tick evicts samples older than Window and recomputes the realtime value and its peak.
func (s *Statistic) Tick(now time.Time) {
	if !s.windowed {
		return
	}
	kept := s.window[:0]
	var sum int64
	for _, e := range s.window {
		if now.Sub(e.at) > Window {
			continue
		}
		kept = append(kept, e)
		sum += e.amount
	}
	for i := len(kept); i < len(s.window); i++ {
		s.window[i] = sample{}
	}
	s.window = kept

	s.Realtime = sum
	if sum > s.RealtimeMax {
		s.RealtimeMax = sum
	}
}

// PerSecond is the average rate between the first and last event.
func (s *Statistic) PerSecond() float64 {
	if s.first.IsZero() || !s.last.After(s.first) {
		return 0
	}
	return float64(s.Totals.Total) / s.last.Sub(s.first).Seconds()
}

// Reset zeroes the ledger but keeps its windowing mode.
func (s *Statistic) Reset() {
	*s = Statistic{windowed: s.windowed}
}

// WindowLen is the number of samples currently in the realtime window.
func (s *Statistic) WindowLen() int {
	return len(s.window)
}
