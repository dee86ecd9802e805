// Package kingdom holds the ruler's realm: the four stats, the per-option
// effect table, and the allocator that folds a weighted policy into the state.
package kingdom

import (
	"fmt"
	"strings"
)

// Stat identifies one of the four kingdom statistics.
type Stat uint8

const (
	Treasury Stat = iota
	Stability
	Popularity
	Army

	statCount
)

// Stat bounds. Every stored value is clamped into [MinStat, MaxStat].
const (
	MinStat = 0
	MaxStat = 100
)

// AllStats lists the stats in display order.
var AllStats = [statCount]Stat{Treasury, Stability, Popularity, Army}

var statNames = [statCount]string{"treasury", "stability", "popularity", "army"}

// String returns the lower-case stat key.
func (s Stat) String() string {
	if s >= statCount {
		return fmt.Sprintf("stat(%d)", uint8(s))
	}
	return statNames[s]
}

// Title returns the capitalised display name ("Treasury").
func (s Stat) Title() string {
	name := s.String()
	return strings.ToUpper(name[:1]) + name[1:]
}

// ParseStat resolves a stat key, case-insensitively. Unknown keys are an error.
func ParseStat(name string) (Stat, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, n := range statNames {
		if n == key {
			return Stat(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stat %q", name)
}

// Stats is a fixed-field record with one integer per Stat. It carries
// absolute values in KingdomState and signed deltas in effect vectors.
type Stats struct {
	Treasury   int `json:"treasury" yaml:"treasury"`
	Stability  int `json:"stability" yaml:"stability"`
	Popularity int `json:"popularity" yaml:"popularity"`
	Army       int `json:"army" yaml:"army"`
}

// Get returns the value for one stat.
func (s Stats) Get(st Stat) int {
	switch st {
	case Treasury:
		return s.Treasury
	case Stability:
		return s.Stability
	case Popularity:
		return s.Popularity
	case Army:
		return s.Army
	}
	return 0
}

// Set writes the value for one stat.
func (s *Stats) Set(st Stat, v int) {
	switch st {
	case Treasury:
		s.Treasury = v
	case Stability:
		s.Stability = v
	case Popularity:
		s.Popularity = v
	case Army:
		s.Army = v
	}
}

// StatsFromMap builds a Stats from string keys, rejecting unknown keys.
// Stats missing from m are zero.
func StatsFromMap(m map[string]int) (Stats, error) {
	var s Stats
	for k, v := range m {
		st, err := ParseStat(k)
		if err != nil {
			return Stats{}, err
		}
		s.Set(st, v)
	}
	return s, nil
}

// FormatEffects renders a delta vector as "Treasury: -10, Stability: +2, ...".
func (s Stats) FormatEffects() string {
	parts := make([]string, 0, statCount)
	for _, st := range AllStats {
		parts = append(parts, fmt.Sprintf("%s: %+d", st.Title(), s.Get(st)))
	}
	return strings.Join(parts, ", ")
}

// Average returns the mean of the four stats.
func (s Stats) Average() float64 {
	return float64(s.Treasury+s.Stability+s.Popularity+s.Army) / float64(statCount)
}

// Clamp bounds v into [MinStat, MaxStat].
func Clamp(v int) int {
	if v < MinStat {
		return MinStat
	}
	if v > MaxStat {
		return MaxStat
	}
	return v
}

// KingdomState is the realm a ruler governs: four stats plus the turn counter.
// Only Apply mutates it during play.
type KingdomState struct {
	Stats
	Turn int `json:"turn"`
}

// DefaultStartingStats are the stats a new reign begins with.
var DefaultStartingStats = Stats{Treasury: 70, Stability: 70, Popularity: 60, Army: 65}

// NewKingdomState creates a state at turn 0 with the given stats clamped into range.
func NewKingdomState(start Stats) *KingdomState {
	ks := &KingdomState{}
	for _, st := range AllStats {
		ks.Set(st, Clamp(start.Get(st)))
	}
	return ks
}

// Health describes how well the kingdom (or one stat) is doing.
type Health string

const (
	HealthThriving   Health = "thriving"
	HealthStable     Health = "stable"
	HealthStruggling Health = "struggling"
	HealthCrisis     Health = "crisis"
)

// HealthOf maps a 0–100 value onto a band.
func HealthOf(v float64) Health {
	switch {
	case v >= 80:
		return HealthThriving
	case v >= 60:
		return HealthStable
	case v >= 40:
		return HealthStruggling
	default:
		return HealthCrisis
	}
}
