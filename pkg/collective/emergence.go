package collective

import (
	"math"
	"sync"
	"time"

	"github.com/hivemesh/swarmcore/internal/events"
)

// Observation is a single recorded instance of a behavior (spec §4.J).
type Observation struct {
	Value     string
	Timestamp time.Time
}

const maxObservationsPerBehavior = 100

// PatternEmergence buffers recent observations per behavior type and
// emits pattern/temporal events once enough regularity is observed.
type PatternEmergence struct {
	mu           sync.Mutex
	observations map[string][]Observation
	bus          *events.Bus
}

// NewPatternEmergence creates an empty emergence detector.
func NewPatternEmergence(bus *events.Bus) *PatternEmergence {
	return &PatternEmergence{observations: make(map[string][]Observation), bus: bus}
}

func (p *PatternEmergence) emit(name string, data interface{}) {
	if p.bus != nil {
		p.bus.Publish(events.Event{Name: name, Data: data})
	}
}

// Observe records value under behaviorType, trimming to the most
// recent 100 observations, then checks for pattern/temporal emergence.
func (p *PatternEmergence) Observe(behaviorType, value string, ts time.Time) {
	p.mu.Lock()
	obs := append(p.observations[behaviorType], Observation{Value: value, Timestamp: ts})
	if len(obs) > maxObservationsPerBehavior {
		obs = obs[len(obs)-maxObservationsPerBehavior:]
	}
	p.observations[behaviorType] = obs
	snapshot := append([]Observation(nil), obs...)
	p.mu.Unlock()

	p.checkPatternEmergence(behaviorType, snapshot)
	p.checkTemporalPattern(behaviorType, snapshot)
}

// checkPatternEmergence emits pattern.emerged once the modal observed
// value has occurred at least 3 times, with confidence = count/total.
func (p *PatternEmergence) checkPatternEmergence(behaviorType string, obs []Observation) {
	counts := make(map[string]int)
	for _, o := range obs {
		counts[o.Value]++
	}
	var modalValue string
	modalCount := 0
	for v, c := range counts {
		if c > modalCount {
			modalCount = c
			modalValue = v
		}
	}
	if modalCount >= 3 {
		p.emit("pattern.emerged", struct {
			BehaviorType string
			Value        string
			Confidence   float64
		}{behaviorType, modalValue, float64(modalCount) / float64(len(obs))})
	}
}

// checkTemporalPattern emits temporal.pattern once there are at least 3
// observations, with avgInterval and a regularity score derived from
// the coefficient of variation of inter-observation intervals.
func (p *PatternEmergence) checkTemporalPattern(behaviorType string, obs []Observation) {
	if len(obs) < 3 {
		return
	}
	intervals := make([]float64, 0, len(obs)-1)
	for i := 1; i < len(obs); i++ {
		intervals = append(intervals, obs[i].Timestamp.Sub(obs[i-1].Timestamp).Seconds())
	}
	avg := meanOf(intervals)
	if avg <= 0 {
		return
	}
	sd := stdDevOf(intervals, avg)
	regularity := math.Max(0, math.Min(1, 1-sd/avg))
	p.emit("temporal.pattern", struct {
		BehaviorType string
		AvgInterval  float64
		Regularity   float64
	}{behaviorType, avg, regularity})
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
