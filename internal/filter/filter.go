// Package filter rejects detection samples that jump too far from the last
// accepted one. Face detectors emit single-frame false positives; a
// displacement gate drops them without a full tracking filter.
package filter

import (
	"image"

	"gonum.org/v1/gonum/floats"
)

// DefaultJitterThreshold is the maximum displacement in pixels between two
// consecutive accepted centres.
const DefaultJitterThreshold = 25.0

// Verdict classifies a sample.
type Verdict int

const (
	Accepted Verdict = iota
	Missing          // detector returned nothing
	Jitter           // displacement above threshold
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Missing:
		return "missing"
	case Jitter:
		return "jitter"
	default:
		return "unknown"
	}
}

// Stats counts verdicts since construction or the last Reset.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Missing  uint64 `json:"missing"`
	Jitter   uint64 `json:"jitter"`
}

// Filter holds the last accepted centre. Not safe for concurrent use; the
// control loop owns it.
type Filter struct {
	threshold float64
	last      *image.Point
	stats     Stats
}

// New returns a filter with the given threshold; non-positive selects
// DefaultJitterThreshold.
func New(threshold float64) *Filter {
	if threshold <= 0 {
		threshold = DefaultJitterThreshold
	}
	return &Filter{threshold: threshold}
}

// Threshold returns the configured gate.
func (f *Filter) Threshold() float64 { return f.threshold }

// Accept reports whether center is a usable sample.
func (f *Filter) Accept(center *image.Point) bool {
	return f.Classify(center) == Accepted
}

// Classify is Accept with the reason. The history is only updated for
// accepted samples.
func (f *Filter) Classify(center *image.Point) Verdict {
	if center == nil {
		f.stats.Missing++
		return Missing
	}
	if f.last != nil && Distance(*f.last, *center) > f.threshold {
		f.stats.Jitter++
		return Jitter
	}
	c := *center
	f.last = &c
	f.stats.Accepted++
	return Accepted
}

// Last returns the last accepted centre, if any.
func (f *Filter) Last() (image.Point, bool) {
	if f.last == nil {
		return image.Point{}, false
	}
	return *f.last, true
}

// Reset forgets the history so the next sample is accepted unconditionally.
func (f *Filter) Reset() {
	f.last = nil
	f.stats = Stats{}
}

// Stats returns the verdict counters.
func (f *Filter) Stats() Stats { return f.stats }

// Distance is the Euclidean pixel distance between a and b.
func Distance(a, b image.Point) float64 {
	return floats.Distance(
		[]float64{float64(a.X), float64(a.Y)},
		[]float64{float64(b.X), float64(b.Y)},
		2,
	)
}
