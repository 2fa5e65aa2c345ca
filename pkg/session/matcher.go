package session

import (
	"github.com/MrCodeEU/facegate/pkg/recognition"
	"github.com/MrCodeEU/facegate/pkg/storage"
)

// DistanceFunc measures how far apart two descriptors are.
type DistanceFunc func(a, b recognition.Descriptor) float64

// Matcher applies a certainty threshold to descriptor distances.
type Matcher struct {
	Distance  DistanceFunc
	Threshold float64
}

// NewMatcher returns a Matcher using Euclidean distance.
func NewMatcher(threshold float64) Matcher {
	return Matcher{Distance: recognition.EuclideanDistance, Threshold: threshold}
}

// Match returns the first template strictly closer than the threshold.
func (m Matcher) Match(candidate recognition.Descriptor, set *storage.TemplateSet) (storage.Template, float64, bool) {
	if set == nil {
		return storage.Template{}, 0, false
	}
	distance := m.Distance
	if distance == nil {
		distance = recognition.EuclideanDistance
	}
	for _, t := range set.Templates {
		if d := distance(candidate, t.Vector); d < m.Threshold {
			return t, d, true
		}
	}
	return storage.Template{}, 0, false
}

// Identify reports whether any template in set lies strictly closer to
// candidate than threshold.
func Identify(candidate recognition.Descriptor, set *storage.TemplateSet, threshold float64) bool {
	_, _, ok := NewMatcher(threshold).Match(candidate, set)
	return ok
}
