package aggregate

import "github.com/lumenrwa/pricefeed/internal/domain"

// DefaultWeightKey is the registry entry used when a source has no
// configured weight.
const DefaultWeightKey = "default"

// WeightRegistry maps source identifiers to trust weights. It is built
// once at startup and read-only afterwards; reconfiguration is a
// process restart.
type WeightRegistry struct {
	weights       map[string]float64
	defaultWeight float64
}

// NewWeightRegistry builds a registry from the given map. A "default"
// entry overrides the 1.0 fallback. Negative weights are clamped to 0.
func NewWeightRegistry(weights map[string]float64) *WeightRegistry {
	r := &WeightRegistry{
		weights:       make(map[string]float64, len(weights)),
		defaultWeight: 1.0,
	}
	for source, w := range weights {
		if w < 0 {
			w = 0
		}
		if source == DefaultWeightKey {
			r.defaultWeight = w
			continue
		}
		r.weights[source] = w
	}
	return r
}

// WeightOf returns the configured weight for a source, or the default.
func (r *WeightRegistry) WeightOf(source domain.Source) float64 {
	if w, ok := r.weights[string(source)]; ok {
		return w
	}
	return r.defaultWeight
}
