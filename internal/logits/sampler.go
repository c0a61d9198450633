// Package logits turns a vector of next-token scores into a token id.
package logits

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"
)

// SamplerConfig configures a Sampler. Zero TopK and TopP disable those
// filters.
type SamplerConfig struct {
	Seed        uint64
	Temperature float32
	TopK        int
	TopP        float32
}

type candidate struct {
	id    int
	logit float32
	prob  float64
}

// Sampler draws token ids from logits. It keeps scratch buffers between calls
// and is not safe for concurrent use.
type Sampler struct {
	rng   *rand.Rand
	cfg   SamplerConfig
	cands []candidate
}

func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	return &Sampler{
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		cfg: cfg,
	}
}

// SetTemperature changes the temperature for subsequent samples. Values at
// or below zero select greedy decoding.
func (s *Sampler) SetTemperature(t float32) {
	s.cfg.Temperature = t
}

// Sample returns the chosen token id. With temperature <= 0 it is the
// argmax of logits.
func (s *Sampler) Sample(logits []float32) uint64 {
	if len(logits) == 0 {
		return 0
	}
	if s.cfg.Temperature <= 0 || s.cfg.TopK == 1 {
		return uint64(Argmax(logits))
	}

	s.cands = s.cands[:0]
	for i, l := range logits {
		s.cands = append(s.cands, candidate{id: i, logit: l / s.cfg.Temperature})
	}
	slices.SortFunc(s.cands, func(a, b candidate) int {
		if c := cmp.Compare(b.logit, a.logit); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	cands := s.cands
	if s.cfg.TopK > 0 && s.cfg.TopK < len(cands) {
		cands = cands[:s.cfg.TopK]
	}

	// Softmax relative to the best logit.
	best := cands[0].logit
	var sum float64
	for i := range cands {
		cands[i].prob = math.Exp(float64(cands[i].logit - best))
		sum += cands[i].prob
	}
	for i := range cands {
		cands[i].prob /= sum
	}

	if s.cfg.TopP < 1 {
		var cum float64
		for i := range cands {
			cum += cands[i].prob
			if cum >= float64(s.cfg.TopP) {
				cands = cands[:i+1]
				sum = cum
				break
			}
		}
	} else {
		sum = 1
	}

	r := s.rng.Float64() * sum
	var cum float64
	for _, c := range cands {
		cum += c.prob
		if r < cum {
			return uint64(c.id)
		}
	}
	return uint64(cands[len(cands)-1].id)
}

// Argmax returns the index of the largest value, preferring the lowest index
// on ties. It returns 0 for an empty slice.
func Argmax(x []float32) int {
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}
