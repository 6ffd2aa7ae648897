package pricegen

import (
	"math"
	"math/rand/v2"
	"time"
)

// Epsilon is the floor for any generated price.
const Epsilon = 1e-9

const (
	DefaultTickBias       = 0.495
	DefaultTickVolatility = 0.003
)

// Source is the random collaborator behind every synthetic value. *rand.Rand
// satisfies it.
type Source interface {
	Float64() float64
}

// NewSource returns a seeded PCG source. A zero seed is replaced by the
// current time.
func NewSource(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

type Generator interface {
	Next(prev float64) float64
}

// RandomWalk applies prev * (1 + (U - Bias) * Volatility). A Bias just under
// 0.5 gives a mild upward drift.
type RandomWalk struct {
	Source     Source
	Bias       float64
	Volatility float64
}

func NewRandomWalk(src Source, bias, volatility float64) *RandomWalk {
	return &RandomWalk{Source: src, Bias: bias, Volatility: volatility}
}

func (w *RandomWalk) Next(prev float64) float64 {
	return step(w.Source, prev, w.Bias, w.Volatility)
}

func step(src Source, prev, bias, volatility float64) float64 {
	return Clamp(prev * (1 + (src.Float64()-bias)*volatility))
}

// Clamp keeps p strictly positive and finite.
func Clamp(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return Epsilon
	}
	return p
}

// GeneratorFunc adapts a plain function, handy for deterministic runs.
type GeneratorFunc func(prev float64) float64

func (f GeneratorFunc) Next(prev float64) float64 {
	return Clamp(f(prev))
}

// Step returns a generator that moves the price by a fixed delta each tick.
func Step(delta float64) Generator {
	return GeneratorFunc(func(prev float64) float64 { return prev + delta })
}
