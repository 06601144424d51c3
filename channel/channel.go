// Package channel implements the propagation models the simulation engine
// drives each modulated symbol through: coherent AWGN and flat Rayleigh
// fading with independent additive noise.
package channel

import (
	"math"
	"math/rand"

	"github.com/cwsl/bersim/berrors"
)

// Output is the pair the engine equalizes: the observed sample y and the
// channel's effective amplitude gain. Dividing y by gain (when gain > 0)
// yields a coherent-equalized observation with effective noise variance
// sigma^2/gain^2.
type Output struct {
	Y    float64
	Gain float64
}

// Channel applies per-symbol gain and additive noise. Implementations must
// be total (no error return) and must carry no mutable state: a single
// instance is shared, read-only, across every worker goroutine.
type Channel interface {
	Transmit(s float64, rng *rand.Rand, sigma float64) Output
}

// AWGN adds zero-mean Gaussian noise of variance sigma^2 and reports unit
// gain.
type AWGN struct{}

func (AWGN) Transmit(s float64, rng *rand.Rand, sigma float64) Output {
	n := rng.NormFloat64() * sigma
	return Output{Y: s + n, Gain: 1.0}
}

// Rayleigh is a flat, real-valued one-tap fading channel: gain h = |N(0,1)|,
// with independent additive noise of variance sigma^2 applied before
// scaling by h, i.e. y = h*s + n. Carrying the noise draw here means
// r_eq = y/h = s + n/h has variance sigma^2/h^2, which is exactly what the
// engine's coherent-equalization step computes and what every downstream
// demodulator assumes.
type Rayleigh struct{}

func (Rayleigh) Transmit(s float64, rng *rand.Rand, sigma float64) Output {
	h := math.Abs(rng.NormFloat64())
	n := rng.NormFloat64() * sigma
	return Output{Y: h*s + n, Gain: h}
}

// New builds a Channel from its configuration selector string. Callers are
// expected to have already lower-cased and trimmed name.
func New(name string) (Channel, error) {
	switch name {
	case "awgn":
		return AWGN{}, nil
	case "rayleigh":
		return Rayleigh{}, nil
	default:
		return nil, &berrors.UnknownSelector{Kind: "channel", Name: name}
	}
}
