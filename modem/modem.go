// Package modem implements the amplitude-shift-keying modem variants used by
// the BER simulator: symbol mapping, hard demodulation, and soft (LLR)
// demodulation for a decoder that may not exist yet.
package modem

import (
	"math"

	"github.com/cwsl/bersim/berrors"
)

// Modem maps bit groups to real-valued amplitudes and back. Implementations
// must carry no mutable state: a single Modem instance is shared, read-only,
// across every worker goroutine in the engine.
type Modem interface {
	// Modulate consumes the first BitsPerSymbol() entries of bits and
	// returns the transmitted amplitude.
	Modulate(bits []int) float64
	// Demodulate fills the first BitsPerSymbol() entries of out with a hard
	// bit decision for the received sample r.
	Demodulate(r float64, out []int)
	// DemodulateLLR fills the first BitsPerSymbol() entries of out with
	// per-bit log-likelihood ratios (positive ⇒ bit 0 more likely) given
	// noise variance sigma2.
	DemodulateLLR(r, sigma2 float64, out []float64)
	BitsPerSymbol() int
	SymbolEnergy() float64
}

// MaxBitsPerSymbol bounds the scratch arrays workers reserve per symbol
// group; every modem in this package uses at most this many bits per symbol.
const MaxBitsPerSymbol = 8

// Ask2 is 2-ASK: one bit per symbol, amplitudes {-1, +1}, symbol energy 1.
type Ask2 struct{}

func (Ask2) BitsPerSymbol() int    { return 1 }
func (Ask2) SymbolEnergy() float64 { return 1.0 }

func (Ask2) Modulate(bits []int) float64 {
	if bits[0] != 0 {
		return -1.0
	}
	return 1.0
}

func (Ask2) Demodulate(r float64, out []int) {
	if r < 0 {
		out[0] = 1
	} else {
		out[0] = 0
	}
}

func (Ask2) DemodulateLLR(r, sigma2 float64, out []float64) {
	out[0] = 2 * r / sigma2
}

// Mapping selects the bits-to-symbol table used by 4-ASK.
type Mapping int

const (
	Gray Mapping = iota
	Natural
)

func (m Mapping) String() string {
	if m == Gray {
		return "gray"
	}
	return "natural"
}

// Ask4 is 4-ASK: two bits per symbol, amplitudes {-3,-1,+1,+3}, symbol
// energy 5.
type Ask4 struct {
	Mapping Mapping
}

func (Ask4) BitsPerSymbol() int    { return 2 }
func (Ask4) SymbolEnergy() float64 { return 5.0 }

func (a Ask4) Modulate(bits []int) float64 {
	val := (bits[0] << 1) | bits[1]
	if a.Mapping == Gray {
		switch val {
		case 0:
			return -3
		case 1:
			return -1
		case 3:
			return 1
		case 2:
			return 3
		}
	} else {
		switch val {
		case 0:
			return -3
		case 1:
			return -1
		case 2:
			return 1
		case 3:
			return 3
		}
	}
	return 0
}

// symbolIndex recovers the 4-ASK symbol index (0:-3, 1:-1, 2:+1, 3:+3) for a
// received sample using the fixed thresholds at -2, 0, +2.
func symbolIndex(r float64) int {
	switch {
	case r < -2:
		return 0
	case r < 0:
		return 1
	case r < 2:
		return 2
	default:
		return 3
	}
}

func (a Ask4) Demodulate(r float64, out []int) {
	sym := symbolIndex(r)
	if a.Mapping == Gray {
		// 00->-3 01->-1 11->+1 10->+3. Symbol 2/3 are swapped relative to
		// the Natural table below; this asymmetry is intentional.
		switch sym {
		case 0:
			out[0], out[1] = 0, 0
		case 1:
			out[0], out[1] = 0, 1
		case 2:
			out[0], out[1] = 1, 1
		case 3:
			out[0], out[1] = 1, 0
		}
	} else {
		switch sym {
		case 0:
			out[0], out[1] = 0, 0
		case 1:
			out[0], out[1] = 0, 1
		case 2:
			out[0], out[1] = 1, 0
		case 3:
			out[0], out[1] = 1, 1
		}
	}
}

func (a Ask4) DemodulateLLR(r, sigma2 float64, out []float64) {
	syms := [4]float64{-3, -1, 1, 3}
	var p [4]float64
	for i, s := range syms {
		d := r - s
		p[i] = math.Exp(-(d * d) / (2 * sigma2))
	}
	// MSB partition is shared by both mappings: {-3,-1} vs {+1,+3}.
	out[0] = math.Log((p[0] + p[1]) / (p[2] + p[3]))
	if a.Mapping == Gray {
		// LSB partition, Gray: {-3,+3} vs {-1,+1}.
		out[1] = math.Log((p[0] + p[3]) / (p[1] + p[2]))
	} else {
		// LSB partition, Natural: {-3,+1} vs {-1,+3}.
		out[1] = math.Log((p[0] + p[2]) / (p[1] + p[3]))
	}
}

// New builds a Modem from its configuration selector string. Callers are
// expected to have already lower-cased and trimmed name.
func New(name string) (Modem, error) {
	switch name {
	case "ask2":
		return Ask2{}, nil
	case "ask4", "ask4_gray":
		return Ask4{Mapping: Gray}, nil
	case "ask4_natural", "ask4_binary", "ask4_nogray":
		return Ask4{Mapping: Natural}, nil
	default:
		return nil, &berrors.UnknownSelector{Kind: "modem", Name: name}
	}
}
