// Package coder implements the error-control coders the BER simulator
// drives bits through: a rate-1 identity pass-through and a rate-1/2,
// constraint-length-7 convolutional code with a hard-decision Viterbi
// decoder built on a shift-register encoder and a branch-table trellis.
package coder

import "github.com/cwsl/bersim/berrors"

// Coder encodes information bits into coded bits and decodes them back.
// Implementations must carry no mutable state: a single instance is shared,
// read-only, across every worker goroutine in the engine.
type Coder interface {
	Encode(u []int) []int
	Decode(cHat []int) []int
	DecodeSoft(llr []float64) []int
	Rate() float64
	SupportsSoft() bool
}

// Uncoded is the rate-1 identity coder.
type Uncoded struct{}

func (Uncoded) Rate() float64      { return 1.0 }
func (Uncoded) SupportsSoft() bool { return false }

func (Uncoded) Encode(u []int) []int {
	c := make([]int, len(u))
	copy(c, u)
	return c
}

func (Uncoded) Decode(cHat []int) []int {
	u := make([]int, len(cHat))
	copy(u, cHat)
	return u
}

func (Uncoded) DecodeSoft(llr []float64) []int { return nil }

// Convolutional K=7, R=1/2 generators in octal: g0=133, g1=171.
const (
	g0         uint32 = 0b1011011
	g1         uint32 = 0b1111001
	memory            = 6 // M
	numStates         = 1 << memory
	srMask            = (1 << (memory + 1)) - 1
	infMetric         = 1 << 30
)

// parity7 returns the parity (XOR of all set bits) of the low 7 bits of x.
func parity7(x uint32) int {
	x ^= x >> 4
	x ^= x >> 2
	x ^= x >> 1
	return int(x & 1)
}

// ConvK7R12 is the rate-1/2, constraint-length-7, zero-terminated
// convolutional code described in §4.3.
type ConvK7R12 struct{}

func (ConvK7R12) Rate() float64      { return 0.5 }
func (ConvK7R12) SupportsSoft() bool { return false }

func (ConvK7R12) Encode(u []int) []int {
	c := make([]int, 0, 2*(len(u)+memory))
	var sr uint32
	push := func(bit int) {
		sr = ((sr << 1) | uint32(bit&1)) & srMask
		v0 := parity7(sr & g0)
		v1 := parity7(sr & g1)
		c = append(c, v0, v1)
	}
	for _, b := range u {
		push(b)
	}
	for i := 0; i < memory; i++ {
		push(0)
	}
	return c
}

type trans struct {
	next int
	out  int // 2-bit reference output, v0 in bit 1, v1 in bit 0
}

// trellis precomputes, for every state and input bit, the next state and
// the 2-bit reference channel output.
func trellis() (t0, t1 [numStates]trans) {
	for s := 0; s < numStates; s++ {
		for _, b := range [2]int{0, 1} {
			sr := ((uint32(s) << 1) | uint32(b)) & srMask
			v0 := parity7(sr & g0)
			v1 := parity7(sr & g1)
			tr := trans{next: int(sr & (numStates - 1)), out: (v0 << 1) | v1}
			if b == 0 {
				t0[s] = tr
			} else {
				t1[s] = tr
			}
		}
	}
	return
}

// Decode runs the hard-decision Viterbi algorithm described in §4.3: a
// 64-state trellis anchored at state 0, relaxed over Hamming distance to
// the received 2-bit symbols, traced back unconditionally from state 0
// (the zero-terminated code's guaranteed final state).
func (ConvK7R12) Decode(cHat []int) []int {
	nSym := len(cHat) / 2
	if nSym == 0 {
		return nil
	}

	t0, t1 := trellis()

	pmPrev := make([]int, numStates)
	pmCurr := make([]int, numStates)
	for s := 1; s < numStates; s++ {
		pmPrev[s] = infMetric
	}

	pred := make([]int8, nSym*numStates)
	for i := range pred {
		pred[i] = -1
	}
	dec := make([]uint8, nSym*numStates)

	for t := 0; t < nSym; t++ {
		r := (cHat[2*t] << 1) | cHat[2*t+1]
		for s := range pmCurr {
			pmCurr[s] = infMetric
		}
		base := t * numStates
		for s := 0; s < numStates; s++ {
			pm := pmPrev[s]
			if pm >= infMetric {
				continue
			}
			relax := func(tr trans, bit int) {
				dist := (((tr.out >> 1) & 1) ^ ((r >> 1) & 1)) + ((tr.out & 1) ^ (r & 1))
				m := pm + dist
				if m < pmCurr[tr.next] {
					pmCurr[tr.next] = m
					pred[base+tr.next] = int8(s)
					if bit != 0 {
						dec[base+tr.next] = 1
					} else {
						dec[base+tr.next] = 0
					}
				}
			}
			relax(t0[s], 0)
			relax(t1[s], 1)
		}
		pmPrev, pmCurr = pmCurr, pmPrev
	}

	k := 0
	if nSym > memory {
		k = nSym - memory
	}
	uHat := make([]int, k)

	state := 0
	for t := nSym - 1; t >= 0; t-- {
		base := t * numStates
		b := dec[base+state]
		p := pred[base+state]
		if t < k {
			uHat[t] = int(b)
		}
		if p >= 0 {
			state = int(p)
		} else {
			state = 0
		}
	}
	return uHat
}

func (ConvK7R12) DecodeSoft(llr []float64) []int { return nil }

// New builds a Coder from its configuration selector string. Callers are
// expected to have already lower-cased and trimmed name.
func New(name string) (Coder, error) {
	switch name {
	case "uncoded":
		return Uncoded{}, nil
	case "conv_k7_r12":
		return ConvK7R12{}, nil
	default:
		return nil, &berrors.UnknownSelector{Kind: "coder", Name: name}
	}
}
