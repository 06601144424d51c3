// Package engine implements the concurrent Monte Carlo BER loop: one SNR
// point in, one BerResult out, with worker goroutines sharing adaptive
// stopping criteria over lock-free atomics.
package engine

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwsl/bersim/channel"
	"github.com/cwsl/bersim/coder"
	"github.com/cwsl/bersim/modem"
	"github.com/cwsl/bersim/stats"
)

// goldenRatio64 is the odd 64-bit constant used to decorrelate per-worker
// RNG streams drawn from a single base seed.
const goldenRatio64 = 0x9E3779B97F4A7C15

// BerResult is the aggregate outcome of one SNR point.
type BerResult struct {
	Ber   float64
	Bits  uint64
	Errs  uint64
	CILo  float64
	CIHi  float64
}

// Params bundles the per-SNR-point knobs the engine consumes; Config owns
// the authoritative copies, this is just the subset the engine needs.
type Params struct {
	SnrDB      float64
	MinErrors  uint64
	MaxBits    uint64
	FrameLen   int
	CILevel    float64 // 0 disables CI/stop-on-CI entirely
	CIAbs      float64
	CIRel      float64
	CIMinBits  uint64
	BerFloor   float64
	Threads    int
}

// Progress is an optional, best-effort snapshot callback invoked by workers
// at a throttled rate. It must never block or panic; the engine does not
// wait on it. Implementations live in package telemetry.
type Progress func(bits, errs uint64, stopped bool)

// Simulate runs one SNR point to completion and returns the aggregate
// result. rng is consumed exactly once, to derive per-worker seeds; it must
// not be shared with any other concurrent caller.
func Simulate(p Params, md modem.Modem, ch channel.Channel, cd coder.Coder, rng *rand.Rand, onProgress Progress) BerResult {
	rate := cd.Rate()
	bps := md.BitsPerSymbol()
	es := md.SymbolEnergy()

	ebn0Lin := math.Pow(10, p.SnrDB/10)
	n0 := es / (rate * float64(bps) * ebn0Lin)
	sigma := math.Sqrt(n0 / 2)

	ciEnabled := p.CILevel > 0 && p.CILevel < 1
	var z float64
	if ciEnabled {
		alpha := 1 - p.CILevel
		z = stats.InvNormCDF(1 - alpha/2)
	}

	threads := p.Threads
	if threads <= 0 {
		threads = 1
	}

	var totalBits, totalErrs atomic.Uint64
	var stop atomic.Bool

	base := rng.Uint64()
	seeds := make([]uint64, threads)
	for t := 0; t < threads; t++ {
		seeds[t] = base ^ (goldenRatio64 * uint64(t+1))
	}

	ciGoalsMet := func(bits, errs uint64) bool {
		if p.CIAbs <= 0 && p.CIRel <= 0 {
			return true
		}
		if bits == 0 || bits < p.CIMinBits {
			return false
		}
		_, _, half := stats.WilsonInterval(errs, bits, z)
		pr := float64(errs) / float64(bits)
		okAbs := p.CIAbs <= 0 || half <= p.CIAbs
		okRel := p.CIRel <= 0 || half <= p.CIRel*math.Max(pr, 1e-12)
		return okAbs && okRel
	}
	floorMet := func(bits, errs uint64) bool {
		if p.BerFloor <= 0 || bits == 0 || bits < p.CIMinBits {
			return false
		}
		_, hi, _ := stats.WilsonInterval(errs, bits, z)
		return hi <= p.BerFloor
	}

	var wg sync.WaitGroup
	var lastProgress atomic.Int64
	wg.Add(threads)
	for t := 0; t < threads; t++ {
		go func(tid int) {
			defer wg.Done()
			runWorker(seeds[tid], p, md, ch, cd, sigma, &totalBits, &totalErrs, &stop,
				func(bits, errs uint64) (stopNow bool) {
					stopByMax := p.MaxBits > 0 && bits >= p.MaxBits
					stopByFloor := floorMet(bits, errs)
					stopByCI := (p.MinErrors == 0 || errs >= p.MinErrors) && ciGoalsMet(bits, errs)
					stopNow = stopByMax || stopByFloor || stopByCI
					if onProgress != nil {
						now := time.Now().UnixMilli()
						last := lastProgress.Load()
						if now-last >= 200 && lastProgress.CompareAndSwap(last, now) {
							onProgress(bits, errs, stopNow)
						}
					}
					return stopNow
				})
		}(t)
	}
	wg.Wait()

	finalBits := totalBits.Load()
	finalErrs := totalErrs.Load()

	var lo, hi float64
	if (p.CIAbs > 0 || p.CIRel > 0) && finalBits > 0 && z > 0 {
		lo, hi, _ = stats.WilsonInterval(finalErrs, finalBits, z)
	}

	var ber float64
	if finalBits > 0 {
		ber = float64(finalErrs) / float64(finalBits)
	}
	if onProgress != nil {
		onProgress(finalBits, finalErrs, true)
	}
	return BerResult{Ber: ber, Bits: finalBits, Errs: finalErrs, CILo: lo, CIHi: hi}
}

// runWorker executes frames until stop is observed or checkStop reports the
// stop condition is met, publishing local bit/error counts to the shared
// atomics after every frame. checkStop receives the post-increment snapshot
// and returns whether the engine should stop; it also sets the shared stop
// flag itself when true, so every worker observes it promptly.
func runWorker(seed uint64, p Params, md modem.Modem, ch channel.Channel, cd coder.Coder, sigma float64,
	totalBits, totalErrs *atomic.Uint64, stop *atomic.Bool, checkStop func(bits, errs uint64) bool) {

	trng := rand.New(rand.NewSource(int64(seed)))

	u := make([]int, p.FrameLen)
	cHat := make([]int, 0, p.FrameLen*2)
	var llr []float64
	if cd.SupportsSoft() {
		llr = make([]float64, 0, p.FrameLen*2)
	}

	var inBits [modem.MaxBitsPerSymbol]int
	var outBits [modem.MaxBitsPerSymbol]int
	var outLLR [modem.MaxBitsPerSymbol]float64

	bps := md.BitsPerSymbol()

	for !stop.Load() {
		for i := range u {
			if trng.Float64() < 0.5 {
				u[i] = 1
			} else {
				u[i] = 0
			}
		}

		c := cd.Encode(u)

		cHat = cHat[:0]
		if llr != nil {
			llr = llr[:0]
		}

		for i := 0; i < len(c); i += bps {
			for k := 0; k < modem.MaxBitsPerSymbol; k++ {
				inBits[k] = 0
			}
			n := bps
			if i+n > len(c) {
				n = len(c) - i
			}
			copy(inBits[:n], c[i:i+n])

			s := md.Modulate(inBits[:])
			out := ch.Transmit(s, trng, sigma)

			g := out.Gain
			if g <= 0 {
				g = 1
			}
			rEq := out.Y / g
			sigma2Eq := (sigma * sigma) / (g * g)

			if cd.SupportsSoft() {
				md.DemodulateLLR(rEq, sigma2Eq, outLLR[:])
				llr = append(llr, outLLR[:n]...)
			} else {
				md.Demodulate(rEq, outBits[:])
				cHat = append(cHat, outBits[:n]...)
			}
		}

		var uHat []int
		if cd.SupportsSoft() {
			uHat = cd.DecodeSoft(llr)
		} else {
			uHat = cd.Decode(cHat)
		}

		limit := len(u)
		if len(uHat) < limit {
			limit = len(uHat)
		}
		var localErrs uint64
		for j := 0; j < limit; j++ {
			if u[j] != uHat[j] {
				localErrs++
			}
		}
		localBits := uint64(len(u))

		bitsAfter := totalBits.Add(localBits)
		errsAfter := totalErrs.Add(localErrs)

		if checkStop(bitsAfter, errsAfter) {
			stop.Store(true)
			return
		}
	}
}
