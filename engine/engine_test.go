package engine

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwsl/bersim/channel"
	"github.com/cwsl/bersim/coder"
	"github.com/cwsl/bersim/modem"
	"github.com/cwsl/bersim/stats"
)

func runPoint(t *testing.T, p Params, md modem.Modem, ch channel.Channel, cd coder.Coder) BerResult {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	return Simulate(p, md, ch, cd, rng, nil)
}

// TestAsk2AWGNCalibration4dB is the reduced-budget analogue of scenario S1:
// uncoded 2-ASK over AWGN at 4dB should land near the theoretical BER
// Q(sqrt(2*10^0.4)) ~= 0.01250.
func TestAsk2AWGNCalibration4dB(t *testing.T) {
	p := Params{SnrDB: 4, MinErrors: 200, MaxBits: 2_000_000, FrameLen: 1024, Threads: 4}
	r := runPoint(t, p, modem.Ask2{}, channel.AWGN{}, coder.Uncoded{})
	if r.Bits == 0 {
		t.Fatal("no bits simulated")
	}
	want := stats.Q(math.Sqrt(2 * math.Pow(10, 0.4)))
	if math.Abs(r.Ber-want) > 0.01 {
		t.Errorf("BER = %v, want near %v", r.Ber, want)
	}
}

// TestAsk2AWGNCalibration0dB is the reduced-budget analogue of scenario S2.
func TestAsk2AWGNCalibration0dB(t *testing.T) {
	p := Params{SnrDB: 0, MinErrors: 500, MaxBits: 2_000_000, FrameLen: 1024, Threads: 4}
	r := runPoint(t, p, modem.Ask2{}, channel.AWGN{}, coder.Uncoded{})
	want := stats.Q(math.Sqrt(2))
	if math.Abs(r.Ber-want) > 0.02 {
		t.Errorf("BER = %v, want near %v", r.Ber, want)
	}
}

// TestAsk4GrayBeatsNaturalAt8dB is the reduced-budget analogue of scenario
// S3: at equal SNR, the Natural mapping's demodulation path produces a
// strictly higher bit error rate than Gray's.
func TestAsk4GrayBeatsNaturalAt8dB(t *testing.T) {
	p := Params{SnrDB: 8, MinErrors: 300, MaxBits: 2_000_000, FrameLen: 1024, Threads: 4}
	gray := runPoint(t, p, modem.Ask4{Mapping: modem.Gray}, channel.AWGN{}, coder.Uncoded{})
	natural := runPoint(t, p, modem.Ask4{Mapping: modem.Natural}, channel.AWGN{}, coder.Uncoded{})
	if gray.Ber >= natural.Ber {
		t.Errorf("expected Gray BER (%v) < Natural BER (%v) at equal SNR", gray.Ber, natural.Ber)
	}
}

// TestConvK7R12BeatsUncodedAt3dB is the reduced-budget analogue of scenario
// S4: coding gain should produce a markedly lower BER than the uncoded case
// at the same SNR.
func TestConvK7R12BeatsUncodedAt3dB(t *testing.T) {
	pUncoded := Params{SnrDB: 3, MinErrors: 300, MaxBits: 2_000_000, FrameLen: 1024, Threads: 4}
	pCoded := Params{SnrDB: 3, MinErrors: 50, MaxBits: 4_000_000, FrameLen: 4096, Threads: 4}

	uncoded := runPoint(t, pUncoded, modem.Ask2{}, channel.AWGN{}, coder.Uncoded{})
	coded := runPoint(t, pCoded, modem.Ask2{}, channel.AWGN{}, coder.ConvK7R12{})

	if coded.Bits == 0 || uncoded.Bits == 0 {
		t.Fatal("no bits simulated")
	}
	if coded.Ber >= uncoded.Ber {
		t.Errorf("expected coded BER (%v) < uncoded BER (%v)", coded.Ber, uncoded.Ber)
	}
}

// TestRayleighApproxQuarterEbN0 is the reduced-budget analogue of scenario
// S5: flat Rayleigh fading with hard-decision 2-ASK at 10dB should land near
// 1/(4*Eb/N0).
func TestRayleighApproxQuarterEbN0(t *testing.T) {
	p := Params{SnrDB: 10, MinErrors: 300, MaxBits: 4_000_000, FrameLen: 1024,
		CILevel: 0.95, CIAbs: 0.01, CIMinBits: 10000, Threads: 4}
	r := runPoint(t, p, modem.Ask2{}, channel.Rayleigh{}, coder.Uncoded{})
	ebn0 := math.Pow(10, 1.0)
	want := 1.0 / (4 * ebn0)
	if r.Bits == 0 {
		t.Fatal("no bits simulated")
	}
	if r.Ber < want*0.3 || r.Ber > want*3 {
		t.Errorf("Rayleigh BER = %v, want roughly %v", r.Ber, want)
	}
}

func TestStopsAtMaxBits(t *testing.T) {
	p := Params{SnrDB: 20, MinErrors: 1 << 40, MaxBits: 10000, FrameLen: 500, Threads: 2}
	r := runPoint(t, p, modem.Ask2{}, channel.AWGN{}, coder.Uncoded{})
	if r.Bits < p.MaxBits {
		t.Errorf("expected at least MaxBits simulated, got %d", r.Bits)
	}
}

func TestCIStopsEarlyWhenNarrow(t *testing.T) {
	p := Params{SnrDB: 2, MinErrors: 10, MaxBits: 100_000_000, FrameLen: 1024,
		CILevel: 0.95, CIAbs: 0.05, CIMinBits: 1000, Threads: 4}
	r := runPoint(t, p, modem.Ask2{}, channel.AWGN{}, coder.Uncoded{})
	if r.Bits >= p.MaxBits {
		t.Errorf("expected CI stop to trigger well before MaxBits, got %d bits", r.Bits)
	}
	half := (r.CIHi - r.CILo) / 2
	if half > p.CIAbs+1e-6 {
		t.Errorf("final CI half-width %v exceeds requested %v", half, p.CIAbs)
	}
}

func TestBerResultInvariants(t *testing.T) {
	maxBitsValues := []uint64{64, 1000, 50000}
	for _, mb := range maxBitsValues {
		p := Params{SnrDB: 3, MinErrors: 0, MaxBits: mb, FrameLen: 64, Threads: 1}
		r := runPoint(t, p, modem.Ask2{}, channel.AWGN{}, coder.Uncoded{})
		if r.Errs > r.Bits {
			t.Errorf("errs (%d) > bits (%d) for MaxBits=%d", r.Errs, r.Bits, mb)
		}
		if r.Bits > 0 && math.Abs(r.Ber-float64(r.Errs)/float64(r.Bits)) > 1e-12 {
			t.Errorf("ber does not equal errs/bits for MaxBits=%d", mb)
		}
	}
}
