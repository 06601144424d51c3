package modem

import (
	"math"
	"testing"
)

func TestAsk2ModulateDemodulateRoundTrip(t *testing.T) {
	m := Ask2{}
	cases := []struct {
		bit int
		amp float64
	}{
		{0, 1.0},
		{1, -1.0},
	}
	for _, c := range cases {
		if got := m.Modulate([]int{c.bit}); got != c.amp {
			t.Errorf("Modulate(%d) = %v, want %v", c.bit, got, c.amp)
		}
		out := make([]int, 1)
		m.Demodulate(c.amp, out)
		if out[0] != c.bit {
			t.Errorf("Demodulate(%v) = %d, want %d", c.amp, out[0], c.bit)
		}
	}
}

func TestAsk2DemodulateLLRSign(t *testing.T) {
	m := Ask2{}
	out := make([]float64, 1)
	m.DemodulateLLR(1.0, 1.0, out)
	if out[0] <= 0 {
		t.Errorf("expected positive LLR for positive r (bit 0 more likely), got %v", out[0])
	}
	m.DemodulateLLR(-1.0, 1.0, out)
	if out[0] >= 0 {
		t.Errorf("expected negative LLR for negative r, got %v", out[0])
	}
}

func TestAsk4GrayRoundTrip(t *testing.T) {
	m := Ask4{Mapping: Gray}
	cases := []struct {
		bits [2]int
		amp  float64
	}{
		{[2]int{0, 0}, -3},
		{[2]int{0, 1}, -1},
		{[2]int{1, 1}, 1},
		{[2]int{1, 0}, 3},
	}
	for _, c := range cases {
		if got := m.Modulate(c.bits[:]); got != c.amp {
			t.Errorf("Gray Modulate(%v) = %v, want %v", c.bits, got, c.amp)
		}
		out := make([]int, 2)
		m.Demodulate(c.amp, out)
		if out[0] != c.bits[0] || out[1] != c.bits[1] {
			t.Errorf("Gray Demodulate(%v) = %v, want %v", c.amp, out, c.bits)
		}
	}
}

func TestAsk4NaturalRoundTrip(t *testing.T) {
	m := Ask4{Mapping: Natural}
	cases := []struct {
		bits [2]int
		amp  float64
	}{
		{[2]int{0, 0}, -3},
		{[2]int{0, 1}, -1},
		{[2]int{1, 0}, 1},
		{[2]int{1, 1}, 3},
	}
	for _, c := range cases {
		if got := m.Modulate(c.bits[:]); got != c.amp {
			t.Errorf("Natural Modulate(%v) = %v, want %v", c.bits, got, c.amp)
		}
		out := make([]int, 2)
		m.Demodulate(c.amp, out)
		if out[0] != c.bits[0] || out[1] != c.bits[1] {
			t.Errorf("Natural Demodulate(%v) = %v, want %v", c.amp, out, c.bits)
		}
	}
}

// TestAsk4MappingsDifferOnSymbol23 documents the asymmetric swap between Gray
// and Natural demodulation for symbols 2 and 3.
func TestAsk4MappingsDifferOnSymbol23(t *testing.T) {
	gray := Ask4{Mapping: Gray}
	natural := Ask4{Mapping: Natural}

	gOut, nOut := make([]int, 2), make([]int, 2)
	gray.Demodulate(1, gOut)    // symbol 2
	natural.Demodulate(1, nOut) // symbol 2
	if gOut[0] == nOut[0] && gOut[1] == nOut[1] {
		t.Errorf("expected Gray and Natural to disagree on symbol 2, both gave %v", gOut)
	}
}

func TestAsk4DemodulateLLRMSBSharedAcrossMappings(t *testing.T) {
	gray := Ask4{Mapping: Gray}
	natural := Ask4{Mapping: Natural}
	gOut, nOut := make([]float64, 2), make([]float64, 2)
	gray.DemodulateLLR(2.5, 1.0, gOut)
	natural.DemodulateLLR(2.5, 1.0, nOut)
	if math.Abs(gOut[0]-nOut[0]) > 1e-9 {
		t.Errorf("MSB LLR should be identical across mappings, got gray=%v natural=%v", gOut[0], nOut[0])
	}
}

func TestNewModemSelectors(t *testing.T) {
	for _, name := range []string{"ask2", "ask4", "ask4_gray", "ask4_natural", "ask4_binary", "ask4_nogray"} {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q) returned error: %v", name, err)
		}
	}
	if _, err := New("bogus"); err == nil {
		t.Errorf("New(%q) expected error, got nil", "bogus")
	}
}

func TestBitsPerSymbolAndSymbolEnergy(t *testing.T) {
	if (Ask2{}).BitsPerSymbol() != 1 || (Ask2{}).SymbolEnergy() != 1.0 {
		t.Errorf("Ask2 constants wrong")
	}
	if (Ask4{}).BitsPerSymbol() != 2 || (Ask4{}).SymbolEnergy() != 5.0 {
		t.Errorf("Ask4 constants wrong")
	}
}
