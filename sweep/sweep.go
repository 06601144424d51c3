// Package sweep drives the SNR grid: for each point it invokes the engine,
// reports progress, records the row to the sink, and stops the sweep early
// once the BER floor is reached.
package sweep

import (
	"log"
	"math"
	"math/rand"

	"github.com/cwsl/bersim/channel"
	"github.com/cwsl/bersim/coder"
	"github.com/cwsl/bersim/engine"
	"github.com/cwsl/bersim/modem"
	"github.com/cwsl/bersim/sink"
	"github.com/cwsl/bersim/simconfig"
)

// PointObserver is notified after every SNR point completes, for telemetry
// fan-out (Prometheus gauges, websocket broadcast, MQTT publish). Any of the
// fields may be the zero value when telemetry is disabled.
type PointObserver func(snrDB float64, r engine.BerResult, pointIndex, totalPoints int)

// Grid returns the inclusive list of SNR points described by start/stop/step:
// n = floor((stop-start)/step + 0.5) + 1 evenly spaced points from start to
// stop, rounding the point count to the nearest integer to absorb
// floating-point step error.
func Grid(startDB, stopDB, stepDB float64) []float64 {
	n := int(math.Floor((stopDB-startDB)/stepDB+0.5)) + 1
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = startDB + float64(i)*stepDB
	}
	return out
}

// Run executes the full SNR sweep described by cfg, writing each row to w
// and invoking onPoint (if non-nil) and progressFor (if non-nil) as each
// point advances. progressFor is called once per SNR point to build that
// point's engine.Progress callback, so telemetry labels stay correct across
// the sweep. It returns the number of points actually run, which may be
// less than the full grid length if the BER floor was reached early.
func Run(cfg *simconfig.Config, md modem.Modem, ch channel.Channel, cd coder.Coder, w *sink.Writer,
	onPoint PointObserver, progressFor func(snrDB float64) engine.Progress) (int, error) {

	points := Grid(cfg.SNR.StartDB, cfg.SNR.StopDB, cfg.SNR.StepDB)
	rng := rand.New(rand.NewSource(int64(cfg.RNG.Seed)))

	threads := cfg.Parallel.Threads

	for i, snrDB := range points {
		p := engine.Params{
			SnrDB:     snrDB,
			MinErrors: cfg.Stopping.MinErrors,
			MaxBits:   cfg.Stopping.MaxBits,
			FrameLen:  cfg.Model.FrameLen,
			CILevel:   cfg.CI.Level,
			CIAbs:     cfg.CI.Abs,
			CIRel:     cfg.CI.Rel,
			CIMinBits: cfg.CI.MinBits,
			BerFloor:  cfg.Stopping.BerFloor,
			Threads:   threads,
		}

		var onProgress engine.Progress
		if progressFor != nil {
			onProgress = progressFor(snrDB)
		}
		r := engine.Simulate(p, md, ch, cd, rng, onProgress)

		if err := w.WriteRow(sink.Row{SnrDB: snrDB, Result: r}); err != nil {
			return i, err
		}
		log.Println(sink.FormatLine(snrDB, r))

		if onPoint != nil {
			onPoint(snrDB, r, i, len(points))
		}

		berForStop := r.Ber
		if r.CIHi > 0 {
			berForStop = r.CIHi
		}
		if cfg.Stopping.BerFloor > 0 && berForStop <= cfg.Stopping.BerFloor {
			log.Printf("stopping sweep early: BER floor reached at SNR=%.2f dB", snrDB)
			return i + 1, nil
		}
	}
	return len(points), nil
}
