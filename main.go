// Command bersim runs a Monte Carlo bit-error-rate sweep over a configured
// modem/channel/coder signal chain and writes the results to CSV, with
// optional Prometheus, websocket, and MQTT telemetry for long-running
// sweeps.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/cwsl/bersim/channel"
	"github.com/cwsl/bersim/coder"
	"github.com/cwsl/bersim/engine"
	"github.com/cwsl/bersim/modem"
	"github.com/cwsl/bersim/simconfig"
	"github.com/cwsl/bersim/sink"
	"github.com/cwsl/bersim/sweep"
	"github.com/cwsl/bersim/telemetry"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "bersim.ini", "path to simulation config file")
	debug := flag.Bool("debug", false, "enable verbose logging")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus /metrics on, e.g. :9090 (overrides config)")
	wsAddr := flag.String("ws-addr", "", "address to serve the /progress websocket on, e.g. :9091 (overrides config)")
	mqttBroker := flag.String("mqtt", "", "MQTT broker URL to publish per-point results to, e.g. tcp://localhost:1883 (overrides config)")
	gzipOut := flag.Bool("gzip", false, "gzip-compress the CSV output (overrides config)")
	flag.Parse()

	if *debug {
		log.SetFlags(log.Ltime | log.Lshortfile)
	}

	cfg, err := simconfig.Load(*configPath)
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = *metricsAddr
	}
	if *wsAddr != "" {
		cfg.Telemetry.WSAddr = *wsAddr
	}
	if *mqttBroker != "" {
		cfg.Telemetry.MQTTBroker = *mqttBroker
	}
	if *gzipOut {
		cfg.IO.Gzip = true
	}

	md, err := modem.New(cfg.Model.Modem)
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
	ch, err := channel.New(cfg.Model.Channel)
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
	cd, err := coder.New(cfg.Model.Coder)
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}

	if cfg.Parallel.Threads == 0 {
		cfg.Parallel.Threads = telemetry.DetectWorkerCount()
	}

	runID := uuid.NewString()
	log.Printf("bersim %s  run=%s  workers=%d", version, runID, cfg.Parallel.Threads)

	var metrics *telemetry.Metrics
	var bcast *telemetry.Broadcaster
	var mqttPub *telemetry.MQTTPublisher

	if cfg.Telemetry.MetricsAddr != "" {
		metrics = telemetry.NewMetrics()
		metrics.SetRunActive(true)
		go telemetry.ServeMetrics(cfg.Telemetry.MetricsAddr)
	}
	if cfg.Telemetry.WSAddr != "" {
		bcast = telemetry.NewBroadcaster(runID)
		go bcast.ServeWS(cfg.Telemetry.WSAddr)
	}
	if cfg.Telemetry.MQTTBroker != "" {
		p, err := telemetry.NewMQTTPublisher(cfg.Telemetry.MQTTBroker, cfg.Telemetry.MQTTTopicPrefix, runID)
		if err != nil {
			log.Printf("telemetry: MQTT disabled: %v", err)
		} else {
			mqttPub = p
			defer mqttPub.Disconnect()
		}
	}

	outPath, err := sink.ResolvePath(cfg.IO.File, cfg.Model.Coder, cfg.Model.Modem, cfg.Model.Channel)
	if err != nil {
		log.Printf("fatal: cannot resolve output path: %v", err)
		os.Exit(2)
	}
	w, err := sink.New(outPath, cfg.IO.Gzip)
	if err != nil {
		log.Printf("fatal: cannot open output file: %v", err)
		os.Exit(2)
	}
	defer w.Close()
	fmt.Printf("saving results to: %s\n", outPath)

	var progressFor func(snrDB float64) engine.Progress
	if metrics != nil {
		progressFor = func(snrDB float64) engine.Progress {
			return metrics.OnProgress(cfg.Model.Modem, cfg.Model.Channel, cfg.Model.Coder, snrDB)
		}
	}

	onPoint := func(snrDB float64, r engine.BerResult, pointIndex, totalPoints int) {
		if metrics != nil {
			metrics.OnPoint(cfg.Model.Modem, cfg.Model.Channel, cfg.Model.Coder, snrDB, r, pointIndex)
		}
		if bcast != nil {
			bcast.Broadcast(snrDB, r, pointIndex, totalPoints)
		}
		if mqttPub != nil {
			mqttPub.PublishPoint(snrDB, r)
		}
	}

	n, err := sweep.Run(cfg, md, ch, cd, w, onPoint, progressFor)
	if metrics != nil {
		metrics.SetRunActive(false)
	}
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
	log.Printf("sweep complete: %d point(s) run", n)
}
