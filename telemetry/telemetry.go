// Package telemetry is the simulator's optional observability surface:
// Prometheus gauges scraped over HTTP, a progress websocket for live
// dashboards, and an MQTT publisher for retained per-point results. All
// three are best-effort and never allowed to slow down or fail a run.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/cwsl/bersim/engine"
)

// Metrics holds the Prometheus collectors published for the run in
// progress. All vectors are labeled by modem/channel/coder so a single
// scrape target can serve successive runs with different components.
type Metrics struct {
	currentSnrDB  *prometheus.GaugeVec
	currentBer    *prometheus.GaugeVec
	bitsSimulated *prometheus.GaugeVec
	errsObserved  *prometheus.GaugeVec
	ciHalfWidth   *prometheus.GaugeVec
	pointsDone    *prometheus.GaugeVec
	runActive     prometheus.Gauge
}

// NewMetrics registers the simulator's gauge vectors with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	labels := []string{"modem", "channel", "coder"}
	return &Metrics{
		currentSnrDB: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bersim_current_snr_db",
			Help: "SNR point currently being simulated, in dB.",
		}, labels),
		currentBer: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bersim_current_ber",
			Help: "Bit error rate observed at the most recently completed SNR point.",
		}, labels),
		bitsSimulated: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bersim_bits_simulated_total",
			Help: "Bits simulated at the current SNR point so far.",
		}, labels),
		errsObserved: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bersim_errors_observed_total",
			Help: "Bit errors observed at the current SNR point so far.",
		}, labels),
		ciHalfWidth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bersim_ci_half_width",
			Help: "Wilson confidence interval half-width at the current SNR point.",
		}, labels),
		pointsDone: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bersim_points_completed",
			Help: "Number of SNR points completed in the current sweep.",
		}, labels),
		runActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bersim_run_active",
			Help: "1 while a sweep is in progress, 0 otherwise.",
		}),
	}
}

// ServeMetrics starts an HTTP server exposing /metrics on addr. Intended to
// run in its own goroutine; a listen failure is logged, not fatal.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("telemetry: serving Prometheus metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("telemetry: metrics server stopped: %v", err)
	}
}

// OnProgress returns an engine.Progress callback that updates the gauge
// vectors for one SNR point's worth of labels.
func (m *Metrics) OnProgress(modemName, channelName, coderName string, snrDB float64) engine.Progress {
	labels := prometheus.Labels{"modem": modemName, "channel": channelName, "coder": coderName}
	return func(bits, errs uint64, stopped bool) {
		m.currentSnrDB.With(labels).Set(snrDB)
		m.bitsSimulated.With(labels).Set(float64(bits))
		m.errsObserved.With(labels).Set(float64(errs))
		if bits > 0 {
			m.currentBer.With(labels).Set(float64(errs) / float64(bits))
		}
	}
}

// OnPoint records a completed SNR point's final statistics.
func (m *Metrics) OnPoint(modemName, channelName, coderName string, snrDB float64, r engine.BerResult, pointIndex int) {
	labels := prometheus.Labels{"modem": modemName, "channel": channelName, "coder": coderName}
	m.currentBer.With(labels).Set(r.Ber)
	m.ciHalfWidth.With(labels).Set((r.CIHi - r.CILo) / 2)
	m.pointsDone.With(labels).Set(float64(pointIndex + 1))
}

// SetRunActive flips the run-active gauge.
func (m *Metrics) SetRunActive(active bool) {
	if active {
		m.runActive.Set(1)
	} else {
		m.runActive.Set(0)
	}
}

// pointUpgrader accepts connections from any origin: this endpoint is
// read-only telemetry, not an authenticated session.
var pointUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// pointMessage is the JSON shape broadcast to every connected websocket
// client after each SNR point completes.
type pointMessage struct {
	RunID       string  `json:"run_id"`
	SnrDB       float64 `json:"snr_db"`
	Ber         float64 `json:"ber"`
	Bits        uint64  `json:"bits"`
	Errors      uint64  `json:"errors"`
	CILo        float64 `json:"ci_lo"`
	CIHi        float64 `json:"ci_hi"`
	PointIndex  int     `json:"point_index"`
	TotalPoints int     `json:"total_points"`
}

// Broadcaster fans out SNR-point completions to every connected websocket
// client, guarding concurrent writes to the shared client set with a mutex.
type Broadcaster struct {
	runID   string
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewBroadcaster creates a broadcaster tagged with the given run identifier,
// shared with the console banner and any other telemetry sinks for the run.
func NewBroadcaster(runID string) *Broadcaster {
	return &Broadcaster{
		runID:   runID,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeWS starts an HTTP server exposing the /progress websocket endpoint
// on addr. Intended to run in its own goroutine.
func (b *Broadcaster) ServeWS(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/progress", b.handleConn)
	log.Printf("telemetry: serving progress websocket on %s/progress", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("telemetry: websocket server stopped: %v", err)
	}
}

func (b *Broadcaster) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := pointUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("telemetry: websocket upgrade failed: %v", err)
		return
	}
	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	// Clients are read-only consumers; drain and discard to notice
	// disconnects and respect control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends one SNR point's result to every connected client.
func (b *Broadcaster) Broadcast(snrDB float64, r engine.BerResult, pointIndex, totalPoints int) {
	msg := pointMessage{
		RunID:       b.runID,
		SnrDB:       snrDB,
		Ber:         r.Ber,
		Bits:        r.Bits,
		Errors:      r.Errs,
		CILo:        r.CILo,
		CIHi:        r.CIHi,
		PointIndex:  pointIndex,
		TotalPoints: totalPoints,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			c.Close()
			delete(b.clients, c)
		}
	}
}

// MQTTPublisher publishes one retained JSON message per completed SNR
// point, each under its own topic so every point's result persists on the
// broker independently.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	runID  string
}

// NewMQTTPublisher connects to broker and returns a publisher scoped to the
// given run identifier, shared with the console banner and any other
// telemetry sinks for the run. Connection failures are returned, not
// retried indefinitely, since a sweep with no telemetry consumer should
// still run.
func NewMQTTPublisher(broker, topicPrefix, runID string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("bersim_" + uuid.NewString())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("telemetry: MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("telemetry: MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return &MQTTPublisher{client: client, prefix: topicPrefix, runID: runID}, nil
}

// PublishPoint publishes a retained message for one completed SNR point.
// The topic is scoped by run ID and SNR so every point in a sweep retains
// its own message instead of clobbering the previous point's. Failures are
// logged, not returned: telemetry must never abort a sweep.
func (p *MQTTPublisher) PublishPoint(snrDB float64, r engine.BerResult) {
	topic := fmt.Sprintf("%s/%s/%.2f", p.prefix, p.runID, snrDB)
	payload := pointMessage{
		RunID: p.runID,
		SnrDB: snrDB,
		Ber:   r.Ber,
		Bits:  r.Bits,
		Errors: r.Errs,
		CILo:  r.CILo,
		CIHi:  r.CIHi,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("telemetry: MQTT marshal failed: %v", err)
		return
	}
	token := p.client.Publish(topic, 1, true, data)
	if token.Wait() && token.Error() != nil {
		log.Printf("telemetry: MQTT publish to %s failed: %v", topic, token.Error())
	}
}

// Disconnect closes the MQTT connection, waiting up to 250ms for in-flight
// publishes to drain.
func (p *MQTTPublisher) Disconnect() {
	p.client.Disconnect(250)
}

// DetectWorkerCount returns the physical CPU core count gopsutil reports,
// falling back to runtime.NumCPU() when gopsutil errors or reports zero.
func DetectWorkerCount() int {
	n, err := cpu.Counts(false)
	if err != nil || n == 0 {
		return runtime.NumCPU()
	}
	return n
}
