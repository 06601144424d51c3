// Command iqcapture is a standalone companion to the bit-error-rate
// simulator: it dials a radiod-style WebSocket I/Q endpoint and streams raw
// interleaved 16-bit I/Q samples to a WAV file. It shares no code with
// bersim; it is a separate capture client living alongside the analysis
// tool it feeds.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const userAgent = "bersim-iqcapture"

// wavHeader is the canonical 44-byte PCM WAV header, matching the
// iq-recorder client's own header layout (2 channels: I and Q).
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// capture streams I/Q samples into a single WAV file.
type capture struct {
	file           *os.File
	mu             sync.Mutex
	samplesWritten uint32
	sampleRate     int
}

func newWAVHeader(sampleRate int) wavHeader {
	return wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   2,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2 * 2),
		BlockAlign:    4,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
	}
}

func (c *capture) writeHeader() error {
	h := newWAVHeader(c.sampleRate)
	return binary.Write(c.file, binary.LittleEndian, &h)
}

func (c *capture) updateHeader() error {
	dataSize := c.samplesWritten * 4
	if _, err := c.file.Seek(4, 0); err != nil {
		return err
	}
	if err := binary.Write(c.file, binary.LittleEndian, uint32(36+dataSize)); err != nil {
		return err
	}
	if _, err := c.file.Seek(40, 0); err != nil {
		return err
	}
	return binary.Write(c.file, binary.LittleEndian, dataSize)
}

func (c *capture) writeSamples(iq []int16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := binary.Write(c.file, binary.LittleEndian, iq); err != nil {
		return err
	}
	c.samplesWritten += uint32(len(iq) / 2)
	return nil
}

// streamSynthetic generates a deterministic synthetic I/Q tone-plus-noise
// source when no real radiod-style endpoint is reachable, so the tool is
// runnable for demonstration without real hardware.
func streamSynthetic(c *capture, toneHz float64, durationSec int, stop <-chan struct{}) {
	rng := rand.New(rand.NewSource(1))
	const batch = 4096
	buf := make([]int16, batch*2)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	totalSamples := durationSec * c.sampleRate
	n := 0
	phaseStep := 2 * math.Pi * toneHz / float64(c.sampleRate)
	phase := 0.0

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for i := 0; i < batch; i++ {
				noise := rng.NormFloat64() * 0.05
				buf[2*i] = int16(math.Sin(phase) * 16000)
				buf[2*i+1] = int16((math.Cos(phase) + noise) * 16000)
				phase += phaseStep
			}
			if err := c.writeSamples(buf); err != nil {
				log.Printf("write error: %v", err)
				return
			}
			n += batch
			if totalSamples > 0 && n >= totalSamples {
				return
			}
		}
	}
}

func dialAndStream(c *capture, wsURL string, stop <-chan struct{}) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("format", "iq16")
	q.Set("session_id", uuid.NewString())
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("User-Agent", userAgent)

	log.Printf("connecting to %s", u.String())
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("connection closed: %v", err)
				return
			}
			samples := make([]int16, len(data)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
			}
			if err := c.writeSamples(samples); err != nil {
				log.Printf("write error: %v", err)
				return
			}
		}
	}()

	select {
	case <-stop:
	case <-done:
	}
	return nil
}

func main() {
	addr := flag.String("addr", "", "radiod-style WebSocket I/Q endpoint, e.g. ws://localhost:8080/iq (empty = synthetic source)")
	out := flag.String("out", "capture.wav", "output WAV file path")
	sampleRate := flag.Int("rate", 48000, "sample rate in Hz")
	duration := flag.Int("duration", 10, "capture duration in seconds (0 = unlimited, real endpoint only)")
	toneHz := flag.Float64("tone-hz", 1000, "synthetic source tone frequency in Hz")
	flag.Parse()

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("cannot create output file: %v", err)
	}
	defer f.Close()

	c := &capture{file: f, sampleRate: *sampleRate}
	if err := c.writeHeader(); err != nil {
		log.Fatalf("cannot write WAV header: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() {
		<-sigChan
		close(stop)
	}()

	if *addr == "" {
		log.Printf("no -addr given, streaming synthetic I/Q to %s", *out)
		streamSynthetic(c, *toneHz, *duration, stop)
	} else if err := dialAndStream(c, *addr, stop); err != nil {
		log.Printf("stream error: %v, falling back to synthetic source", err)
		streamSynthetic(c, *toneHz, *duration, stop)
	}

	if err := c.updateHeader(); err != nil {
		log.Fatalf("cannot finalize WAV header: %v", err)
	}
	log.Printf("wrote %d I/Q sample pairs to %s", c.samplesWritten, *out)
}
