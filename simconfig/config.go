// Package simconfig loads and validates the INI configuration file the
// simulator is driven from, and resolves the selector strings into the
// concrete modem/channel/coder instances the engine consumes.
package simconfig

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/cwsl/bersim/berrors"
)

// Config is the immutable, fully validated simulation configuration. It is
// built once at startup and shared by reference for the program lifetime.
type Config struct {
	SNR       SNRConfig
	Stopping  StoppingConfig
	IO        IOConfig
	RNG       RNGConfig
	Model     ModelConfig
	CI        CIConfig
	Parallel  ParallelConfig
	Telemetry TelemetryConfig
}

type SNRConfig struct {
	StartDB float64
	StopDB  float64
	StepDB  float64
}

type StoppingConfig struct {
	MinErrors uint64
	MaxBits   uint64
	BerFloor  float64
}

type IOConfig struct {
	File string
	Gzip bool
}

type RNGConfig struct {
	Seed uint64
}

type ModelConfig struct {
	Modem     string
	Channel   string
	Coder     string
	FrameLen  int
}

type CIConfig struct {
	Level   float64
	Abs     float64
	Rel     float64
	MinBits uint64
}

type ParallelConfig struct {
	Threads int
}

type TelemetryConfig struct {
	MetricsAddr     string
	WSAddr          string
	MQTTBroker      string
	MQTTTopicPrefix string
}

// Load parses path as a dotted-key INI file ("[section]" headers with
// "key = value" lines addressed as "section.key"), validates every
// required field, and returns a ready-to-use Config.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, &berrors.ConfigError{Key: path, Reason: fmt.Sprintf("cannot open config file: %v", err)}
	}

	cfg := &Config{}

	if err := requireFloat(f, "snr", "start_db", &cfg.SNR.StartDB); err != nil {
		return nil, err
	}
	if err := requireFloat(f, "snr", "stop_db", &cfg.SNR.StopDB); err != nil {
		return nil, err
	}
	if err := requireFloat(f, "snr", "step_db", &cfg.SNR.StepDB); err != nil {
		return nil, err
	}

	if err := requireUint(f, "stopping", "min_errors", &cfg.Stopping.MinErrors); err != nil {
		return nil, err
	}
	if err := requireUint(f, "stopping", "max_bits", &cfg.Stopping.MaxBits); err != nil {
		return nil, err
	}
	if err := requireFloat(f, "stopping", "ber_floor", &cfg.Stopping.BerFloor); err != nil {
		return nil, err
	}

	if err := requireString(f, "io", "file", &cfg.IO.File); err != nil {
		return nil, err
	}
	cfg.IO.Gzip = f.Section("io").Key("gzip").MustBool(false)

	if err := requireUint(f, "rng", "seed", &cfg.RNG.Seed); err != nil {
		return nil, err
	}

	if err := requireString(f, "model", "modem", &cfg.Model.Modem); err != nil {
		return nil, err
	}
	if err := requireString(f, "model", "channel", &cfg.Model.Channel); err != nil {
		return nil, err
	}
	if err := requireString(f, "model", "coder", &cfg.Model.Coder); err != nil {
		return nil, err
	}
	if err := requireInt(f, "model", "frame_len", &cfg.Model.FrameLen); err != nil {
		return nil, err
	}
	cfg.Model.Modem = strings.ToLower(strings.TrimSpace(cfg.Model.Modem))
	cfg.Model.Channel = strings.ToLower(strings.TrimSpace(cfg.Model.Channel))
	cfg.Model.Coder = strings.ToLower(strings.TrimSpace(cfg.Model.Coder))

	if err := requireFloat(f, "ci", "level", &cfg.CI.Level); err != nil {
		return nil, err
	}
	if err := requireFloat(f, "ci", "abs", &cfg.CI.Abs); err != nil {
		return nil, err
	}
	if err := requireFloat(f, "ci", "rel", &cfg.CI.Rel); err != nil {
		return nil, err
	}
	if err := requireUint(f, "ci", "min_bits", &cfg.CI.MinBits); err != nil {
		return nil, err
	}

	if err := requireInt(f, "parallel", "threads", &cfg.Parallel.Threads); err != nil {
		return nil, err
	}

	if f.HasSection("telemetry") {
		t := f.Section("telemetry")
		cfg.Telemetry.MetricsAddr = t.Key("metrics_addr").String()
		cfg.Telemetry.WSAddr = t.Key("ws_addr").String()
		cfg.Telemetry.MQTTBroker = t.Key("mqtt_broker").String()
		cfg.Telemetry.MQTTTopicPrefix = t.Key("mqtt_topic_prefix").MustString("bersim")
	} else {
		cfg.Telemetry.MQTTTopicPrefix = "bersim"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SNR.StepDB <= 0 {
		return &berrors.ConfigError{Key: "snr.step_db", Value: fmt.Sprint(c.SNR.StepDB), Reason: "must be > 0"}
	}
	if c.SNR.StopDB < c.SNR.StartDB {
		return &berrors.ConfigError{Key: "snr.stop_db", Value: fmt.Sprint(c.SNR.StopDB), Reason: "must be >= snr.start_db"}
	}
	if c.Stopping.BerFloor < 0 {
		return &berrors.ConfigError{Key: "stopping.ber_floor", Value: fmt.Sprint(c.Stopping.BerFloor), Reason: "must be >= 0"}
	}
	if c.Model.FrameLen <= 0 {
		return &berrors.ConfigError{Key: "model.frame_len", Value: fmt.Sprint(c.Model.FrameLen), Reason: "must be > 0"}
	}
	if !(c.CI.Level > 0 && c.CI.Level < 1) {
		return &berrors.ConfigError{Key: "ci.level", Value: fmt.Sprint(c.CI.Level), Reason: "must be in (0,1)"}
	}
	if c.CI.Abs < 0 || c.CI.Rel < 0 {
		return &berrors.ConfigError{Key: "ci.abs/ci.rel", Reason: "must be >= 0"}
	}
	if c.Parallel.Threads < 0 {
		return &berrors.ConfigError{Key: "parallel.threads", Value: fmt.Sprint(c.Parallel.Threads), Reason: "must be >= 0"}
	}
	return nil
}

func requireFloat(f *ini.File, section, key string, out *float64) error {
	k, err := f.Section(section).GetKey(key)
	if err != nil {
		return &berrors.ConfigError{Key: section + "." + key, Reason: "missing required key"}
	}
	v, err := k.Float64()
	if err != nil {
		return &berrors.ConfigError{Key: section + "." + key, Value: k.String(), Reason: err.Error()}
	}
	*out = v
	return nil
}

func requireUint(f *ini.File, section, key string, out *uint64) error {
	k, err := f.Section(section).GetKey(key)
	if err != nil {
		return &berrors.ConfigError{Key: section + "." + key, Reason: "missing required key"}
	}
	v, err := k.Uint64()
	if err != nil {
		return &berrors.ConfigError{Key: section + "." + key, Value: k.String(), Reason: err.Error()}
	}
	*out = v
	return nil
}

func requireInt(f *ini.File, section, key string, out *int) error {
	k, err := f.Section(section).GetKey(key)
	if err != nil {
		return &berrors.ConfigError{Key: section + "." + key, Reason: "missing required key"}
	}
	v, err := k.Int()
	if err != nil {
		return &berrors.ConfigError{Key: section + "." + key, Value: k.String(), Reason: err.Error()}
	}
	*out = v
	return nil
}

func requireString(f *ini.File, section, key string, out *string) error {
	k, err := f.Section(section).GetKey(key)
	if err != nil {
		return &berrors.ConfigError{Key: section + "." + key, Reason: "missing required key"}
	}
	if k.String() == "" {
		return &berrors.ConfigError{Key: section + "." + key, Reason: "must not be empty"}
	}
	*out = k.String()
	return nil
}
