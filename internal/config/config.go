// Package config loads and validates the device configuration that arrives
// on the SD card, and resolves per-sensor option values against each sensor
// variant's declared schema.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bugg-resources/buggd/internal/fsutil"
)

// Mode selects the pipeline topology.
type Mode int

const (
	ModeHTTPPolling      Mode = 1
	ModeWebSocketSafe    Mode = 2
	ModeContinuousStream Mode = 3
)

// Valid reports whether the mode is one of the three known topologies.
func (m Mode) Valid() bool {
	return m == ModeHTTPPolling || m == ModeWebSocketSafe || m == ModeContinuousStream
}

func (m Mode) String() string {
	switch m {
	case ModeHTTPPolling:
		return "http-polling"
	case ModeWebSocketSafe:
		return "websocket-safe"
	case ModeContinuousStream:
		return "continuous-stream"
	default:
		return fmt.Sprintf("invalid(%d)", int(m))
	}
}

// maxConfigSize bounds the config file read. A device config is a few
// hundred bytes; anything larger is a corrupt card.
const maxConfigSize = 1 << 20

// DeviceConfig identifies the deployment and selects the pipeline mode.
type DeviceConfig struct {
	ProjectID string `json:"project_id"`
	ConfigID  string `json:"config_id"`
	ServerURL string `json:"server_url"`
	Mode      Mode   `json:"mode"`

	// RebootAllowed gates every automatic reboot (fatal-error recovery
	// and the daily scheduled reboot). Defaults to true.
	RebootAllowed *bool `json:"reboot_allowed,omitempty"`
}

// GetProjectID returns the project identifier, defaulting to "na".
func (d *DeviceConfig) GetProjectID() string {
	if d.ProjectID == "" {
		return "na"
	}
	return d.ProjectID
}

// GetConfigID returns the configuration identifier, defaulting to "na".
func (d *DeviceConfig) GetConfigID() string {
	if d.ConfigID == "" {
		return "na"
	}
	return d.ConfigID
}

// GetRebootAllowed returns whether automatic reboots are permitted.
func (d *DeviceConfig) GetRebootAllowed() bool {
	if d.RebootAllowed == nil {
		return true
	}
	return *d.RebootAllowed
}

// SensorConfig names the sensor variant and carries its raw option values.
// Keys other than sensor_type are kept undecoded so each variant can
// resolve them against its own schema.
type SensorConfig struct {
	SensorType string
	Options    map[string]json.RawMessage
}

// UnmarshalJSON splits sensor_type from the variant-specific options.
func (s *SensorConfig) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["sensor_type"]; ok {
		if err := json.Unmarshal(v, &s.SensorType); err != nil {
			return fmt.Errorf("config: sensor_type: %w", err)
		}
		delete(raw, "sensor_type")
	}
	s.Options = raw
	return nil
}

// MarshalJSON re-flattens sensor_type into the option map.
func (s SensorConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Options)+1)
	for k, v := range s.Options {
		out[k] = v
	}
	t, err := json.Marshal(s.SensorType)
	if err != nil {
		return nil, err
	}
	out["sensor_type"] = t
	return json.Marshal(out)
}

// Config is the full device configuration.
type Config struct {
	Device DeviceConfig `json:"device"`
	Sensor SensorConfig `json:"sensor"`
}

// Validate checks the parts of the config the daemon cannot run without.
func (c *Config) Validate() error {
	if !c.Device.Mode.Valid() {
		return fmt.Errorf("config: invalid recording mode %d (want 1, 2 or 3)", int(c.Device.Mode))
	}
	if c.Device.ServerURL == "" {
		return fmt.Errorf("config: server_url is required")
	}
	if !strings.HasPrefix(c.Device.ServerURL, "http://") && !strings.HasPrefix(c.Device.ServerURL, "https://") {
		return fmt.Errorf("config: server_url %q must be http or https", c.Device.ServerURL)
	}
	if c.Sensor.SensorType == "" {
		return fmt.Errorf("config: sensor_type is required")
	}
	return nil
}

// Load reads, parses and validates a config file.
func Load(fsys fsutil.FileSystem, path string) (*Config, error) {
	if ext := filepath.Ext(path); ext != ".json" {
		return nil, fmt.Errorf("config: %s: expected a .json file", path)
	}
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config: %s: file too large (%d bytes)", path, info.Size())
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
