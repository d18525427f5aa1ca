package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bugg-resources/buggd/internal/fsutil"
)

const validConfig = `{
  "device": {
    "project_id": "proj42",
    "config_id": "cfg7",
    "server_url": "https://collector.example.org",
    "mode": 2
  },
  "sensor": {
    "sensor_type": "I2SMic",
    "record_length": 60,
    "compress_data": false
  }
}`

func writeConfig(t *testing.T, fsys *fsutil.MemoryFileSystem, path, content string) {
	t.Helper()
	if err := fsys.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeConfig(t, fsys, "/home/bugg/config.json", validConfig)

	cfg, err := Load(fsys, "/home/bugg/config.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Device.GetProjectID() != "proj42" {
		t.Errorf("project = %q, want proj42", cfg.Device.GetProjectID())
	}
	if cfg.Device.Mode != ModeWebSocketSafe {
		t.Errorf("mode = %v, want websocket-safe", cfg.Device.Mode)
	}
	if !cfg.Device.GetRebootAllowed() {
		t.Error("reboot should default to allowed")
	}
	if cfg.Sensor.SensorType != "I2SMic" {
		t.Errorf("sensor type = %q, want I2SMic", cfg.Sensor.SensorType)
	}
	if _, ok := cfg.Sensor.Options["record_length"]; !ok {
		t.Error("sensor options should keep variant keys")
	}
	if _, ok := cfg.Sensor.Options["sensor_type"]; ok {
		t.Error("sensor_type should be split out of the option map")
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	bad := strings.Replace(validConfig, `"mode": 2`, `"mode": 9`, 1)
	writeConfig(t, fsys, "/cfg.json", bad)

	_, err := Load(fsys, "/cfg.json")
	if err == nil {
		t.Fatal("expected error for mode 9")
	}
	if !strings.Contains(err.Error(), "invalid recording mode") {
		t.Errorf("error = %v, want invalid recording mode", err)
	}
}

func TestLoadRejectsMissingServerURL(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	bad := strings.Replace(validConfig, `"server_url": "https://collector.example.org",`, "", 1)
	writeConfig(t, fsys, "/cfg.json", bad)

	if _, err := Load(fsys, "/cfg.json"); err == nil {
		t.Fatal("expected error for missing server_url")
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeConfig(t, fsys, "/cfg.yaml", validConfig)

	if _, err := Load(fsys, "/cfg.yaml"); err == nil {
		t.Fatal("expected error for non-json extension")
	}
}

func TestLoadMissingFile(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	if _, err := Load(fsys, "/absent.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeHTTPPolling, "http-polling"},
		{ModeWebSocketSafe, "websocket-safe"},
		{ModeContinuousStream, "continuous-stream"},
		{Mode(0), "invalid(0)"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Mode(%d).String() = %q, want %q", int(tt.mode), got, tt.want)
		}
	}
}

func TestSensorConfigRoundTrip(t *testing.T) {
	in := SensorConfig{
		SensorType: "ExternalMic",
		Options: map[string]json.RawMessage{
			"record_freq": json.RawMessage("48000"),
		},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out SensorConfig
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveOptions(t *testing.T) {
	raw := map[string]json.RawMessage{
		"record_length": json.RawMessage("1200"),
		"compress_data": json.RawMessage("false"),
		"device_name":   json.RawMessage(`"plughw:0"`),
	}

	n, err := ResolveInt(raw, IntOption("record_length", 300, "seconds per capture"))
	if err != nil || n != 1200 {
		t.Errorf("ResolveInt = %d, %v; want 1200, nil", n, err)
	}
	n, err = ResolveInt(raw, IntOption("capture_delay", 7, "seconds between captures"))
	if err != nil || n != 7 {
		t.Errorf("ResolveInt default = %d, %v; want 7, nil", n, err)
	}

	b, err := ResolveBool(raw, BoolOption("compress_data", true, "mp3 output"))
	if err != nil || b {
		t.Errorf("ResolveBool = %v, %v; want false, nil", b, err)
	}

	s, err := ResolveString(raw, StringOption("device_name", "default", "alsa device"))
	if err != nil || s != "plughw:0" {
		t.Errorf("ResolveString = %q, %v; want plughw:0, nil", s, err)
	}

	if _, err := ResolveInt(raw, IntOption("device_name", 0, "")); err == nil {
		t.Error("expected type error resolving string as int")
	}
}

func TestLoadPathsDefaults(t *testing.T) {
	p, err := LoadPaths()
	if err != nil {
		t.Fatalf("LoadPaths: %v", err)
	}
	if p.SDMountDir == "" || p.ConfigFile == "" || p.ResultsFile == "" {
		t.Errorf("expected non-empty defaults, got %+v", p)
	}
}

func TestLoadPathsEnvOverride(t *testing.T) {
	t.Setenv("BUGGD_SD_MOUNT_DIR", "/tmp/fake-sd")

	p, err := LoadPaths()
	if err != nil {
		t.Fatalf("LoadPaths: %v", err)
	}
	if p.SDMountDir != "/tmp/fake-sd" {
		t.Errorf("SDMountDir = %q, want /tmp/fake-sd", p.SDMountDir)
	}
}
