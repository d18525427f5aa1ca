package factorytest

import (
	"fmt"
	"strings"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/led"
	"github.com/bugg-resources/buggd/internal/monitoring"
)

// Individual hardware checks. The names are stable identifiers: they key
// the results file and the LED encoding.
const (
	TestModemEnumerates   = "modem_enumerates"
	TestModemResponsive   = "modem_responsive"
	TestModemSIMReadable  = "modem_sim_readable"
	TestModemTowersFound  = "modem_towers_found"
	TestBridgeResponding  = "i2s_bridge_responding"
	TestRTCResponding     = "rtc_responding"
	TestLEDResponding     = "led_controller_responding"
	TestInternalRecording = "internal_microphone_recording"
	TestExternalRecording = "external_microphone_recording"
)

// testOrder fixes the report layout.
var testOrder = []string{
	TestModemEnumerates,
	TestModemResponsive,
	TestModemSIMReadable,
	TestModemTowersFound,
	TestBridgeResponding,
	TestRTCResponding,
	TestLEDResponding,
	TestInternalRecording,
	TestExternalRecording,
}

// Results holds one verdict per hardware check. Every test starts failed,
// so a group that never runs reports its tests as failures.
type Results struct {
	verdicts map[string]bool
}

// NewResults returns an all-failed result set.
func NewResults() *Results {
	v := make(map[string]bool, len(testOrder))
	for _, name := range testOrder {
		v[name] = false
	}
	return &Results{verdicts: v}
}

// Set records one verdict.
func (r *Results) Set(name string, passed bool) {
	r.verdicts[name] = passed
}

// Get returns one verdict.
func (r *Results) Get(name string) bool {
	return r.verdicts[name]
}

// AllPassed reports whether every check passed.
func (r *Results) AllPassed() bool {
	for _, v := range r.verdicts {
		if !v {
			return false
		}
	}
	return true
}

// Outcome reduces the result set to the failed-test view the LED encoding
// works from. Categories follow the test names: modem checks, bus-device
// probes, microphone recordings.
func (r *Results) Outcome() led.FactoryOutcome {
	o := led.FactoryOutcome{AllPassed: r.AllPassed()}
	for _, name := range testOrder {
		if r.verdicts[name] {
			continue
		}
		switch {
		case strings.HasPrefix(name, "modem"):
			o.ModemFailures = append(o.ModemFailures, name)
		case strings.HasSuffix(name, "responding"):
			o.BusFailures = append(o.BusFailures, name)
		default:
			o.RecordingFailures = append(o.RecordingFailures, name)
		}
	}
	return o
}

// Render formats the report written to disk and shown on the console
// before login.
func (r *Results) Render(serial string) string {
	var b strings.Builder
	b.WriteString("\nFactory Self-Test Results:\n")
	b.WriteString("--------------------------\n")
	fmt.Fprintf(&b, "Device Serial: %s\n", serial)
	for _, name := range testOrder {
		fmt.Fprintf(&b, "%s: %s\n", name, boolWord(r.verdicts[name]))
	}
	fmt.Fprintf(&b, "all_tests_passed: %s\n", boolWord(r.AllPassed()))
	b.WriteString("-----------------------\n")
	if r.AllPassed() {
		b.WriteString("Factory Self-Test PASS!\n\n")
	} else {
		b.WriteString("Factory Self-Test FAIL!\n\n")
	}
	return b.String()
}

func boolWord(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

// WriteFile persists the report world-readable so the login banner can
// display it.
func (r *Results) WriteFile(fsys fsutil.FileSystem, path, serial string) error {
	if err := fsys.WriteFile(path, []byte(r.Render(serial)), 0o644); err != nil {
		return fmt.Errorf("factorytest: write results: %w", err)
	}
	if err := fsys.Chmod(path, 0o644); err != nil {
		return fmt.Errorf("factorytest: chmod results: %w", err)
	}
	return nil
}

// PassedAtFactory reads a previously persisted report and returns its
// overall verdict. A missing or unreadable file reads as not passed.
func PassedAtFactory(fsys fsutil.FileSystem, path string) bool {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, "all_tests_passed") {
			continue
		}
		_, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		return strings.EqualFold(strings.TrimSpace(value), "true")
	}
	monitoring.Logf("factorytest: no verdict line in %s", path)
	return false
}
