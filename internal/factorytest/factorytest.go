// Package factorytest runs the production-line hardware diagnostics:
// modem, bus devices and both microphone channels. The verdicts are shown
// on the LED stack and persisted for the login banner.
package factorytest

import (
	"time"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/i2c"
	"github.com/bugg-resources/buggd/internal/led"
	"github.com/bugg-resources/buggd/internal/modem"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/soundcard"
	"github.com/bugg-resources/buggd/internal/stopflag"
	"github.com/bugg-resources/buggd/internal/timeutil"
)

// rssiAttempts is how many one-second-spaced signal polls the tower check
// allows before giving up. Fresh SIMs can take a few seconds to register.
const rssiAttempts = 6

// varianceThreshold is the hiss floor: a live microphone channel shows at
// least this much sample variance from self-noise alone.
const varianceThreshold = 100.0

// ModemTester is the modem surface the diagnostics need.
type ModemTester interface {
	StopModemManager() error
	PowerOn() bool
	PowerOff()
	IsResponding() bool
	SIMCCID() (string, error)
	PollRSSI(attempts int) int
}

// Bridge powers the I2S bridge so its bus address can be probed.
type Bridge interface {
	PowerOn() error
	PowerOff() error
}

// Recorder is the soundcard surface the recording check needs.
type Recorder interface {
	EnableInternalChannel() error
	DisableInternalChannel() error
	EnableExternalChannel() error
	DisableExternalChannel() error
	MeasureVariance(workDir string) (map[string]float64, error)
}

// FactoryTest sequences the three diagnostic groups.
type FactoryTest struct {
	Modem  ModemTester
	Bus    i2c.Bus
	Bridge Bridge
	Card   Recorder
	LEDs   *led.LEDs
	Fsys   fsutil.FileSystem

	// Serial identifies the device in the persisted report.
	Serial string

	// WorkDir holds the test recordings; ResultsFile is where the report
	// is persisted.
	WorkDir     string
	ResultsFile string

	results *Results
}

// Run executes the full diagnostic sequence. The return value reports
// whether every group ran to completion; the hardware verdicts live in
// Results. The report is persisted either way so a partial run still
// leaves evidence on disk.
func (f *FactoryTest) Run() bool {
	monitoring.Logf("factorytest: full test running")
	f.results = NewResults()

	f.LEDs.Apply(led.Status{Top: led.Magenta, Middle: led.Off, Bottom: led.Red})

	completed := f.testModem()
	completed = f.testBusDevices() && completed
	completed = f.testRecording() && completed

	if completed {
		f.LEDs.Apply(led.ForFactoryOutcome(f.results.Outcome()))
		monitoring.Logf("factorytest:%s", f.results.Render(f.Serial))
	} else {
		monitoring.Logf("factorytest: some groups did not complete")
		f.LEDs.Apply(led.Status{Top: led.Magenta, Middle: led.Red, Bottom: led.Red})
	}

	if err := f.results.WriteFile(f.Fsys, f.ResultsFile, f.Serial); err != nil {
		monitoring.Logf("factorytest: %v", err)
	}
	return completed
}

// Results returns the verdicts from the last Run.
func (f *FactoryTest) Results() *Results {
	return f.results
}

// AllPassed reports whether the last Run completed with every check
// passing.
func (f *FactoryTest) AllPassed() bool {
	return f.results != nil && f.results.AllPassed()
}

func (f *FactoryTest) testModem() bool {
	monitoring.Logf("factorytest: modem group")

	if err := f.Modem.StopModemManager(); err != nil {
		monitoring.Logf("factorytest: %v", err)
		return false
	}

	f.Modem.PowerOff()
	f.results.Set(TestModemEnumerates, f.Modem.PowerOn())
	f.results.Set(TestModemResponsive, f.Modem.IsResponding())

	_, err := f.Modem.SIMCCID()
	f.results.Set(TestModemSIMReadable, err == nil)

	rssi := f.Modem.PollRSSI(rssiAttempts)
	f.results.Set(TestModemTowersFound, rssi != modem.RSSIUnknown)

	f.Modem.PowerOff()
	return true
}

func (f *FactoryTest) testBusDevices() bool {
	monitoring.Logf("factorytest: bus-device group")

	if err := f.Bridge.PowerOn(); err != nil {
		monitoring.Logf("factorytest: %v", err)
		return false
	}
	defer func() {
		if err := f.Bridge.PowerOff(); err != nil {
			monitoring.Logf("factorytest: %v", err)
		}
	}()

	f.results.Set(TestBridgeResponding, i2c.DevicePresent(f.Bus, i2c.AddrI2SBridge))
	f.results.Set(TestRTCResponding, i2c.DevicePresent(f.Bus, i2c.AddrRTC))
	f.results.Set(TestLEDResponding, i2c.DevicePresent(f.Bus, i2c.AddrLEDController))
	return true
}

func (f *FactoryTest) testRecording() bool {
	monitoring.Logf("factorytest: recording group")

	steps := []func() error{
		f.Card.DisableInternalChannel,
		f.Card.DisableExternalChannel,
		f.Card.EnableInternalChannel,
		f.Card.EnableExternalChannel,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			monitoring.Logf("factorytest: %v", err)
			return false
		}
	}

	variances, err := f.Card.MeasureVariance(f.WorkDir)
	if err != nil {
		monitoring.Logf("factorytest: %v", err)
		return false
	}
	monitoring.Logf("factorytest: variance internal=%.2f external=%.2f",
		variances["internal"], variances["external"])

	f.results.Set(TestInternalRecording, variances["internal"] > varianceThreshold)
	f.results.Set(TestExternalRecording, variances["external"] > varianceThreshold)
	return true
}

// RailPower raises a power rail without further checks.
type RailPower interface {
	TurnOnRail() error
}

// PhantomRecorder extends Recorder with phantom-power control for the
// bare-board test.
type PhantomRecorder interface {
	EnableExternalChannel() error
	SetPhantom(mode soundcard.PhantomMode) error
}

// BareBoard powers the rails and blinks the user LED so an assembly
// technician can probe test-point voltages.
type BareBoard struct {
	Modem RailPower
	Card  PhantomRecorder
	LED   *led.UserLED
	Clock timeutil.Clock
	Stop  *stopflag.Flag
}

// Run powers everything up and blinks at 1 Hz until Stop is set. In the
// factory Stop never fires; the technician ends the test by cutting
// power.
func (b *BareBoard) Run() {
	monitoring.Logf("factorytest: bare-board test running")

	if err := b.Modem.TurnOnRail(); err != nil {
		monitoring.Logf("factorytest: %v", err)
	}
	if err := b.Card.EnableExternalChannel(); err != nil {
		monitoring.Logf("factorytest: %v", err)
	}
	if err := b.Card.SetPhantom(soundcard.Phantom48); err != nil {
		monitoring.Logf("factorytest: %v", err)
	}

	on := false
	for b.Stop == nil || !b.Stop.IsSet() {
		on = !on
		if err := b.LED.Set(on); err != nil {
			monitoring.Logf("factorytest: user led: %v", err)
		}
		b.Clock.Sleep(500 * time.Millisecond)
	}
}
