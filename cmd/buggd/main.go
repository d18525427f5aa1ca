// Command buggd is the recording daemon for the bugg acoustic monitor.
// It either runs the factory self-test (trigger file or flag) and exits,
// or shows the last factory verdict, builds the configured capture
// pipeline and records until shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bugg-resources/buggd/internal/config"
	"github.com/bugg-resources/buggd/internal/factorytest"
	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/hostinfo"
	"github.com/bugg-resources/buggd/internal/i2c"
	"github.com/bugg-resources/buggd/internal/led"
	"github.com/bugg-resources/buggd/internal/ledger"
	"github.com/bugg-resources/buggd/internal/modem"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/pipeline"
	"github.com/bugg-resources/buggd/internal/recovery"
	"github.com/bugg-resources/buggd/internal/sensor"
	"github.com/bugg-resources/buggd/internal/shell"
	"github.com/bugg-resources/buggd/internal/soundcard"
	"github.com/bugg-resources/buggd/internal/stopflag"
	"github.com/bugg-resources/buggd/internal/timeutil"
	"github.com/bugg-resources/buggd/internal/upload"
	"github.com/bugg-resources/buggd/internal/version"
)

var (
	forceFactoryTest = flag.Bool("force-factory-test", false, "run the full factory test even if the trigger file is not present")
	forceFactoryBare = flag.Bool("force-factory-test-bare", false, "run the bare-board factory test even if the trigger file is not present")
	showVersion      = flag.Bool("version", false, "print version and exit")
)

// bootDisplayTime is how long the last factory verdict stays on the LEDs
// before recording starts.
const bootDisplayTime = 4 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("buggd"))
		return 0
	}

	paths, err := config.LoadPaths()
	if err != nil {
		log.Fatalf("buggd: %v", err)
	}

	fsys := fsutil.OSFileSystem{}
	runner := shell.ExecRunner{}
	clock := timeutil.RealClock{}

	logFile, err := monitoring.NewLogFile(paths.WorkingDirRoot)
	if err != nil {
		monitoring.Logf("buggd: %v, logging to stderr only", err)
	} else {
		defer logFile.Close()
	}
	monitoring.Logf("buggd: starting, %s", version.String("buggd"))

	serial := hostinfo.DiscoverSerial(fsys, paths.CPUInfoFile)
	monitoring.Logf("buggd: device serial %s", serial)

	leds := led.NewLEDs(led.NewPCF8574(runner, led.ExpanderBus, led.ExpanderAddr))
	defer leds.AtExit()

	mdm := modem.New(runner, fsys, clock, modem.SerialOpener(modem.DefaultATDevice))

	// Full test wins when both triggers are present.
	runFull := *forceFactoryTest || fsys.Exists(paths.TriggerFull)
	runBare := *forceFactoryBare || fsys.Exists(paths.TriggerBare)
	if runFull || runBare {
		return runFactory(paths, fsys, runner, clock, leds, mdm, serial, runFull)
	}

	leds.Apply(led.BootStatus(factorytest.PassedAtFactory(fsys, paths.ResultsFile)))
	clock.Sleep(bootDisplayTime)
	leds.AllOff()

	// The deployed config ships on the SD card; pull it in before loading.
	if err := hostinfo.MountSD(runner, fsys, paths.SDDevice, paths.SDMountDir); err != nil {
		monitoring.Logf("buggd: %v", err)
	} else if err := hostinfo.CopySDConfig(fsys, paths.SDMountDir, paths.ConfigFile); err != nil {
		monitoring.Logf("buggd: %v", err)
	}

	cfg, err := config.Load(fsys, paths.ConfigFile)
	if err != nil {
		log.Fatalf("buggd: %v", err)
	}
	monitoring.Logf("buggd: mode %s, project %s, config %s",
		cfg.Device.Mode, cfg.Device.GetProjectID(), cfg.Device.GetConfigID())

	card, err := newSoundcard(paths, fsys, runner, clock)
	if err != nil {
		log.Fatalf("buggd: %v", err)
	}
	defer card.Close()

	stop := stopflag.New()
	deps := sensor.Deps{
		Runner:  runner,
		Fsys:    fsys,
		Clock:   clock,
		Stop:    stop,
		Card:    card,
		WorkDir: paths.WorkingDirRoot,
	}
	sens, err := sensor.NewRegistry().New(cfg.Sensor.SensorType, deps, cfg.Sensor.Options)
	if err != nil {
		log.Fatalf("buggd: %v", err)
	}
	if err := sens.Setup(); err != nil {
		log.Fatalf("buggd: sensor setup: %v", err)
	}

	// The ledger is an audit trail, never a prerequisite for capture.
	lgr, err := ledger.Open(paths.LedgerPath)
	if err != nil {
		monitoring.Logf("buggd: ledger unavailable: %v", err)
		lgr = nil
	} else {
		defer lgr.Close()
	}

	client := upload.NewRetryableClient()
	orch := &pipeline.Orchestrator{
		Cfg:    cfg,
		Paths:  paths,
		Serial: serial,
		Sensor: sens,
		Modem:  mdm,
		Fsys:   fsys,
		Clock:  clock,
		Runner: runner,
		Panel:  led.NewPanel(leds),
		Prober: &upload.HTTPProber{Client: client, URL: cfg.Device.ServerURL},
		Sync: &upload.HTTPSync{
			Client:    client,
			Fsys:      fsys,
			ServerURL: cfg.Device.ServerURL,
			Ledger:    lgr,
		},
		Stop:    stop,
		Ledger:  lgr,
		LogFile: logFile,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orch.Run(ctx); err != nil {
		rec := &recovery.Recovery{
			LEDs:          leds,
			Clock:         clock,
			Runner:        runner,
			Stop:          stop,
			RebootAllowed: cfg.Device.GetRebootAllowed(),
		}
		rec.HandleFatal(err)
		return 1
	}
	monitoring.Logf("buggd: clean exit")
	return 0
}

// runFactory executes the requested factory test and maps its verdict to
// an exit code: 0 only when the full test completed with every check
// passing. The bare-board test blinks until external power-cycle.
func runFactory(paths *config.Paths, fsys fsutil.OSFileSystem, runner shell.ExecRunner, clock timeutil.RealClock, leds *led.LEDs, mdm *modem.Modem, serial string, full bool) int {
	bus := i2c.NewCmdBus(runner, i2c.BusNumber)
	bridge := i2c.NewPCMD3180(fsys, bus, i2c.NewCmdBusWriter(runner, i2c.BusNumber), clock)

	card, err := newSoundcardWith(paths, fsys, runner, bridge)
	if err != nil {
		log.Fatalf("buggd: %v", err)
	}
	defer card.Close()

	if !full {
		bare := &factorytest.BareBoard{
			Modem: mdm,
			Card:  card,
			LED:   led.NewUserLED(fsys, led.DefaultUserLEDPath),
			Clock: clock,
		}
		bare.Run()
		return 0
	}

	// The verdict colours must survive process exit so the operator can
	// read them off the bench.
	leds.Top.StayOnAtExit = true
	leds.Middle.StayOnAtExit = true

	ft := &factorytest.FactoryTest{
		Modem:       mdm,
		Bus:         bus,
		Bridge:      bridge,
		Card:        card,
		LEDs:        leds,
		Fsys:        fsys,
		Serial:      serial,
		WorkDir:     paths.WorkingDirRoot,
		ResultsFile: paths.ResultsFile,
	}
	if ft.Run() && ft.AllPassed() {
		return 0
	}
	return 1
}

func newSoundcard(paths *config.Paths, fsys fsutil.OSFileSystem, runner shell.ExecRunner, clock timeutil.RealClock) (*soundcard.Soundcard, error) {
	bus := i2c.NewCmdBus(runner, i2c.BusNumber)
	bridge := i2c.NewPCMD3180(fsys, bus, i2c.NewCmdBusWriter(runner, i2c.BusNumber), clock)
	return newSoundcardWith(paths, fsys, runner, bridge)
}

func newSoundcardWith(paths *config.Paths, fsys fsutil.OSFileSystem, runner shell.ExecRunner, bridge soundcard.Bridge) (*soundcard.Soundcard, error) {
	pga := soundcard.NewSPIDevPGA(fsys, soundcard.DefaultSPIDevice)
	return soundcard.New(pga, bridge, runner, fsys, paths.SoundcardLock, paths.SoundcardState)
}
