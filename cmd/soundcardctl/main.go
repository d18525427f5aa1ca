// Command soundcardctl controls the audio front end without running the
// recording daemon: channel power, gain, phantom mode and the variance
// hiss check. It shares the hardware lock and the persisted state blob
// with the daemon, so the two never fight over the PGA.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/bugg-resources/buggd/internal/config"
	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/i2c"
	"github.com/bugg-resources/buggd/internal/shell"
	"github.com/bugg-resources/buggd/internal/soundcard"
	"github.com/bugg-resources/buggd/internal/timeutil"
	"github.com/bugg-resources/buggd/internal/version"
)

var showVersion = flag.Bool("version", false, "print version and exit")

func usage() {
	fmt.Fprintf(os.Stderr, `usage: soundcardctl <command>

Commands:
  power internal|external on|off   switch a microphone channel
  gain <0-20>                      set the PGA gain step
  phantom NONE|PIP|P3V3|P48        set the phantom power mode
  variance                         record one second and report per-channel variance
  state                            print the persisted gain/phantom state
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("soundcardctl"))
		return
	}
	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	paths, err := config.LoadPaths()
	if err != nil {
		log.Fatalf("soundcardctl: %v", err)
	}

	fsys := fsutil.OSFileSystem{}
	runner := shell.ExecRunner{}
	bus := i2c.NewCmdBus(runner, i2c.BusNumber)
	bridge := i2c.NewPCMD3180(fsys, bus, i2c.NewCmdBusWriter(runner, i2c.BusNumber), timeutil.RealClock{})
	pga := soundcard.NewSPIDevPGA(fsys, soundcard.DefaultSPIDevice)

	card, err := soundcard.New(pga, bridge, runner, fsys, paths.SoundcardLock, paths.SoundcardState)
	if err != nil {
		log.Fatalf("soundcardctl: %v", err)
	}
	defer card.Close()

	switch args[0] {
	case "power":
		if len(args) != 3 {
			usage()
		}
		if err := switchChannel(card, args[1], args[2]); err != nil {
			log.Fatalf("soundcardctl: %v", err)
		}
	case "gain":
		if len(args) != 2 {
			usage()
		}
		gain, err := strconv.Atoi(args[1])
		if err != nil {
			usage()
		}
		if err := card.SetGain(gain); err != nil {
			log.Fatalf("soundcardctl: %v", err)
		}
		fmt.Printf("gain set to %d\n", gain)
	case "phantom":
		if len(args) != 2 {
			usage()
		}
		mode, err := soundcard.ParsePhantomMode(strings.ToUpper(args[1]))
		if err != nil {
			log.Fatalf("soundcardctl: %v", err)
		}
		if err := card.SetPhantom(mode); err != nil {
			log.Fatalf("soundcardctl: %v", err)
		}
		fmt.Printf("phantom power set to %s\n", mode)
	case "variance":
		variances, err := card.MeasureVariance(paths.WorkingDirRoot)
		if err != nil {
			log.Fatalf("soundcardctl: %v", err)
		}
		fmt.Printf("signal variances: internal = %.2f, external = %.2f\n",
			variances["internal"], variances["external"])
	case "state":
		s := card.State()
		fmt.Printf("gain: %d\nphantom: %s\n", s.Gain, s.Phantom)
	default:
		usage()
	}
}

func switchChannel(card *soundcard.Soundcard, channel, state string) error {
	on := state == "on"
	if !on && state != "off" {
		usage()
	}
	switch channel {
	case "internal":
		if on {
			return card.EnableInternalChannel()
		}
		return card.DisableInternalChannel()
	case "external":
		if on {
			return card.EnableExternalChannel()
		}
		return card.DisableExternalChannel()
	}
	usage()
	return nil
}
