// Command modemctl drives the modem without running the recording
// daemon. Intended for bench debugging: power the rail, check
// enumeration, read the SIM and signal strength.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/modem"
	"github.com/bugg-resources/buggd/internal/shell"
	"github.com/bugg-resources/buggd/internal/timeutil"
	"github.com/bugg-resources/buggd/internal/version"
)

var showVersion = flag.Bool("version", false, "print version and exit")

func usage() {
	fmt.Fprintf(os.Stderr, `usage: modemctl <command>

Commands:
  power on|off    raise or drop the modem power rail
  enumerated      check whether the AT device node is present
  responding      check AT responsiveness
  sim             read the SIM CCID
  rssi            read raw signal strength (AT+CSQ)
  rssi-dbm        read signal strength in dBm
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("modemctl"))
		return
	}
	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	m := modem.New(shell.ExecRunner{}, fsutil.OSFileSystem{}, timeutil.RealClock{},
		modem.SerialOpener(modem.DefaultATDevice))

	switch args[0] {
	case "power":
		if len(args) != 2 {
			usage()
		}
		switch args[1] {
		case "on":
			if m.PowerOn() {
				fmt.Println("modem powered and enumerated")
			} else {
				fmt.Println("rail raised but no modem enumerated")
			}
		case "off":
			m.PowerOff()
			fmt.Println("modem powered off")
		default:
			usage()
		}
	case "enumerated":
		if m.IsEnumerated() {
			fmt.Println("modem is enumerated")
		} else {
			fmt.Println("modem is not enumerated; it is probably not powered on")
		}
	case "responding":
		if m.IsResponding() {
			fmt.Println("modem is responding to AT commands")
		} else {
			fmt.Println("modem is not responding")
		}
	case "sim":
		ccid, err := m.SIMCCID()
		if err != nil {
			log.Fatalf("modemctl: %v", err)
		}
		fmt.Printf("SIM present, CCID %s\n", ccid)
	case "rssi":
		raw, err := m.RSSI()
		if err != nil {
			log.Fatalf("modemctl: %v", err)
		}
		if raw == modem.RSSIUnknown {
			fmt.Println("no signal detectable")
			return
		}
		fmt.Printf("signal strength %d\n", raw)
	case "rssi-dbm":
		raw, err := m.RSSI()
		if err != nil {
			log.Fatalf("modemctl: %v", err)
		}
		dbm, ok := modem.RSSIdBm(raw)
		if !ok {
			fmt.Println("no signal detectable")
			return
		}
		fmt.Printf("signal strength %d dBm\n", dbm)
	default:
		usage()
	}
}
