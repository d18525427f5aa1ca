// Package hostinfo covers the daemon's interactions with the host OS:
// device identity, reboot and service control, clock resync and the SD
// card mount.
package hostinfo

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/shell"
)

// UnknownSerial is reported when the CPU serial cannot be read.
const UnknownSerial = "na"

// DiscoverSerial returns the CPU serial number from /proc/cpuinfo (or the
// given override path). The serial names the device in the upload tree, so
// a missing value degrades to a fixed placeholder rather than an error.
func DiscoverSerial(fsys fsutil.FileSystem, cpuinfoPath string) string {
	data, err := fsys.ReadFile(cpuinfoPath)
	if err != nil {
		monitoring.Logf("hostinfo: read %s: %v", cpuinfoPath, err)
		return UnknownSerial
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.TrimSpace(key) == "Serial" {
			if s := strings.TrimSpace(value); s != "" {
				return s
			}
		}
	}
	return UnknownSerial
}

// Reboot asks the OS to restart the machine.
func Reboot(runner shell.Runner) error {
	if _, err := runner.Run("sudo", "reboot"); err != nil {
		return fmt.Errorf("hostinfo: reboot: %w", err)
	}
	return nil
}

// StopService stops a systemd unit.
func StopService(runner shell.Runner, name string) error {
	if _, err := runner.Run("sudo", "systemctl", "stop", name); err != nil {
		return fmt.Errorf("hostinfo: stop %s: %w", name, err)
	}
	return nil
}

// SyncClock steps the system clock from network time. Called whenever a
// connection is newly established so artifact timestamps stay honest after
// long offline stretches.
func SyncClock(runner shell.Runner) error {
	if _, err := runner.Run("sudo", "ntpdate", "-u", "pool.ntp.org"); err != nil {
		return fmt.Errorf("hostinfo: clock sync: %w", err)
	}
	return nil
}

// MountSD mounts the SD card device at dir if nothing is mounted there
// yet, then verifies the mount is writable with a probe file.
func MountSD(runner shell.Runner, fsys fsutil.FileSystem, device, dir string) error {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("hostinfo: mount point: %w", err)
	}

	if _, err := runner.Run("mountpoint", "-q", dir); err != nil {
		if _, err := runner.Run("sudo", "mount", device, dir); err != nil {
			// The write probe below is the real verdict.
			monitoring.Logf("hostinfo: mount %s: %v", device, err)
		}
	}

	probe := filepath.Join(dir, ".buggd_write_probe")
	if err := fsys.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("hostinfo: sd card not writable: %w", err)
	}
	if err := fsys.Remove(probe); err != nil {
		monitoring.Logf("hostinfo: remove probe: %v", err)
	}
	return nil
}

// MergeDir moves every file under src into the same relative location
// under dst. Used at boot to push locally spilled recordings onto a
// freshly mounted SD card. Collisions keep the destination file.
func MergeDir(fsys fsutil.FileSystem, src, dst string) error {
	if !fsys.Exists(src) {
		return nil
	}
	moved := 0
	err := fsys.WalkFiles(src, func(path string, info fs.FileInfo) error {
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fsys.Exists(target) {
			return nil
		}
		if err := fsys.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		// Local storage and the card are different filesystems, so a
		// plain rename cannot serve here.
		if err := fsutil.MoveFile(fsys, path, target); err != nil {
			return err
		}
		moved++
		return nil
	})
	if err != nil {
		return fmt.Errorf("hostinfo: merge %s into %s: %w", src, dst, err)
	}
	if moved > 0 {
		monitoring.Logf("hostinfo: merged %d spilled files into %s", moved, dst)
	}
	return nil
}

// CopySDConfig copies a config file from the SD card over the local copy,
// so field reconfiguration is a card swap. Missing source is not an error.
func CopySDConfig(fsys fsutil.FileSystem, sdDir, localPath string) error {
	src := filepath.Join(sdDir, filepath.Base(localPath))
	if !fsys.Exists(src) {
		return nil
	}
	data, err := fsys.ReadFile(src)
	if err != nil {
		return fmt.Errorf("hostinfo: read sd config: %w", err)
	}
	if err := fsys.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("hostinfo: config dir: %w", err)
	}
	if err := fsys.WriteFile(localPath, data, 0644); err != nil {
		return fmt.Errorf("hostinfo: install sd config: %w", err)
	}
	monitoring.Logf("hostinfo: installed config from %s", src)
	return nil
}
