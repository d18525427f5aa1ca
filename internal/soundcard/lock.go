// Package soundcard controls the audio front end: the programmable-gain
// amplifier, phantom power, the internal/external channel switches and
// the persisted gain/phantom state. The daemon and the soundcardctl
// utility both go through this package, serialised by an advisory lock.
package soundcard

import (
	"fmt"
	"os"
	"syscall"
)

// Lock is the advisory file lock guarding the shared audio hardware (PGA,
// I2S bridge, channel GPIOs). Construction fails when another process
// holds it.
type Lock struct {
	f *os.File
}

// AcquireLock takes the lock non-blocking.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("soundcard: open lock %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("soundcard: hardware lock %s held by another process: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
