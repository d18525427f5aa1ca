package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bugg-resources/buggd/internal/fsutil"
)

// LogFile captures the daemon's standard log output to a per-boot file so
// field logs can be shipped to the collector alongside the audio data.
// Output continues to reach stderr as well.
type LogFile struct {
	mu   sync.Mutex
	dir  string
	file *os.File
}

// NewLogFile opens a fresh timestamped log file under dir and tees the
// default logger into it.
func NewLogFile(dir string) (*LogFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("monitoring: create log dir: %w", err)
	}
	l := &LogFile{dir: dir}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *LogFile) open() error {
	name := filepath.Join(l.dir, fmt.Sprintf("buggd_%s.log", time.Now().UTC().Format("2006-01-02T15_04_05")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("monitoring: open log file: %w", err)
	}
	l.file = f
	tee := io.MultiWriter(os.Stderr, f)
	log.SetOutput(tee)
	SetStreamWriters(tee, tee, nil)
	return nil
}

// Path returns the current log file path.
func (l *LogFile) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// ArchiveTo closes the current log file, moves it into destDir and starts a
// fresh file. The moved file keeps its name so the collector sees one file
// per boot-to-sync window.
func (l *LogFile) ArchiveTo(destDir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("monitoring: log file already closed")
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("monitoring: create archive dir: %w", err)
	}

	old := l.file.Name()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("monitoring: close log file: %w", err)
	}
	// destDir is usually on the SD card while the log lives on the
	// rootfs; MoveFile copies when rename cannot cross the devices.
	if err := fsutil.MoveFile(fsutil.OSFileSystem{}, old, filepath.Join(destDir, filepath.Base(old))); err != nil {
		// Keep logging locally even if the move failed.
		reopenErr := l.open()
		if reopenErr != nil {
			return fmt.Errorf("monitoring: archive log file: %w (reopen also failed: %v)", err, reopenErr)
		}
		return fmt.Errorf("monitoring: archive log file: %w", err)
	}
	return l.open()
}

// Close detaches the default logger from the file and closes it.
func (l *LogFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	log.SetOutput(os.Stderr)
	SetStreamWriters(os.Stderr, os.Stderr, nil)
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
