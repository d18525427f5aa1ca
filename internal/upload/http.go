package upload

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/httputil"
	"github.com/bugg-resources/buggd/internal/ledger"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/stopflag"
)

// uploadPassword is the shared-secret form field the collector expects on
// every upload.
const uploadPassword = "soundscape"

// uploadEndpoint is appended to the configured server URL.
const uploadEndpoint = "/api/bugg/upload"

// HTTPSync walks the upload tree and posts each file to the collector.
// Files are deleted only after a confirmed 2xx, so a failed cycle leaves
// everything in place for the next one.
type HTTPSync struct {
	Client    httputil.HTTPClient
	Fsys      fsutil.FileSystem
	ServerURL string

	// Ledger, when present, records confirmed uploads. Never required.
	Ledger *ledger.Ledger
}

// UploadFile posts one file as multipart/form-data.
func (s *HTTPSync) UploadFile(path string) error {
	f, err := s.Fsys.Open(path)
	if err != nil {
		return fmt.Errorf("upload: open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("upload: form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("upload: read %s: %w", path, err)
	}
	if err := w.WriteField("password", uploadPassword); err != nil {
		return fmt.Errorf("upload: form field: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload: finish form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.ServerURL+uploadEndpoint, &body)
	if err != nil {
		return fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if !statusOKRange(resp.StatusCode) {
		return fmt.Errorf("upload: post %s: collector returned %d", path, resp.StatusCode)
	}
	return nil
}

// SyncDir walks root and uploads every non-log file, deleting each one
// the collector confirms. Failures are per-file and best-effort; the walk
// continues. Returns the number of files confirmed uploaded.
func (s *HTTPSync) SyncDir(root string, stop *stopflag.Flag) int {
	uploaded := 0
	err := s.Fsys.WalkFiles(root, func(path string, info fs.FileInfo) error {
		if stop != nil && stop.IsSet() {
			return fs.SkipAll
		}
		if strings.HasSuffix(path, ".log") {
			return nil
		}
		if err := s.UploadFile(path); err != nil {
			monitoring.Logf("upload: %v", err)
			return nil
		}
		monitoring.Diagf("upload: sent %s (%d bytes)", path, info.Size())
		if err := s.Fsys.Remove(path); err != nil {
			monitoring.Logf("upload: remove after confirm %s: %v", path, err)
		}
		if s.Ledger != nil {
			if err := s.Ledger.MarkUploaded(path); err != nil {
				monitoring.Logf("upload: ledger: %v", err)
			}
		}
		uploaded++
		return nil
	})
	if err != nil {
		monitoring.Logf("upload: walk %s: %v", root, err)
	}
	return uploaded
}

// SyncLogs uploads archived .log files under root, deleting each one the
// collector confirms so a log is shipped exactly once. Only rotated logs
// live under the upload tree; the live boot log is written elsewhere and
// never visited here. A failed upload leaves the file for the next cycle.
func (s *HTTPSync) SyncLogs(root string) {
	err := s.Fsys.WalkFiles(root, func(path string, info fs.FileInfo) error {
		if !strings.HasSuffix(path, ".log") {
			return nil
		}
		if err := s.UploadFile(path); err != nil {
			monitoring.Logf("upload: log %v", err)
			return nil
		}
		monitoring.Diagf("upload: sent log %s (%d bytes)", path, info.Size())
		if err := s.Fsys.Remove(path); err != nil {
			monitoring.Logf("upload: remove after confirm %s: %v", path, err)
		}
		return nil
	})
	if err != nil {
		monitoring.Logf("upload: walk logs %s: %v", root, err)
	}
}
