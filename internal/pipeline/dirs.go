package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/bugg-resources/buggd/internal/config"
	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/hostinfo"
)

// uploadDirName is the tree synced to the collector, under the SD mount
// or the local fallback.
const uploadDirName = "audio"

// Layout is the run's directory set. WorkingDir holds in-flight
// recordings, DataDir is where finished artifacts land, UploadDir is the
// tree the sync walks (DataDir lives inside it).
type Layout struct {
	WorkingDir string
	UploadDir  string
	DataDir    string
}

// NewLayout derives and creates the run directories. The data directory
// encodes project, device and config identity so collector-side sorting
// needs no extra metadata:
//
//	<upload>/proj_<project>/bugg_<serial>/conf_<config>
//
// With the SD card available, recordings spilled locally by an earlier
// cardless run are merged into the card's tree first.
func NewLayout(fsys fsutil.FileSystem, paths *config.Paths, cfg *config.Config, serial string, useSD bool) (Layout, error) {
	l := Layout{WorkingDir: paths.WorkingDirRoot}

	if useSD {
		l.UploadDir = filepath.Join(paths.SDMountDir, uploadDirName)
		if err := hostinfo.MergeDir(fsys, paths.LocalUploadDir, l.UploadDir); err != nil {
			return Layout{}, err
		}
	} else {
		l.UploadDir = paths.LocalUploadDir
	}

	projDir := filepath.Join(l.UploadDir, "proj_"+cfg.Device.GetProjectID())
	deviceDir := filepath.Join(projDir, "bugg_"+serial)
	l.DataDir = filepath.Join(deviceDir, "conf_"+cfg.Device.GetConfigID())

	for _, dir := range []string{l.WorkingDir, l.DataDir} {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return Layout{}, fmt.Errorf("pipeline: create %s: %w", dir, err)
		}
	}
	return l, nil
}
