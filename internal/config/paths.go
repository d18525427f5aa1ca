package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Paths holds the host filesystem locations the daemon touches. Every
// field can be overridden from the environment with a BUGGD_ prefix, which
// keeps development machines and test rigs away from the production
// locations.
type Paths struct {
	SDMountDir     string `envconfig:"SD_MOUNT_DIR" default:"/mnt/sd"`
	SDDevice       string `envconfig:"SD_DEVICE" default:"/dev/mmcblk0p1"`
	ConfigFile     string `envconfig:"CONFIG_FILE" default:"/home/bugg/config.json"`
	WorkingDirRoot string `envconfig:"WORKING_DIR" default:"/tmp/buggd_tmp"`
	LocalUploadDir string `envconfig:"LOCAL_UPLOAD_DIR" default:"/home/bugg/audio"`

	TriggerFull string `envconfig:"FACTORY_TRIGGER_FULL" default:"/mnt/sd/factory-test-full.txt"`
	TriggerBare string `envconfig:"FACTORY_TRIGGER_BARE" default:"/mnt/sd/factory-test-bare.txt"`
	ResultsFile string `envconfig:"FACTORY_RESULTS_FILE" default:"/home/bugg/factory_test_results.txt"`

	LedgerPath     string `envconfig:"LEDGER_PATH" default:"/var/lib/buggd/artifacts.db"`
	SoundcardLock  string `envconfig:"SOUNDCARD_LOCK" default:"/tmp/soundcard.lock"`
	SoundcardState string `envconfig:"SOUNDCARD_STATE" default:"/tmp/soundcard_state.json"`
	CPUInfoFile    string `envconfig:"CPUINFO_FILE" default:"/proc/cpuinfo"`
}

// LoadPaths resolves the path set from defaults and BUGGD_* environment
// overrides.
func LoadPaths() (*Paths, error) {
	var p Paths
	if err := envconfig.Process("buggd", &p); err != nil {
		return nil, fmt.Errorf("config: environment overrides: %w", err)
	}
	return &p, nil
}
