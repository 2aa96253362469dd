package fat32

import (
	"github.com/dargueta/fatfs/file_systems/common"
	log "github.com/sirupsen/logrus"
)

// Config controls how a volume is mounted and how its FAT hands out clusters.
type Config struct {
	// Logger receives debug output on allocation, frees, chain resizes, and
	// mounting. Defaults to the logrus standard logger.
	Logger log.FieldLogger
	// AllocationStart is the first cluster the allocator examines. Values
	// outside the data area are treated as cluster 2.
	AllocationStart common.ClusterID
	// SkipValidation mounts volumes whose boot sector fails [BootSector.Validate].
	// Offset math on such volumes is only as good as the geometry on disk.
	SkipValidation bool
}

func DefaultConfig() Config {
	return Config{
		Logger:          log.StandardLogger(),
		AllocationStart: common.FirstValidCluster,
	}
}

func (cfg Config) logger() log.FieldLogger {
	if cfg.Logger == nil {
		return log.StandardLogger()
	}
	return cfg.Logger
}
