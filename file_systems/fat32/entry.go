package fat32

import (
	"github.com/dargueta/fatfs/file_systems/common"
)

// MemoryEntry is a directory entry that only exists in memory. It's for
// callers that locate files by some other means than reading directories, such
// as a known start cluster, and for tests.
type MemoryEntry struct {
	name         string
	startCluster common.ClusterID
	fileSize     int64
}

func NewMemoryEntry(name string, startCluster common.ClusterID, fileSize int64) *MemoryEntry {
	return &MemoryEntry{
		name:         name,
		startCluster: startCluster,
		fileSize:     fileSize,
	}
}

func (entry *MemoryEntry) Name() string {
	return entry.name
}

func (entry *MemoryEntry) StartCluster() common.ClusterID {
	return entry.startCluster
}

func (entry *MemoryEntry) SetStartCluster(cluster common.ClusterID) {
	entry.startCluster = cluster
}

func (entry *MemoryEntry) FileSize() int64 {
	return entry.fileSize
}

func (entry *MemoryEntry) SetFileSize(size int64) {
	entry.fileSize = size
}
