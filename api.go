package fatfs

import (
	"github.com/dargueta/fatfs/file_systems/common"
)

// Node is the capability set shared by files and directories on a volume.
//
// Operations that only make sense for one kind of node must fail on the other
// with a typed error rather than silently doing nothing: calling List on a file
// returns [ErrUnsupportedForFile], and directory implementations return the
// analogous error for byte-level I/O.
type Node interface {
	IsDirectory() bool
	Name() string
	// List returns the names of the node's children.
	List() ([]string, error)
	// ListFiles returns the node's children.
	ListFiles() ([]Node, error)
	// Length returns the logical size of the node, in bytes.
	Length() int64
	// SetLength grows or truncates the node to exactly `length` bytes. Bytes
	// added by growing the node have unspecified contents.
	SetLength(length int64) error
	ReadAt(buffer []byte, offset int64) (int, error)
	// WriteAt writes `buffer` at `offset`, extending the node if the write ends
	// past its current length.
	WriteAt(buffer []byte, offset int64) (int, error)
}

// DirectoryEntry is the subset of an on-disk directory entry a file needs. The
// directory layer owns decoding and persisting entries; the file layer only
// reads and updates these fields.
type DirectoryEntry interface {
	Name() string
	StartCluster() common.ClusterID
	SetStartCluster(cluster common.ClusterID)
	FileSize() int64
	SetFileSize(size int64)
}

// Flusher is implemented by directory entries that buffer their modifications
// and need to be told to write them out.
type Flusher interface {
	Flush() error
}
