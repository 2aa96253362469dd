// Package common contains definitions of fundamental types and functions used
// across the file system layers.
package common

import "io"

// ClusterID is the index of a cluster in the data area. Values 0 and 1 are
// reserved; the first usable cluster is 2.
type ClusterID uint32

// FirstValidCluster is the lowest cluster index that can hold data.
const FirstValidCluster = ClusterID(2)

//go:generate mockgen -destination=../../testing/mocks.go -package=testing github.com/dargueta/fatfs/file_systems/common BlockDevice

// BlockDevice is the byte-addressed storage a volume lives on. Implementations
// must either transfer exactly len(p) bytes or return an error.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
}

// Truncator is an interface for objects that support a Truncate() method. This
// method must behave just like [os.File.Truncate].
type Truncator interface {
	Truncate(size int64) error
}

// SectorID is the index of a sector relative to the start of a volume.
type SectorID uint32
