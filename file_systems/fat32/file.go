package fat32

import (
	"fmt"
	"io"

	"github.com/dargueta/fatfs"
	"github.com/dargueta/fatfs/file_systems/common"
)

// MaxFileSize is the largest size a FAT32 directory entry can record.
const MaxFileSize = int64(0xFFFFFFFF)

// File is a regular file on a FAT32 volume. Its cluster chain is resolved the
// first time it's needed and reused afterwards.
//
// A File is not safe for concurrent use, and neither is the [FAT] it shares
// with every other file on the volume.
type File struct {
	entry        fatfs.DirectoryEntry
	device       common.BlockDevice
	fat          *FAT
	bootSector   *BootSector
	clusterChain *ClusterChain
}

var _ fatfs.Node = (*File)(nil)

func NewFile(
	entry fatfs.DirectoryEntry,
	device common.BlockDevice,
	fat *FAT,
	bootSector *BootSector,
) *File {
	return &File{
		entry:      entry,
		device:     device,
		fat:        fat,
		bootSector: bootSector,
	}
}

// chain returns the file's cluster chain, resolving it from the directory
// entry's start cluster on first use. If resolving fails nothing is cached and
// the next call tries again.
func (file *File) chain() (*ClusterChain, error) {
	if file.clusterChain != nil {
		return file.clusterChain, nil
	}

	clusterChain, err := NewClusterChain(
		file.entry.StartCluster(), file.device, file.fat, file.bootSector)
	if err != nil {
		return nil, err
	}
	file.clusterChain = clusterChain
	return clusterChain, nil
}

// Clusters returns the clusters backing the file, in order.
func (file *File) Clusters() ([]common.ClusterID, error) {
	clusterChain, err := file.chain()
	if err != nil {
		return nil, err
	}
	return clusterChain.Clusters(), nil
}

func (file *File) IsDirectory() bool {
	return false
}

func (file *File) Name() string {
	return file.entry.Name()
}

func (file *File) List() ([]string, error) {
	return nil, fatfs.ErrUnsupportedForFile.WithMessage(
		fmt.Sprintf("can't list %q", file.entry.Name()))
}

func (file *File) ListFiles() ([]fatfs.Node, error) {
	return nil, fatfs.ErrUnsupportedForFile.WithMessage(
		fmt.Sprintf("can't list %q", file.entry.Name()))
}

func (file *File) Length() int64 {
	return file.entry.FileSize()
}

// SetLength resizes the file's cluster chain and then its directory entry. If
// the chain can't be resized the entry is left alone.
func (file *File) SetLength(length int64) error {
	if length < 0 || length > MaxFileSize {
		return fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("file size must be in [0, %d], got %d", MaxFileSize, length))
	}

	clusterChain, err := file.chain()
	if err != nil {
		return err
	}

	oldStart := clusterChain.StartCluster()
	err = clusterChain.SetLength(length)
	if err != nil {
		return err
	}

	if newStart := clusterChain.StartCluster(); newStart != oldStart {
		file.entry.SetStartCluster(newStart)
	}
	file.entry.SetFileSize(length)
	return nil
}

// ReadAt reads from the file, stopping at its logical length. As with
// [io.ReaderAt], reads that stop short because they hit the end of the file
// return [io.EOF].
func (file *File) ReadAt(buffer []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative offset %d", offset))
	}

	fileSize := file.Length()
	if offset >= fileSize {
		if len(buffer) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	toRead := len(buffer)
	if remaining := fileSize - offset; int64(toRead) > remaining {
		toRead = int(remaining)
	}

	clusterChain, err := file.chain()
	if err != nil {
		return 0, err
	}

	n, err := clusterChain.ReadAt(buffer[:toRead], offset)
	if err != nil {
		return n, err
	}
	if n < toRead {
		return n, fatfs.ErrChainInconsistency.WithMessage(
			fmt.Sprintf(
				"%q is %d bytes but only %d are allocated",
				file.entry.Name(),
				fileSize,
				clusterChain.Capacity()))
	}
	if toRead < len(buffer) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes to the file, first extending it if the write ends past the
// current end of the file.
func (file *File) WriteAt(data []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative offset %d", offset))
	}

	end := offset + int64(len(data))
	if end > file.Length() {
		err := file.SetLength(end)
		if err != nil {
			return 0, err
		}
	}

	clusterChain, err := file.chain()
	if err != nil {
		return 0, err
	}
	return clusterChain.WriteAt(data, offset)
}

// Flush writes out the directory entry if it buffers its changes.
func (file *File) Flush() error {
	if flusher, ok := file.entry.(fatfs.Flusher); ok {
		return flusher.Flush()
	}
	return nil
}
