package fat32

import (
	"fmt"
	"math"

	"github.com/dargueta/fatfs"
	"github.com/dargueta/fatfs/file_systems/common"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// ClusterChain gives byte-level access to the clusters backing a file or
// directory. Its length in clusters only changes through [ClusterChain.SetLength];
// reads and writes are confined to the clusters already allocated.
type ClusterChain struct {
	device       common.BlockDevice
	fat          *FAT
	bootSector   *BootSector
	startCluster common.ClusterID
	clusters     []common.ClusterID
}

// NewClusterChain resolves the whole chain beginning at `start`. A start of 0
// gives an empty chain.
func NewClusterChain(
	start common.ClusterID,
	device common.BlockDevice,
	fat *FAT,
	bootSector *BootSector,
) (*ClusterChain, error) {
	clusters, err := fat.Chain(start)
	if err != nil {
		return nil, err
	}

	return &ClusterChain{
		device:       device,
		fat:          fat,
		bootSector:   bootSector,
		startCluster: start,
		clusters:     clusters,
	}, nil
}

// StartCluster gives the first cluster of the chain, or 0 if it's empty.
func (chain *ClusterChain) StartCluster() common.ClusterID {
	return chain.startCluster
}

// Clusters returns a copy of the chain's cluster list.
func (chain *ClusterChain) Clusters() []common.ClusterID {
	clusters := make([]common.ClusterID, len(chain.clusters))
	copy(clusters, chain.clusters)
	return clusters
}

// Capacity gives the number of bytes the chain can hold without allocating.
func (chain *ClusterChain) Capacity() int64 {
	return int64(len(chain.clusters)) * chain.bytesPerCluster()
}

func (chain *ClusterChain) bytesPerCluster() int64 {
	return int64(chain.bootSector.BytesPerCluster())
}

// forEachSegment splits `length` bytes starting at `offset` along cluster
// boundaries and calls `handle` for each piece with its absolute offset on the
// device and its bounds relative to `offset`. The caller must ensure the range
// is within the chain's capacity.
func (chain *ClusterChain) forEachSegment(
	offset int64,
	length int,
	handle func(deviceOffset int64, start, end int) error,
) error {
	bytesPerCluster := chain.bytesPerCluster()
	clusterIndex := offset / bytesPerCluster
	intraOffset := offset % bytesPerCluster

	for done := 0; done < length; clusterIndex++ {
		segmentSize := bytesPerCluster - intraOffset
		if remaining := int64(length - done); segmentSize > remaining {
			segmentSize = remaining
		}

		deviceOffset := chain.bootSector.ClusterOffset(chain.clusters[clusterIndex]) + intraOffset
		err := handle(deviceOffset, done, done+int(segmentSize))
		if err != nil {
			return err
		}

		done += int(segmentSize)
		intraOffset = 0
	}
	return nil
}

// ReadAt fills `buffer` with data starting at `offset` bytes into the chain.
// If the range extends past the chain's capacity, only the bytes up to the end
// of the last cluster are read and their count is returned with a nil error.
// Starting at or beyond the capacity fails with [fatfs.ErrReadPastEnd].
//
// File sizes are not checked here; trailing bytes in the last cluster have
// whatever content was on disk.
func (chain *ClusterChain) ReadAt(buffer []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative offset %d", offset))
	}
	if len(buffer) == 0 {
		return 0, nil
	}

	capacity := chain.Capacity()
	if offset >= capacity {
		return 0, fatfs.ErrReadPastEnd.WithMessage(
			fmt.Sprintf("offset %d, capacity %d", offset, capacity))
	}

	toRead := len(buffer)
	if available := capacity - offset; int64(toRead) > available {
		toRead = int(available)
	}

	bytesRead := 0
	err := chain.forEachSegment(
		offset,
		toRead,
		func(deviceOffset int64, start, end int) error {
			err := readExact(chain.device, buffer[start:end], deviceOffset)
			if err == nil {
				bytesRead = end
			}
			return err
		})
	return bytesRead, err
}

// WriteAt writes `data` starting at `offset` bytes into the chain. It never
// allocates; if the write would extend past the chain's capacity it fails with
// [fatfs.ErrWritePastCapacity] without writing anything.
func (chain *ClusterChain) WriteAt(data []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative offset %d", offset))
	}

	capacity := chain.Capacity()
	if offset+int64(len(data)) > capacity {
		return 0, fatfs.ErrWritePastCapacity.WithMessage(
			fmt.Sprintf(
				"writing %d bytes at %d, capacity %d",
				len(data),
				offset,
				capacity))
	}

	bytesWritten := 0
	err := chain.forEachSegment(
		offset,
		len(data),
		func(deviceOffset int64, start, end int) error {
			err := writeExact(chain.device, data[start:end], deviceOffset)
			if err == nil {
				bytesWritten = end
			}
			return err
		})
	return bytesWritten, err
}

// SetLength allocates or frees clusters so that the chain holds exactly as many
// clusters as needed for `length` bytes. If allocation fails the chain is left
// unchanged.
//
// Shrinking terminates the chain at its new last cluster before freeing the
// rest, so a failure while freeing leaks clusters instead of corrupting the
// chain. Shrinking to 0 frees everything and the start cluster becomes 0.
func (chain *ClusterChain) SetLength(length int64) error {
	if length < 0 {
		return fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative length %d", length))
	}

	bytesPerCluster := chain.bytesPerCluster()
	neededClusters := length / bytesPerCluster
	if length%bytesPerCluster != 0 {
		neededClusters++
	}
	if neededClusters > math.MaxInt32 {
		return fatfs.ErrOutOfSpace.WithMessage(
			fmt.Sprintf("%d bytes needs %d clusters", length, neededClusters))
	}

	currentClusters := len(chain.clusters)
	switch {
	case int(neededClusters) > currentClusters:
		return chain.grow(int(neededClusters) - currentClusters)
	case int(neededClusters) < currentClusters:
		return chain.shrink(int(neededClusters))
	default:
		return nil
	}
}

func (chain *ClusterChain) grow(count int) error {
	newClusters, err := chain.fat.Allocate(count)
	if err != nil {
		return err
	}

	if len(chain.clusters) > 0 {
		tail := chain.clusters[len(chain.clusters)-1]
		err = chain.fat.SetNextCluster(tail, newClusters[0])
		if err != nil {
			freeErr := chain.fat.Free(newClusters[0])
			if freeErr != nil {
				return multierror.Append(err, freeErr)
			}
			return err
		}
	} else {
		chain.startCluster = newClusters[0]
	}

	chain.clusters = append(chain.clusters, newClusters...)
	chain.fat.log.WithFields(log.Fields{
		"start":    chain.startCluster,
		"added":    count,
		"clusters": len(chain.clusters),
	}).Debug("grew cluster chain")
	return nil
}

func (chain *ClusterChain) shrink(keep int) error {
	removed := len(chain.clusters) - keep

	if keep == 0 {
		err := chain.fat.Free(chain.startCluster)
		if err != nil {
			return err
		}
		chain.startCluster = FreeCluster
		chain.clusters = chain.clusters[:0]
	} else {
		err := chain.fat.SetNextCluster(chain.clusters[keep-1], EndOfChain)
		if err != nil {
			return err
		}

		// The chain on disk now ends at the new tail, so update our view of it
		// even if freeing the remainder fails.
		detached := chain.clusters[keep]
		chain.clusters = chain.clusters[:keep]
		err = chain.fat.Free(detached)
		if err != nil {
			return err
		}
	}

	chain.fat.log.WithFields(log.Fields{
		"start":    chain.startCluster,
		"removed":  removed,
		"clusters": len(chain.clusters),
	}).Debug("shrank cluster chain")
	return nil
}
