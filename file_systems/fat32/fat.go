package fat32

import (
	"encoding/binary"
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/fatfs"
	"github.com/dargueta/fatfs/file_systems/common"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

const (
	fatEntrySize = 4
	entryMask    = 0x0FFFFFFF
	reservedMask = 0xF0000000
	// maxClusterCount is the number of cluster indices between 2 and the
	// highest value that isn't a marker, 0x0FFFFFF6.
	maxClusterCount = 0x0FFFFFF5
)

// Special values of a FAT entry, after masking off the reserved bits.
const (
	FreeCluster   = common.ClusterID(0)
	BadCluster    = common.ClusterID(0x0FFFFFF7)
	EndOfChainMin = common.ClusterID(0x0FFFFFF8)
	// EndOfChain is the end-of-chain marker written by this driver. Any value
	// from EndOfChainMin upwards terminates a chain when read.
	EndOfChain = common.ClusterID(0x0FFFFFFF)
)

func IsFree(entry common.ClusterID) bool {
	return entry == FreeCluster
}

func IsBad(entry common.ClusterID) bool {
	return entry == BadCluster
}

func IsEndOfChain(entry common.ClusterID) bool {
	return entry >= EndOfChainMin
}

// FAT reads and mutates the File Allocation Table of a volume. There must only
// be one instance per mounted volume, shared by every open file, and callers
// must serialize operations that change it.
type FAT struct {
	device     common.BlockDevice
	bootSector *BootSector
	log        log.FieldLogger
	// cursor is where the next allocation starts scanning. It only lives in
	// memory; the FS-info sector's hint is neither read nor updated.
	cursor common.ClusterID
}

func NewFAT(device common.BlockDevice, bootSector *BootSector, cfg Config) *FAT {
	fat := &FAT{
		device:     device,
		bootSector: bootSector,
		log:        cfg.logger(),
		cursor:     cfg.AllocationStart,
	}
	if !bootSector.IsValidCluster(fat.cursor) {
		fat.cursor = common.FirstValidCluster
	}
	return fat
}

// activeFATIndex gives the FAT copy that's authoritative for reads. All copies
// of a mirrored FAT are equivalent, so the first one is used.
func (fat *FAT) activeFATIndex() uint {
	if fat.bootSector.IsFATMirrored() {
		return 0
	}
	return uint(fat.bootSector.ValidFATIndex())
}

// writableFATIndexes gives the FAT copies that every entry update goes to.
func (fat *FAT) writableFATIndexes() []uint {
	if !fat.bootSector.IsFATMirrored() {
		return []uint{uint(fat.bootSector.ValidFATIndex())}
	}

	indexes := make([]uint, fat.bootSector.FATCount())
	for i := range indexes {
		indexes[i] = uint(i)
	}
	return indexes
}

func (fat *FAT) entryOffset(fatIndex uint, cluster common.ClusterID) int64 {
	return fat.bootSector.FATOffset(fatIndex) + int64(cluster)*fatEntrySize
}

func (fat *FAT) checkCluster(cluster common.ClusterID) error {
	if !fat.bootSector.IsValidCluster(cluster) {
		return fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"cluster %d is outside the data area [%d, %d]",
				cluster,
				common.FirstValidCluster,
				fat.bootSector.MaxCluster()))
	}
	return nil
}

// NextCluster returns the FAT entry for `cluster` with the reserved bits
// masked off. Use [IsFree], [IsBad], and [IsEndOfChain] to classify it; any
// other value is the next cluster in the chain.
func (fat *FAT) NextCluster(cluster common.ClusterID) (common.ClusterID, error) {
	err := fat.checkCluster(cluster)
	if err != nil {
		return 0, err
	}

	var rawEntry [fatEntrySize]byte
	err = readExact(fat.device, rawEntry[:], fat.entryOffset(fat.activeFATIndex(), cluster))
	if err != nil {
		return 0, err
	}
	return common.ClusterID(binary.LittleEndian.Uint32(rawEntry[:]) & entryMask), nil
}

// SetNextCluster sets the FAT entry for `cluster` to `next`, preserving the
// reserved top four bits already on disk. If the FAT is mirrored every copy is
// updated, otherwise only the active one.
//
// Copies are written one at a time. If a write fails, copies already written
// keep the new value and the FAT is left divergent.
func (fat *FAT) SetNextCluster(cluster, next common.ClusterID) error {
	err := fat.checkCluster(cluster)
	if err != nil {
		return err
	}

	var rawEntry [fatEntrySize]byte
	for _, fatIndex := range fat.writableFATIndexes() {
		offset := fat.entryOffset(fatIndex, cluster)
		err = readExact(fat.device, rawEntry[:], offset)
		if err != nil {
			return err
		}

		existing := binary.LittleEndian.Uint32(rawEntry[:])
		binary.LittleEndian.PutUint32(
			rawEntry[:], (existing&reservedMask)|(uint32(next)&entryMask))

		err = writeExact(fat.device, rawEntry[:], offset)
		if err != nil {
			return err
		}
	}
	return nil
}

// Allocate reserves `count` free clusters and links them into a chain ending in
// [EndOfChain]. The clusters are returned in chain order; linking the chain to
// anything else is up to the caller.
//
// The scan resumes where the previous allocation stopped and wraps around to
// cluster 2. If fewer than `count` clusters are free, [fatfs.ErrOutOfSpace] is
// returned and the FAT is untouched. If writing the FAT fails partway through,
// the entries already written are reset to free before the error is returned.
func (fat *FAT) Allocate(count int) ([]common.ClusterID, error) {
	if count < 0 {
		return nil, fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("can't allocate %d clusters", count))
	}
	if count == 0 {
		return []common.ClusterID{}, nil
	}

	totalClusters := fat.bootSector.TotalClusters()
	if uint64(count) > uint64(totalClusters) {
		return nil, fatfs.ErrOutOfSpace.WithMessage(
			fmt.Sprintf(
				"wanted %d clusters, volume only has %d",
				count,
				totalClusters))
	}

	clusters := make([]common.ClusterID, 0, count)
	scanner := newFATScanner(fat)
	current := fat.cursor
	for scanned := uint32(0); scanned < totalClusters && len(clusters) < count; scanned++ {
		entry, err := scanner.entry(current)
		if err != nil {
			return nil, err
		}
		if IsFree(entry) {
			clusters = append(clusters, current)
		}
		current = fat.followingCluster(current)
	}

	if len(clusters) < count {
		return nil, fatfs.ErrOutOfSpace.WithMessage(
			fmt.Sprintf("wanted %d clusters, %d free", count, len(clusters)))
	}

	// Link from the tail backwards so that at no point does an entry point to a
	// cluster that's still marked free.
	for i := len(clusters) - 1; i >= 0; i-- {
		next := EndOfChain
		if i < len(clusters)-1 {
			next = clusters[i+1]
		}

		err := fat.SetNextCluster(clusters[i], next)
		if err != nil {
			return nil, fat.rollBackAllocation(clusters[i:], err)
		}
	}

	fat.cursor = current
	fat.log.WithFields(log.Fields{
		"count": count,
		"first": clusters[0],
		"last":  clusters[len(clusters)-1],
	}).Debug("allocated clusters")
	return clusters, nil
}

// rollBackAllocation frees the given clusters after a failed allocation. The
// first cluster is the one whose write failed; its entry is reset too since
// the failed write may have reached some of the FAT copies.
func (fat *FAT) rollBackAllocation(clusters []common.ClusterID, cause error) error {
	var rollbackErrors *multierror.Error
	for _, cluster := range clusters {
		err := fat.SetNextCluster(cluster, FreeCluster)
		if err != nil {
			rollbackErrors = multierror.Append(rollbackErrors, err)
		}
	}

	if rollbackErrors == nil {
		return cause
	}
	fat.log.WithError(rollbackErrors).Warn("failed to roll back partial allocation")
	return multierror.Append(cause, rollbackErrors.Errors...)
}

// followingCluster gives the cluster after `cluster` in scan order, wrapping
// around to the first data cluster.
func (fat *FAT) followingCluster(cluster common.ClusterID) common.ClusterID {
	if cluster >= fat.bootSector.MaxCluster() {
		return common.FirstValidCluster
	}
	return cluster + 1
}

// Free marks every cluster in the chain beginning at `start` as free. Freeing
// cluster 0, the start of an empty file, does nothing.
//
// If the chain loops back on itself or runs into a free or bad cluster, Free
// stops and returns [fatfs.ErrChainInconsistency]. Clusters freed before that
// point stay free.
func (fat *FAT) Free(start common.ClusterID) error {
	if start == FreeCluster {
		return nil
	}

	freed := 0
	err := fat.walkChain(start, func(cluster common.ClusterID) error {
		err := fat.SetNextCluster(cluster, FreeCluster)
		if err == nil {
			freed++
		}
		return err
	})

	fat.log.WithFields(log.Fields{
		"start": start,
		"freed": freed,
	}).Debug("freed cluster chain")
	return err
}

// Chain returns every cluster in the chain beginning at `start`, in order. It
// returns an empty slice for cluster 0 and fails with
// [fatfs.ErrChainInconsistency] on the same conditions as [FAT.Free].
func (fat *FAT) Chain(start common.ClusterID) ([]common.ClusterID, error) {
	clusters := []common.ClusterID{}
	if start == FreeCluster {
		return clusters, nil
	}

	err := fat.walkChain(start, func(cluster common.ClusterID) error {
		clusters = append(clusters, cluster)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clusters, nil
}

// walkChain calls `visit` on each cluster of a chain, reading the cluster's
// FAT entry before `visit` gets to modify it.
func (fat *FAT) walkChain(start common.ClusterID, visit func(common.ClusterID) error) error {
	err := fat.checkCluster(start)
	if err != nil {
		return err
	}

	visited := bitmap.New(int(fat.bootSector.MaxCluster()) + 1)
	current := start
	for {
		if visited.Get(int(current)) {
			return fatfs.ErrChainInconsistency.WithMessage(
				fmt.Sprintf("chain starting at %d loops back to %d", start, current))
		}
		visited.Set(int(current), true)

		next, err := fat.NextCluster(current)
		if err != nil {
			return err
		}

		err = visit(current)
		if err != nil {
			return err
		}

		switch {
		case IsEndOfChain(next):
			return nil
		case IsFree(next):
			return fatfs.ErrChainInconsistency.WithMessage(
				fmt.Sprintf("cluster %d in chain %d is marked free", current, start))
		case IsBad(next):
			return fatfs.ErrChainInconsistency.WithMessage(
				fmt.Sprintf("cluster %d in chain %d is marked bad", current, start))
		case !fat.bootSector.IsValidCluster(next):
			return fatfs.ErrChainInconsistency.WithMessage(
				fmt.Sprintf(
					"cluster %d in chain %d points outside the data area: %d",
					current,
					start,
					next))
		}
		current = next
	}
}

// FreeClusterCount counts the free entries in the active FAT.
func (fat *FAT) FreeClusterCount() (uint32, error) {
	scanner := newFATScanner(fat)
	free := uint32(0)
	maxCluster := fat.bootSector.MaxCluster()

	for cluster := common.FirstValidCluster; cluster <= maxCluster; cluster++ {
		entry, err := scanner.entry(cluster)
		if err != nil {
			return 0, err
		}
		if IsFree(entry) {
			free++
		}
		if cluster == maxCluster {
			// Avoid overflowing if MaxCluster is the largest ClusterID.
			break
		}
	}
	return free, nil
}

// fatScanner reads the active FAT a sector at a time for linear scans. It's
// only valid until the FAT is next modified.
type fatScanner struct {
	fat          *FAT
	buffer       []byte
	loadedSector int64
}

func newFATScanner(fat *FAT) *fatScanner {
	return &fatScanner{
		fat:          fat,
		buffer:       make([]byte, fat.bootSector.BytesPerSector()),
		loadedSector: -1,
	}
}

func (scanner *fatScanner) entry(cluster common.ClusterID) (common.ClusterID, error) {
	bytesPerSector := int64(len(scanner.buffer))
	entryOffset := int64(cluster) * fatEntrySize
	sector := entryOffset / bytesPerSector

	if sector != scanner.loadedSector {
		err := readExact(
			scanner.fat.device,
			scanner.buffer,
			scanner.fat.bootSector.FATOffset(scanner.fat.activeFATIndex())+sector*bytesPerSector)
		if err != nil {
			return 0, err
		}
		scanner.loadedSector = sector
	}

	offsetInSector := entryOffset % bytesPerSector
	raw := binary.LittleEndian.Uint32(scanner.buffer[offsetInSector : offsetInSector+fatEntrySize])
	return common.ClusterID(raw & entryMask), nil
}
