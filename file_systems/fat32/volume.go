package fat32

import (
	"github.com/dargueta/fatfs"
	"github.com/dargueta/fatfs/file_systems/common"
	log "github.com/sirupsen/logrus"
)

// Volume is a mounted FAT32 file system.
type Volume struct {
	device     common.BlockDevice
	bootSector *BootSector
	fat        *FAT
}

// Mount reads the boot sector from the start of `device` and prepares the FAT.
// The boot sector is validated unless cfg.SkipValidation is set.
func Mount(device common.BlockDevice, cfg Config) (*Volume, error) {
	rawBootSector := make([]byte, BootSectorSize)
	err := readExact(device, rawBootSector, 0)
	if err != nil {
		return nil, err
	}

	bootSector, err := ReadBootSector(rawBootSector)
	if err != nil {
		return nil, err
	}

	if !cfg.SkipValidation {
		err = bootSector.Validate()
		if err != nil {
			return nil, err
		}
	}

	cfg.logger().WithFields(log.Fields{
		"bytesPerSector":    bootSector.BytesPerSector(),
		"sectorsPerCluster": bootSector.SectorsPerCluster(),
		"fatCount":          bootSector.FATCount(),
		"mirrored":          bootSector.IsFATMirrored(),
		"totalClusters":     bootSector.TotalClusters(),
		"label":             bootSector.VolumeLabel(),
	}).Debug("mounted FAT32 volume")

	return &Volume{
		device:     device,
		bootSector: bootSector,
		fat:        NewFAT(device, bootSector, cfg),
	}, nil
}

func (volume *Volume) BootSector() *BootSector {
	return volume.bootSector
}

func (volume *Volume) FAT() *FAT {
	return volume.fat
}

// OpenFile returns the file described by `entry`. Changes to the file's size
// and start cluster are written to `entry`; persisting them is up to the
// caller.
func (volume *Volume) OpenFile(entry fatfs.DirectoryEntry) *File {
	return NewFile(entry, volume.device, volume.fat, volume.bootSector)
}

// RootDirectoryChain returns the cluster chain holding the root directory.
func (volume *Volume) RootDirectoryChain() (*ClusterChain, error) {
	return NewClusterChain(
		volume.bootSector.RootDirStartCluster(), volume.device, volume.fat, volume.bootSector)
}
