package testing

import (
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/dargueta/fatfs/file_systems/common"
	"github.com/dargueta/fatfs/file_systems/common/blockdevice"
	"github.com/dargueta/fatfs/file_systems/fat32"
	"github.com/noxer/bytewriter"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// ImageOptions describes the geometry of a synthetic FAT32 image.
type ImageOptions struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCount          uint8
	// DataClusters is the number of usable clusters. The FAT is sized to fit
	// exactly this many, rounded up to a whole sector.
	DataClusters uint32
	// NotMirrored clears the mirroring flag so only the FAT at ValidFATIndex
	// is used.
	NotMirrored   bool
	ValidFATIndex uint8
	VolumeLabel   string
}

// DefaultImageOptions gives a small volume with 2 KiB clusters and two
// mirrored FATs.
func DefaultImageOptions() ImageOptions {
	return ImageOptions{
		BytesPerSector:    512,
		SectorsPerCluster: 4,
		ReservedSectors:   32,
		FATCount:          2,
		DataClusters:      64,
	}
}

// RootDirCluster is the cluster every synthetic image's root directory starts
// at. It's marked as a one-cluster chain in the FAT.
const RootDirCluster = common.ClusterID(2)

// SectorsPerFAT gives the number of sectors each FAT copy occupies.
func (opts ImageOptions) SectorsPerFAT() uint32 {
	fatBytes := (opts.DataClusters + 2) * 4
	return (fatBytes + uint32(opts.BytesPerSector) - 1) / uint32(opts.BytesPerSector)
}

func (opts ImageOptions) TotalSectors() uint32 {
	return uint32(opts.ReservedSectors) +
		uint32(opts.FATCount)*opts.SectorsPerFAT() +
		opts.DataClusters*uint32(opts.SectorsPerCluster)
}

// RawBootSector gives the boot sector for an image with these options.
func (opts ImageOptions) RawBootSector() fat32.RawBootSector {
	raw := fat32.NewRawBootSector()
	raw.BytesPerSector = opts.BytesPerSector
	raw.SectorsPerCluster = opts.SectorsPerCluster
	raw.ReservedSectors = opts.ReservedSectors
	raw.NumFATs = opts.FATCount
	raw.TotalSectors32 = opts.TotalSectors()
	raw.SectorsPerFAT32 = opts.SectorsPerFAT()
	raw.RootCluster = uint32(RootDirCluster)
	raw.FSInfoSector = 1
	if opts.NotMirrored {
		raw.ExtFlags = 0x80 | uint16(opts.ValidFATIndex&0x07)
	}
	raw.SetVolumeLabel(opts.VolumeLabel)
	return raw
}

// BuildImageBytes creates a formatted FAT32 image in memory. Every FAT copy has
// its two reserved entries set and the root directory cluster marked as end of
// chain; all other clusters are free. The data area is filled with random
// bytes so tests can't accidentally depend on it being zeroed.
func BuildImageBytes(t *testing.T, opts ImageOptions) []byte {
	image := make([]byte, int(opts.TotalSectors())*int(opts.BytesPerSector))

	raw := opts.RawBootSector()
	bootSector, err := raw.MarshalBinary()
	require.NoError(t, err, "failed to serialize boot sector")
	copy(image, bootSector)

	fatHeader := []uint32{
		0x0FFFFF00 | uint32(raw.Media),
		uint32(fat32.EndOfChain),
		uint32(fat32.EndOfChain),
	}
	fatSize := int(opts.SectorsPerFAT()) * int(opts.BytesPerSector)
	for i := 0; i < int(opts.FATCount); i++ {
		fatStart := (int(opts.ReservedSectors) * int(opts.BytesPerSector)) + i*fatSize
		writer := bytewriter.New(image[fatStart : fatStart+fatSize])
		err = binary.Write(writer, binary.LittleEndian, fatHeader)
		require.NoErrorf(t, err, "failed to write header of FAT %d", i)
	}

	dataStart := (int(opts.ReservedSectors) + int(opts.FATCount)*int(opts.SectorsPerFAT())) *
		int(opts.BytesPerSector)
	_, err = rand.Read(image[dataStart:])
	require.NoError(t, err, "failed to randomize data area")
	return image
}

// NewImage creates a formatted FAT32 image in memory and returns a device for
// it.
func NewImage(t *testing.T, opts ImageOptions) *blockdevice.Stream {
	imageBytes := BuildImageBytes(t, opts)
	device, err := blockdevice.NewStream(
		bytesextra.NewReadWriteSeeker(imageBytes), uint(opts.BytesPerSector), 0)
	require.NoError(t, err, "failed to create device for image")
	require.EqualValues(t, opts.TotalSectors(), device.TotalSectors)
	return device
}

// NewImageFile writes a formatted FAT32 image to `path` on `fs` and opens it.
// The device is closed when the test finishes.
func NewImageFile(
	t *testing.T, fs afero.Fs, path string, opts ImageOptions,
) *blockdevice.Stream {
	err := afero.WriteFile(fs, path, BuildImageBytes(t, opts), 0o644)
	require.NoErrorf(t, err, "failed to write image to %q", path)

	device, err := blockdevice.OpenImage(fs, path, uint(opts.BytesPerSector), 0)
	require.NoErrorf(t, err, "failed to open image at %q", path)
	t.Cleanup(func() { device.Close() })
	return device
}

// MountImage creates an image in memory and mounts it with debug logging sent
// to the test log.
func MountImage(t *testing.T, opts ImageOptions) (*fat32.Volume, *blockdevice.Stream) {
	device := NewImage(t, opts)
	volume, err := fat32.Mount(device, NewTestConfig(t))
	require.NoError(t, err, "failed to mount image")
	return volume, device
}
