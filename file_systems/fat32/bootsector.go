// Package fat32 implements the data path of a FAT32 volume: boot sector
// geometry, the File Allocation Table, and random access to files stored as
// chains of clusters.
package fat32

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/fatfs"
	"github.com/dargueta/fatfs/file_systems/common"
	"github.com/noxer/bytewriter"
)

// BootSectorSize is the size of the boot sector on disk, regardless of the
// volume's sector size.
const BootSectorSize = 512

const (
	flagFATNotMirrored = 0x80
	flagValidFATMask   = 0x07
	volumeLabelLength  = 11
)

// bootSectorField describes where a little-endian integer lives in the boot
// sector.
type bootSectorField struct {
	name   string
	offset int
	width  int
}

var (
	fieldBytesPerSector      = bootSectorField{"BytesPerSector", 11, 2}
	fieldSectorsPerCluster   = bootSectorField{"SectorsPerCluster", 13, 1}
	fieldReservedSectors     = bootSectorField{"ReservedSectors", 14, 2}
	fieldFATCount            = bootSectorField{"FATCount", 16, 1}
	fieldTotalSectors        = bootSectorField{"TotalSectors", 32, 4}
	fieldSectorsPerFAT       = bootSectorField{"SectorsPerFAT", 36, 4}
	fieldFlags               = bootSectorField{"Flags", 40, 2}
	fieldRootDirStartCluster = bootSectorField{"RootDirStartCluster", 44, 4}
	fieldFSInfoStartSector   = bootSectorField{"FSInfoStartSector", 48, 2}
	fieldVolumeLabel         = bootSectorField{"VolumeLabel", 48, volumeLabelLength}
)

var bootSectorFields = []bootSectorField{
	fieldBytesPerSector,
	fieldSectorsPerCluster,
	fieldReservedSectors,
	fieldFATCount,
	fieldTotalSectors,
	fieldSectorsPerFAT,
	fieldFlags,
	fieldRootDirStartCluster,
	fieldFSInfoStartSector,
	fieldVolumeLabel,
}

// minBootSectorLength is the smallest buffer that contains every field we read.
var minBootSectorLength = func() int {
	length := 0
	for _, field := range bootSectorFields {
		if end := field.offset + field.width; end > length {
			length = end
		}
	}
	return length
}()

func (field bootSectorField) uint(data []byte) uint32 {
	raw := data[field.offset : field.offset+field.width]
	switch field.width {
	case 1:
		return uint32(raw[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(raw))
	case 4:
		return binary.LittleEndian.Uint32(raw)
	default:
		panic(fmt.Sprintf("field %s has unsupported width %d", field.name, field.width))
	}
}

// BootSector holds the geometry of a FAT32 volume. It's immutable once parsed.
type BootSector struct {
	bytesPerSector      uint16
	sectorsPerCluster   uint8
	reservedSectors     uint16
	fatCount            uint8
	totalSectors        uint32
	sectorsPerFAT       uint32
	rootDirStartCluster common.ClusterID
	fsInfoStartSector   uint16
	fatMirrored         bool
	validFATIndex       uint8
	volumeLabel         string
}

// ReadBootSector decodes the geometry fields of a boot sector. It performs no
// validation beyond checking that `data` is long enough to hold every field;
// use [BootSector.Validate] to check the geometry for sanity.
func ReadBootSector(data []byte) (*BootSector, error) {
	if len(data) < minBootSectorLength {
		return nil, fatfs.ErrParse.WithMessage(
			fmt.Sprintf(
				"boot sector must be at least %d bytes, got %d",
				minBootSectorLength,
				len(data)))
	}

	flags := fieldFlags.uint(data)
	bs := &BootSector{
		bytesPerSector:      uint16(fieldBytesPerSector.uint(data)),
		sectorsPerCluster:   uint8(fieldSectorsPerCluster.uint(data)),
		reservedSectors:     uint16(fieldReservedSectors.uint(data)),
		fatCount:            uint8(fieldFATCount.uint(data)),
		totalSectors:        fieldTotalSectors.uint(data),
		sectorsPerFAT:       fieldSectorsPerFAT.uint(data),
		rootDirStartCluster: common.ClusterID(fieldRootDirStartCluster.uint(data)),
		fsInfoStartSector:   uint16(fieldFSInfoStartSector.uint(data)),
		fatMirrored:         flags&flagFATNotMirrored == 0,
		validFATIndex:       uint8(flags & flagValidFATMask),
	}

	rawLabel := data[fieldVolumeLabel.offset : fieldVolumeLabel.offset+fieldVolumeLabel.width]
	labelLength := 0
	for labelLength < len(rawLabel) && rawLabel[labelLength] != 0 {
		labelLength++
	}
	bs.volumeLabel = string(rawLabel[:labelLength])

	return bs, nil
}

// Validate checks that the geometry is internally consistent enough for the
// offset math in the rest of the driver.
func (bs *BootSector) Validate() error {
	switch bs.bytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return fatfs.ErrParse.WithMessage(
			fmt.Sprintf(
				"BytesPerSector must be 512, 1024, 2048, or 4096, got %d",
				bs.bytesPerSector))
	}

	// SectorsPerCluster must be 2^x with x in [0, 8)
	switch bs.sectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return fatfs.ErrParse.WithMessage(
			fmt.Sprintf(
				"SectorsPerCluster must be a power of 2 in 1-128, got %d",
				bs.sectorsPerCluster))
	}

	if bs.fatCount == 0 {
		return fatfs.ErrParse.WithMessage("volume has no FATs")
	}
	if bs.sectorsPerFAT == 0 {
		return fatfs.ErrParse.WithMessage("SectorsPerFAT is 0; not a FAT32 volume")
	}
	if !bs.fatMirrored && bs.validFATIndex >= bs.fatCount {
		return fatfs.ErrParse.WithMessage(
			fmt.Sprintf(
				"active FAT %d doesn't exist; volume has %d FATs",
				bs.validFATIndex,
				bs.fatCount))
	}

	firstDataSector := uint64(bs.reservedSectors) + uint64(bs.fatCount)*uint64(bs.sectorsPerFAT)
	if uint64(bs.totalSectors) <= firstDataSector {
		return fatfs.ErrParse.WithMessage(
			fmt.Sprintf(
				"volume has %d sectors but the data area starts at sector %d",
				bs.totalSectors,
				firstDataSector))
	}
	if bs.TotalClusters() == 0 {
		return fatfs.ErrParse.WithMessage("volume has no data clusters")
	}
	return nil
}

func (bs *BootSector) BytesPerSector() uint16 {
	return bs.bytesPerSector
}

func (bs *BootSector) SectorsPerCluster() uint8 {
	return bs.sectorsPerCluster
}

func (bs *BootSector) ReservedSectors() uint16 {
	return bs.reservedSectors
}

func (bs *BootSector) FATCount() uint8 {
	return bs.fatCount
}

func (bs *BootSector) TotalSectors() uint32 {
	return bs.totalSectors
}

func (bs *BootSector) SectorsPerFAT() uint32 {
	return bs.sectorsPerFAT
}

func (bs *BootSector) RootDirStartCluster() common.ClusterID {
	return bs.rootDirStartCluster
}

func (bs *BootSector) FSInfoStartSector() uint16 {
	return bs.fsInfoStartSector
}

// IsFATMirrored reports whether every FAT copy must be kept identical. If not,
// only the FAT at [BootSector.ValidFATIndex] is authoritative.
func (bs *BootSector) IsFATMirrored() bool {
	return bs.fatMirrored
}

func (bs *BootSector) ValidFATIndex() uint8 {
	return bs.validFATIndex
}

func (bs *BootSector) VolumeLabel() string {
	return bs.volumeLabel
}

// BytesPerCluster gives the size of a cluster, in bytes.
func (bs *BootSector) BytesPerCluster() uint32 {
	return uint32(bs.sectorsPerCluster) * uint32(bs.bytesPerSector)
}

// FATOffset gives the byte offset of the `index`th copy of the FAT.
func (bs *BootSector) FATOffset(index uint) int64 {
	return int64(bs.bytesPerSector) *
		(int64(bs.reservedSectors) + int64(index)*int64(bs.sectorsPerFAT))
}

// DataAreaOffset gives the byte offset of cluster 2, the first data cluster.
func (bs *BootSector) DataAreaOffset() int64 {
	return bs.FATOffset(0) +
		int64(bs.fatCount)*int64(bs.sectorsPerFAT)*int64(bs.bytesPerSector)
}

// ClusterOffset gives the byte offset of the first byte of `cluster`.
func (bs *BootSector) ClusterOffset(cluster common.ClusterID) int64 {
	return bs.DataAreaOffset() +
		int64(cluster-common.FirstValidCluster)*int64(bs.BytesPerCluster())
}

// TotalClusters gives the number of usable data clusters. It's the smaller of
// the number of clusters that fit in the data area and the number of entries
// one FAT can describe.
func (bs *BootSector) TotalClusters() uint32 {
	if bs.sectorsPerCluster == 0 {
		return 0
	}

	metadataSectors := uint64(bs.reservedSectors) + uint64(bs.fatCount)*uint64(bs.sectorsPerFAT)
	if uint64(bs.totalSectors) <= metadataSectors {
		return 0
	}
	dataClusters := (uint64(bs.totalSectors) - metadataSectors) / uint64(bs.sectorsPerCluster)

	fatEntries := uint64(bs.sectorsPerFAT) * uint64(bs.bytesPerSector) / fatEntrySize
	if fatEntries <= uint64(common.FirstValidCluster) {
		return 0
	}
	fatEntries -= uint64(common.FirstValidCluster)

	if fatEntries < dataClusters {
		dataClusters = fatEntries
	}
	if dataClusters > maxClusterCount {
		dataClusters = maxClusterCount
	}
	return uint32(dataClusters)
}

// MaxCluster gives the highest valid cluster index on the volume.
func (bs *BootSector) MaxCluster() common.ClusterID {
	return common.FirstValidCluster + common.ClusterID(bs.TotalClusters()) - 1
}

// IsValidCluster reports whether `cluster` is in the range of data clusters.
func (bs *BootSector) IsValidCluster(cluster common.ClusterID) bool {
	return cluster >= common.FirstValidCluster && cluster <= bs.MaxCluster()
}

// MarshalBinary encodes the geometry as a 512-byte FAT32 boot sector.
func (bs *BootSector) MarshalBinary() ([]byte, error) {
	raw := NewRawBootSector()
	raw.BytesPerSector = bs.bytesPerSector
	raw.SectorsPerCluster = bs.sectorsPerCluster
	raw.ReservedSectors = bs.reservedSectors
	raw.NumFATs = bs.fatCount
	raw.TotalSectors32 = bs.totalSectors
	raw.SectorsPerFAT32 = bs.sectorsPerFAT
	raw.RootCluster = uint32(bs.rootDirStartCluster)
	raw.FSInfoSector = bs.fsInfoStartSector
	if !bs.fatMirrored {
		raw.ExtFlags = flagFATNotMirrored | uint16(bs.validFATIndex&flagValidFATMask)
	}
	raw.SetVolumeLabel(bs.volumeLabel)
	return raw.MarshalBinary()
}

// RawBootSector is the on-disk layout of the FAT32 BIOS parameter block, in
// the order the fields appear.
type RawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	SectorsPerFAT32   uint32
	ExtFlags          uint16
	FSVersion         uint16
	RootCluster       uint32
	FSInfoSector      uint16
	BackupBootSector  uint16
	Reserved          [12]byte
	DriveNumber       uint8
	NTReserved        uint8
	ExBootSignature   uint8
	VolumeID          uint32
	VolumeLabel       [volumeLabelLength]byte
	FileSystemType    [8]byte
}

// NewRawBootSector returns a boot sector with the constant fields filled in the
// way FAT32 formatters usually write them. Geometry fields are left zeroed.
func NewRawBootSector() RawBootSector {
	raw := RawBootSector{
		JmpBoot:          [3]byte{0xEB, 0x58, 0x90},
		Media:            0xF8,
		BackupBootSector: 6,
		DriveNumber:      0x80,
		ExBootSignature:  0x29,
	}
	copy(raw.OEMName[:], "FATFS   ")
	copy(raw.FileSystemType[:], "FAT32   ")
	raw.SetVolumeLabel("")
	return raw
}

// SetVolumeLabel stores `label` space-padded, truncating it to 11 bytes.
func (raw *RawBootSector) SetVolumeLabel(label string) {
	for i := range raw.VolumeLabel {
		raw.VolumeLabel[i] = ' '
	}
	copy(raw.VolumeLabel[:], label)
}

// MarshalBinary returns the full 512-byte sector, including the 0x55AA
// signature.
func (raw *RawBootSector) MarshalBinary() ([]byte, error) {
	output := make([]byte, BootSectorSize)
	writer := bytewriter.New(output)

	err := binary.Write(writer, binary.LittleEndian, raw)
	if err != nil {
		return nil, fatfs.ErrIOFailed.Wrap(err)
	}

	output[BootSectorSize-2] = 0x55
	output[BootSectorSize-1] = 0xAA
	return output, nil
}
