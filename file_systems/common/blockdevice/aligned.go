package blockdevice

import (
	"fmt"

	"github.com/dargueta/fatfs"
	"github.com/dargueta/fatfs/file_systems/common"
)

// SectorDevice is storage that can only be read and written in whole sectors,
// such as a USB mass storage device or an SD card.
type SectorDevice interface {
	SectorSize() uint
	ReadSectors(first common.SectorID, count uint) ([]byte, error)
	WriteSectors(first common.SectorID, data []byte) error
}

// Aligned makes a [SectorDevice] byte-addressable. Writes that don't cover
// whole sectors read the sectors at either end first and write them back with
// the new data merged in.
type Aligned struct {
	device SectorDevice
}

var _ common.BlockDevice = (*Aligned)(nil)

func NewAligned(device SectorDevice) *Aligned {
	return &Aligned{device: device}
}

// sectorSpan gives the range of sectors covering `length` bytes at `offset`,
// and where `offset` falls inside the first one.
func (aligned *Aligned) sectorSpan(offset int64, length int) (common.SectorID, uint, int64) {
	sectorSize := int64(aligned.device.SectorSize())
	first := offset / sectorSize
	last := (offset + int64(length) - 1) / sectorSize
	return common.SectorID(first), uint(last - first + 1), offset % sectorSize
}

func (aligned *Aligned) checkOffset(offset int64) error {
	if offset < 0 {
		return fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative offset %d", offset))
	}
	return nil
}

func (aligned *Aligned) ReadAt(buffer []byte, offset int64) (int, error) {
	err := aligned.checkOffset(offset)
	if err != nil || len(buffer) == 0 {
		return 0, err
	}

	first, count, skip := aligned.sectorSpan(offset, len(buffer))
	data, err := aligned.device.ReadSectors(first, count)
	if err != nil {
		return 0, err
	}
	return copy(buffer, data[skip:]), nil
}

func (aligned *Aligned) WriteAt(data []byte, offset int64) (int, error) {
	err := aligned.checkOffset(offset)
	if err != nil || len(data) == 0 {
		return 0, err
	}

	sectorSize := int64(aligned.device.SectorSize())
	if offset%sectorSize == 0 && int64(len(data))%sectorSize == 0 {
		err = aligned.device.WriteSectors(common.SectorID(offset/sectorSize), data)
		if err != nil {
			return 0, err
		}
		return len(data), nil
	}

	first, count, skip := aligned.sectorSpan(offset, len(data))
	sectors, err := aligned.device.ReadSectors(first, count)
	if err != nil {
		return 0, err
	}
	copy(sectors[skip:], data)

	err = aligned.device.WriteSectors(first, sectors)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
