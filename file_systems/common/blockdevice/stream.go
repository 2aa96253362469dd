// Package blockdevice provides [common.BlockDevice] implementations over disk
// images and sector-addressed hardware.
package blockdevice

import (
	"fmt"
	"io"

	"github.com/dargueta/fatfs"
	"github.com/dargueta/fatfs/file_systems/common"
)

// Stream is an abstraction layer around a seekable stream, such as an image
// file, that makes it look like a volume: a fixed number of sectors beginning
// at some offset into the stream.
//
// The exposed fields are for informational purposes only and should never be
// changed directly.
type Stream struct {
	// BytesPerSector gives the size of a sector on this device, in bytes.
	BytesPerSector uint
	// TotalSectors is the number of whole sectors in the volume.
	TotalSectors uint
	// StartOffset is an offset from the beginning of the stream, in bytes, that
	// will be considered the beginning of sector 0 for the device. This is useful
	// for skipping over MBRs or other volumes stored on the same image.
	StartOffset int64
	stream      io.ReadWriteSeeker
}

// NewStream creates a device covering everything in `stream` after
// `startOffset`, rounded down to a whole number of sectors.
func NewStream(
	stream io.ReadWriteSeeker, bytesPerSector uint, startOffset int64,
) (*Stream, error) {
	if bytesPerSector == 0 {
		return nil, fatfs.ErrInvalidArgument.WithMessage("sector size can't be 0")
	}
	if startOffset < 0 {
		return nil, fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative start offset %d", startOffset))
	}

	totalSectors, err := DetermineSectorCount(stream, bytesPerSector, startOffset)
	if err != nil {
		return nil, err
	}
	return &Stream{
		BytesPerSector: bytesPerSector,
		TotalSectors:   totalSectors,
		StartOffset:    startOffset,
		stream:         stream,
	}, nil
}

// DetermineSectorCount gives the number of sectors in a stream after
// `startOffset`, rounded down to the nearest sector.
func DetermineSectorCount(stream io.Seeker, bytesPerSector uint, startOffset int64) (uint, error) {
	end, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if end <= startOffset {
		return 0, nil
	}
	return uint((end - startOffset) / int64(bytesPerSector)), nil
}

// Size gives the size of the device, in bytes.
func (device *Stream) Size() int64 {
	return int64(device.TotalSectors) * int64(device.BytesPerSector)
}

func (device *Stream) SectorSize() uint {
	return device.BytesPerSector
}

// CheckIOBounds checks to see if `length` bytes can be read from or written to
// the device, starting at `offset`. If the bounds check fails, it returns an
// error indicating exactly what went wrong.
func (device *Stream) CheckIOBounds(offset int64, length int) error {
	if offset < 0 {
		return fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative offset %d", offset))
	}

	size := device.Size()
	if offset+int64(length) > size {
		return fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"%d bytes at offset %d extends past end of device (%d B)",
				length,
				offset,
				size))
	}
	return nil
}

func (device *Stream) seek(offset int64) error {
	_, err := device.stream.Seek(device.StartOffset+offset, io.SeekStart)
	return err
}

// ReadAt fills `buffer` with the bytes at `offset`. It either reads the whole
// buffer or fails.
func (device *Stream) ReadAt(buffer []byte, offset int64) (int, error) {
	err := device.CheckIOBounds(offset, len(buffer))
	if err != nil {
		return 0, err
	}

	err = device.seek(offset)
	if err != nil {
		return 0, err
	}
	return io.ReadFull(device.stream, buffer)
}

// WriteAt writes all of `data` at `offset`. It never extends the device.
func (device *Stream) WriteAt(data []byte, offset int64) (int, error) {
	err := device.CheckIOBounds(offset, len(data))
	if err != nil {
		return 0, err
	}

	err = device.seek(offset)
	if err != nil {
		return 0, err
	}

	n, err := device.stream.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	return n, err
}

// ReadSectors reads `count` whole sectors starting from `first`.
func (device *Stream) ReadSectors(first common.SectorID, count uint) ([]byte, error) {
	buffer := make([]byte, count*device.BytesPerSector)
	_, err := device.ReadAt(buffer, int64(first)*int64(device.BytesPerSector))
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// WriteSectors writes data to the device starting at sector `first`. `data`
// must be a multiple of the sector size.
func (device *Stream) WriteSectors(first common.SectorID, data []byte) error {
	if uint(len(data))%device.BytesPerSector != 0 {
		return fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"data must be a multiple of the sector size (%d B), got %d (remainder %d)",
				device.BytesPerSector,
				len(data),
				uint(len(data))%device.BytesPerSector))
	}

	_, err := device.WriteAt(data, int64(first)*int64(device.BytesPerSector))
	return err
}

// Resize changes the number of sectors in the device. The underlying stream
// must implement [common.Truncator].
func (device *Stream) Resize(totalSectors uint) error {
	truncator, ok := device.stream.(common.Truncator)
	if !ok {
		return fatfs.ErrNotSupported.WithMessage("stream can't be resized")
	}

	err := truncator.Truncate(
		device.StartOffset + int64(totalSectors)*int64(device.BytesPerSector))
	if err != nil {
		return err
	}
	device.TotalSectors = totalSectors
	return nil
}

// Close closes the underlying stream if it can be closed.
func (device *Stream) Close() error {
	if closer, ok := device.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
