package blockdevice

import (
	"os"

	"github.com/spf13/afero"
)

// OpenImage opens the disk image at `path` on `fs` for reading and writing.
// `startOffset` is the byte offset of the volume inside the image, e.g. the
// start of a partition. The caller must close the returned device.
func OpenImage(fs afero.Fs, path string, bytesPerSector uint, startOffset int64) (*Stream, error) {
	file, err := fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	device, err := NewStream(file, bytesPerSector, startOffset)
	if err != nil {
		file.Close()
		return nil, err
	}
	return device, nil
}

// CreateImage creates a zero-filled image of `totalSectors` sectors at `path`,
// replacing anything already there, and opens it as a device.
func CreateImage(fs afero.Fs, path string, bytesPerSector, totalSectors uint) (*Stream, error) {
	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	err = file.Truncate(int64(bytesPerSector) * int64(totalSectors))
	if err != nil {
		file.Close()
		return nil, err
	}

	device, err := NewStream(file, bytesPerSector, 0)
	if err != nil {
		file.Close()
		return nil, err
	}
	return device, nil
}
