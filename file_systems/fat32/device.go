package fat32

import (
	"io"

	"github.com/dargueta/fatfs/file_systems/common"
)

// readExact fills `buffer` from `offset`. Errors from the device are returned
// unchanged. A short read without an error is reported as [io.ErrUnexpectedEOF].
func readExact(device common.BlockDevice, buffer []byte, offset int64) error {
	n, err := device.ReadAt(buffer, offset)
	if n == len(buffer) {
		// io.ReaderAt allows io.EOF alongside a full read at the end of the
		// device.
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func writeExact(device common.BlockDevice, buffer []byte, offset int64) error {
	n, err := device.WriteAt(buffer, offset)
	if err != nil {
		return err
	}
	if n != len(buffer) {
		return io.ErrShortWrite
	}
	return nil
}
