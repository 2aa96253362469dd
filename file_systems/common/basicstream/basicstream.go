// Package basicstream implements a basic file-like abstraction around a file
// node on a mounted volume.
package basicstream

import (
	"fmt"
	"io"
	"os"

	"github.com/dargueta/fatfs"
)

const accessModeMask = os.O_RDONLY | os.O_WRONLY | os.O_RDWR

// BasicStream is a file-like wrapper around a [fatfs.Node] that emulates a
// subset of the functionality provided by an [os.File] instance.
type BasicStream struct {
	// Interfaces
	io.Closer
	io.ReaderAt
	io.ReaderFrom
	io.ReadWriteSeeker
	io.StringWriter
	io.WriterAt
	io.WriterTo

	// Fields
	node     fatfs.Node
	position int64
	flag     int
}

// New creates a BasicStream on top of a file. `flag` takes the same values as
// the flag argument to [os.OpenFile].
//
//   - Read/write permissions are enforced, e.g. attempting to write a stream
//     created with [os.O_RDONLY] will fail with [fatfs.ErrPermissionDenied].
//   - [os.O_APPEND], [os.O_SYNC], and [os.O_TRUNC] are obeyed.
func New(node fatfs.Node, flag int) (*BasicStream, error) {
	if node.IsDirectory() {
		return nil, fatfs.ErrIsADirectory.WithMessage(
			fmt.Sprintf("can't open %q as a stream", node.Name()))
	}

	stream := &BasicStream{
		node: node,
		flag: flag,
	}

	if flag&os.O_TRUNC != 0 {
		return stream, stream.Truncate(0)
	}
	return stream, nil
}

func (stream *BasicStream) canRead() bool {
	return stream.flag&accessModeMask != os.O_WRONLY
}

func (stream *BasicStream) canWrite() bool {
	return stream.flag&accessModeMask != os.O_RDONLY
}

func (stream *BasicStream) isAppend() bool {
	return stream.flag&os.O_APPEND != 0
}

func (stream *BasicStream) isSynchronous() bool {
	return stream.flag&os.O_SYNC != 0
}

// Close writes out all pending changes to the underlying storage. The stream
// should not be used for I/O operations after calling this method.
func (stream *BasicStream) Close() error {
	return stream.Sync()
}

func (stream *BasicStream) Read(buffer []byte) (int, error) {
	totalRead, err := stream.ReadAt(buffer, stream.position)
	stream.position += int64(totalRead)
	return totalRead, err
}

func (stream *BasicStream) ReadAt(buffer []byte, offset int64) (int, error) {
	if !stream.canRead() {
		return 0, fatfs.ErrPermissionDenied.WithMessage("stream is write-only")
	}
	return stream.node.ReadAt(buffer, offset)
}

func (stream *BasicStream) ReadFrom(r io.Reader) (int64, error) {
	if !stream.canWrite() {
		return 0, fatfs.ErrPermissionDenied.WithMessage("stream is read-only")
	}

	buffer := make([]byte, 4096)
	totalBytesRead := int64(0)
	for {
		lastReadSize, readErr := r.Read(buffer)
		totalBytesRead += int64(lastReadSize)

		var writeErr error
		if lastReadSize > 0 {
			_, writeErr = stream.Write(buffer[:lastReadSize])
		}
		if writeErr != nil {
			return totalBytesRead, writeErr
		} else if readErr == io.EOF {
			return totalBytesRead, nil
		} else if readErr != nil {
			return totalBytesRead, readErr
		}
	}
}

// Seek resets the stream pointer to `offset` bytes from the origin specified in
// `whence`. It must be one of [io.SeekStart], [io.SeekCurrent], or [io.SeekEnd].
//
// Seeking past the end of the file is possible; the file will automatically be
// resized upon the first write. Attempting to read past the end of the file
// returns no data.
func (stream *BasicStream) Seek(offset int64, whence int) (int64, error) {
	var absoluteOffset int64

	switch whence {
	case io.SeekStart:
		absoluteOffset = offset
	case io.SeekCurrent:
		absoluteOffset = stream.position + offset
	case io.SeekEnd:
		absoluteOffset = stream.node.Length() + offset
	default:
		return stream.position, fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid seek origin: %d", whence))
	}

	if absoluteOffset < 0 {
		return stream.position, fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"result of Seek(offset=%d, whence=%d) is negative",
				offset,
				whence))
	}

	stream.position = absoluteOffset
	return absoluteOffset, nil
}

// Size returns the size of the file, in bytes.
func (stream *BasicStream) Size() int64 {
	return stream.node.Length()
}

// Sync writes out pending changes to the file's metadata if the file supports
// it. File data is always written through immediately.
func (stream *BasicStream) Sync() error {
	if flusher, ok := stream.node.(fatfs.Flusher); ok {
		return flusher.Flush()
	}
	return nil
}

// Tell returns the current stream position. It's a more concise way of calling
// `Seek(0, io.SeekCurrent)`.
func (stream *BasicStream) Tell() int64 {
	return stream.position
}

// Truncate resizes the stream to the given number of bytes but does not move
// the stream pointer.
func (stream *BasicStream) Truncate(size int64) error {
	if !stream.canWrite() {
		return fatfs.ErrPermissionDenied.WithMessage("stream is read-only")
	}

	if size < 0 {
		return fatfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("truncate failed: %d is not a valid file size", size))
	}

	err := stream.node.SetLength(size)
	if err != nil {
		return err
	}

	if stream.isSynchronous() {
		return stream.Sync()
	}
	return nil
}

func (stream *BasicStream) Write(buffer []byte) (int, error) {
	if !stream.canWrite() {
		return 0, fatfs.ErrPermissionDenied.WithMessage("stream is read-only")
	}

	// Force the stream pointer to the end of the file if O_APPEND was set.
	if stream.isAppend() {
		stream.position = stream.node.Length()
	}

	// NB we must call implWriteAt, not WriteAt, since WriteAt fails if the
	// O_APPEND flag is set.
	totalWritten, err := stream.implWriteAt(buffer, stream.position)
	stream.position += int64(totalWritten)
	return totalWritten, err
}

// implWriteAt implements the bulk of WriteAt with the exception that it doesn't
// check for the O_APPEND flag.
func (stream *BasicStream) implWriteAt(buffer []byte, offset int64) (int, error) {
	if !stream.canWrite() {
		return 0, fatfs.ErrPermissionDenied.WithMessage("stream is read-only")
	}

	written, err := stream.node.WriteAt(buffer, offset)
	if err != nil {
		return written, err
	}

	if stream.isSynchronous() {
		return written, stream.Sync()
	}
	return written, nil
}

func (stream *BasicStream) WriteAt(buffer []byte, offset int64) (int, error) {
	if stream.isAppend() {
		return 0, fatfs.ErrPermissionDenied.WithMessage(
			"positional writes aren't allowed in append mode")
	}
	return stream.implWriteAt(buffer, offset)
}

// WriteString writes a string to the stream.
func (stream *BasicStream) WriteString(s string) (int, error) {
	return stream.Write([]byte(s))
}

// WriteTo copies the rest of the stream, from the current position, to `w`.
func (stream *BasicStream) WriteTo(w io.Writer) (int64, error) {
	buffer := make([]byte, 4096)
	totalWritten := int64(0)

	for {
		blockSize, err := stream.Read(buffer)

		// Always write the data we've read in regardless of whether an error
		// occurred or not.
		if blockSize > 0 {
			written, writeErr := w.Write(buffer[:blockSize])
			totalWritten += int64(written)
			if writeErr != nil {
				return totalWritten, writeErr
			}
		}

		// If we hit EOF, we're done. Any other error is fatal.
		if err == io.EOF {
			return totalWritten, nil
		} else if err != nil {
			return totalWritten, err
		}
	}
}
