package fatfs

import (
	"fmt"

	"github.com/dargueta/fatfs/errors"
	"github.com/hashicorp/go-multierror"
)

// DriverError is the error type returned by every layer of the driver. Each one
// carries an errno-style code so callers exposing the volume through a POSIX-ish
// interface can map failures without string matching.
type DriverError interface {
	error
	Errno() errors.Errno
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseDriverError errors.Errno

// Boot sector is truncated or describes impossible geometry.
var ErrParse = newDriverError(errors.EMEDIUMTYPE, "malformed boot sector")

// Not enough free clusters to satisfy an allocation.
var ErrOutOfSpace = newDriverError(errors.ENOSPC, "not enough free clusters")

// A cluster chain loops back on itself or points at a cluster that isn't
// allocated.
var ErrChainInconsistency = newDriverError(errors.EUCLEAN, "cluster chain is inconsistent")

// A read started at or beyond the capacity of a cluster chain.
var ErrReadPastEnd = newDriverError(errors.ERANGE, "read past end of cluster chain")

// A write extends beyond the clusters already reserved for a chain.
var ErrWritePastCapacity = newDriverError(errors.EFBIG, "write past capacity of cluster chain")

// A directory-only operation was invoked on a file.
var ErrUnsupportedForFile = newDriverError(errors.ENOTDIR, "operation not supported on a file")

var ErrInvalidArgument = baseDriverError(errors.EINVAL)
var ErrIOFailed = baseDriverError(errors.EIO)
var ErrNotSupported = baseDriverError(errors.ENOTSUP)
var ErrPermissionDenied = baseDriverError(errors.EPERM)
var ErrIsADirectory = baseDriverError(errors.EISDIR)

func newDriverError(code errors.Errno, message string) DriverError {
	return baseDriverError(code).WithMessage(message)
}

func (e baseDriverError) Error() string {
	return errors.StrError(errors.Errno(e))
}

func (e baseDriverError) Errno() errors.Errno {
	return errors.Errno(e)
}

func (e baseDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		errno:         errors.Errno(e),
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

func (e baseDriverError) Wrap(err error) DriverError {
	return customDriverError{
		errno:         errors.Errno(e),
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	errno         errors.Errno
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) Errno() errors.Errno {
	return e.errno
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}
