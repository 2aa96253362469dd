// Package errors defines the POSIX-style error codes that back every error the
// driver returns. The syscall package doesn't define all of them on every
// platform (EUCLEAN and EMEDIUMTYPE in particular), so they live here.
package errors

import (
	"fmt"
)

type Errno int

const (
	EOK Errno = iota
	EPERM
	EIO
	EINVAL
	ENOTDIR
	EISDIR
	EFBIG
	ENOSPC
	EROFS
	ERANGE
	ENOSYS
	ELOOP
	ENOTSUP
	EUCLEAN
	EMEDIUMTYPE
)

var errorMessagesByCode = map[Errno]string{
	EOK:         "Success",
	EPERM:       "Operation not permitted",
	EIO:         "Input/output error",
	EINVAL:      "Invalid argument",
	ENOTDIR:     "Not a directory",
	EISDIR:      "Is a directory",
	EFBIG:       "File too large",
	ENOSPC:      "No space left on device",
	EROFS:       "Read-only file system",
	ERANGE:      "Numerical result out of range",
	ENOSYS:      "Function not implemented",
	ELOOP:       "Too many levels of symbolic links",
	ENOTSUP:     "Operation not supported",
	EUCLEAN:     "Structure needs cleaning",
	EMEDIUMTYPE: "Wrong medium type",
}

// StrError returns the human-readable message for an error code, the same way
// strerror(3) does.
func StrError(code Errno) string {
	message, ok := errorMessagesByCode[code]
	if ok {
		return message
	}
	return fmt.Sprintf("error %d not recognized.", int(code))
}
