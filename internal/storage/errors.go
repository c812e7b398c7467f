package storage

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Kind discriminates the storage I/O failure modes named in spec §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindDiskFull
	KindNotFound
	KindCreateDirectoryFailed
	KindAtomicRenameFailed
	KindIO
)

// Error is the typed storage error spec §4.D/§7 requires: it
// discriminates the failure kind and carries a recovery suggestion for
// the kinds a caller can plausibly act on.
type Error struct {
	Kind       Kind
	Path       string
	Err        error
	Recoverable bool
	Suggestion string
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s (%s): %v", kindName(e.Kind), e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func kindName(k Kind) string {
	switch k {
	case KindPermissionDenied:
		return "permission-denied"
	case KindDiskFull:
		return "disk-full"
	case KindNotFound:
		return "not-found"
	case KindCreateDirectoryFailed:
		return "create-directory-failed"
	case KindAtomicRenameFailed:
		return "atomic-rename-failed"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

var ErrNotFound = errors.New("storage: not found")

// classify turns a raw OS error into a typed *Error, detecting disk-full
// either by platform error code (via errors.Is against the stdlib
// sentinels where available) or by substring match on the message, since
// not every platform surfaces ENOSPC as a typed error through os.
func classify(path string, op string, err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "permission denied"):
		return &Error{
			Kind: KindPermissionDenied, Path: path, Err: err,
			Recoverable: true,
			Suggestion:  "check file and directory permissions for the data directory",
		}
	case errors.Is(err, syscall.ENOSPC) || strings.Contains(msg, "no space") || strings.Contains(msg, "disk full") || strings.Contains(msg, "quota"):
		return &Error{
			Kind: KindDiskFull, Path: path, Err: err,
			Recoverable: true,
			Suggestion:  "free up disk space and retry",
		}
	case errors.Is(err, ErrNotFound):
		return &Error{Kind: KindNotFound, Path: path, Err: err}
	default:
		kind := KindIO
		if op == "mkdir" {
			kind = KindCreateDirectoryFailed
		}
		if op == "rename" {
			kind = KindAtomicRenameFailed
		}
		return &Error{Kind: kind, Path: path, Err: err}
	}
}
