// Package errs defines the error kinds used across the VFS: InvalidArgument,
// NotFound, AlreadyExists, NotADirectory, IsADirectory, DirectoryNotEmpty,
// PageSizeMismatch, Corruption, Io, Disposed, and CommitOverflow. Each
// constructor wraps a containerd/errdefs sentinel so callers can classify
// failures with errors.Is/errdefs.Is* instead of matching strings.
package errs

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// ErrDisposed and ErrPageSizeMismatch have no equivalent errdefs sentinel;
// they are specific enough to this domain to warrant their own.
var (
	ErrDisposed          = errors.New("viofs: disposed")
	ErrPageSizeMismatch  = errors.New("viofs: page size mismatch")
	ErrCommitOverflow    = errors.New("viofs: superblock payload overflow")
	ErrNotADirectory     = errors.New("viofs: not a directory")
	ErrIsADirectory      = errors.New("viofs: is a directory")
	ErrDirectoryNotEmpty = errors.New("viofs: directory not empty")
)

// InvalidArgument reports a malformed path, empty attribute name, negative
// length, or similar caller error.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, errdefs.ErrInvalidArgument)...)
}

// NotFound reports a missing file, directory, or attribute.
func NotFound(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, errdefs.ErrNotFound)...)
}

// AlreadyExists reports a create-new collision or a createDirectory segment
// colliding with a file.
func AlreadyExists(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, errdefs.ErrAlreadyExists)...)
}

// NotADirectory reports a path segment or target expected to be a
// directory but is a file.
func NotADirectory(format string, args ...any) error {
	return fmt.Errorf(format+": %w: %w", append(args, ErrNotADirectory, errdefs.ErrFailedPrecondition)...)
}

// IsADirectory reports a path segment or target expected to be a file but
// is a directory.
func IsADirectory(format string, args ...any) error {
	return fmt.Errorf(format+": %w: %w", append(args, ErrIsADirectory, errdefs.ErrFailedPrecondition)...)
}

// DirectoryNotEmpty reports a non-recursive deleteDirectory on a non-empty
// target.
func DirectoryNotEmpty(format string, args ...any) error {
	return fmt.Errorf(format+": %w: %w", append(args, ErrDirectoryNotEmpty, errdefs.ErrFailedPrecondition)...)
}

// PageSizeMismatch reports a mount-time page size requested by the caller
// that differs from the page size recorded in the image.
func PageSizeMismatch(requested, actual int) error {
	return fmt.Errorf("page size %d does not match image page size %d: %w: %w",
		requested, actual, ErrPageSizeMismatch, errdefs.ErrFailedPrecondition)
}

// Corruption reports a superblock or metadata-extent checksum/magic/version
// failure.
func Corruption(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, errdefs.ErrDataLoss)...)
}

// Io wraps an underlying container I/O error (short read/write, OS error).
func Io(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, errdefs.ErrUnknown)...)
}

// Disposed reports an operation attempted on a disposed VFS or stream.
func Disposed(subject string) error {
	return fmt.Errorf("%s: %w: %w", subject, ErrDisposed, errdefs.ErrFailedPrecondition)
}

// CommitOverflow reports a superblock payload too large to fit in one slot.
func CommitOverflow(need, have int) error {
	return fmt.Errorf("metadata payload needs %d bytes, slot has %d: %w: %w",
		need, have, ErrCommitOverflow, errdefs.ErrResourceExhausted)
}

// IsNotFound reports whether err carries the NotFound kind.
func IsNotFound(err error) bool { return errdefs.IsNotFound(err) }

// IsAlreadyExists reports whether err carries the AlreadyExists kind.
func IsAlreadyExists(err error) bool { return errdefs.IsAlreadyExists(err) }

// IsInvalidArgument reports whether err carries the InvalidArgument kind.
func IsInvalidArgument(err error) bool { return errdefs.IsInvalidArgument(err) }

// IsCorruption reports whether err carries the Corruption kind.
func IsCorruption(err error) bool { return errdefs.IsDataLoss(err) }

// IsDisposed reports whether err was produced by Disposed.
func IsDisposed(err error) bool { return errors.Is(err, ErrDisposed) }

// IsPageSizeMismatch reports whether err was produced by PageSizeMismatch.
func IsPageSizeMismatch(err error) bool { return errors.Is(err, ErrPageSizeMismatch) }

// IsCommitOverflow reports whether err was produced by CommitOverflow.
func IsCommitOverflow(err error) bool { return errors.Is(err, ErrCommitOverflow) }

// IsNotADirectory reports whether err was produced by NotADirectory.
func IsNotADirectory(err error) bool { return errors.Is(err, ErrNotADirectory) }

// IsIsADirectory reports whether err was produced by IsADirectory.
func IsIsADirectory(err error) bool { return errors.Is(err, ErrIsADirectory) }

// IsDirectoryNotEmpty reports whether err was produced by DirectoryNotEmpty.
func IsDirectoryNotEmpty(err error) bool { return errors.Is(err, ErrDirectoryNotEmpty) }

// IsFailedPrecondition reports the NotADirectory/IsADirectory/
// DirectoryNotEmpty/PageSizeMismatch/Disposed family.
func IsFailedPrecondition(err error) bool { return errdefs.IsFailedPrecondition(err) }
