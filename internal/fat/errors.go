package fat

import "errors"

var (
	// ErrInvalidInput is returned when the partition does not look like a
	// consistent FAT32 filesystem at all.
	ErrInvalidInput = errors.New("invalid FAT32 partition")

	// ErrCorruptSource is returned when the filesystem is structurally
	// recognizable but internally inconsistent (broken chains, malformed
	// long file names, out-of-range timestamps).
	ErrCorruptSource = errors.New("corrupt FAT32 filesystem")
)
