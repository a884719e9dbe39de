package mmap

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// MmapFile represents a writable memory-mapped file or block device.
type MmapFile struct {
	Data     []byte   // The memory-mapped byte slice
	File     *os.File // The underlying opened file
	FileSize int64    // Total size of the underlying file or device
}

// NewMmapFile maps the whole of filePath read-write.
//
// filePath: the path to a regular file or a raw disk device (e.g., "/dev/sdb1").
//
// The target must not be mounted; an exclusive advisory lock is taken on it
// for the lifetime of the mapping. Mutations go straight to the page cache;
// Sync flushes them to storage, while Close only unmaps and closes the file.
//
// If mapping a raw disk device, ensure the path is correct and the program
// has sufficient privileges.
func NewMmapFile(filePath string) (*MmapFile, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %q: %w", filePath, err)
	}
	if target, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = target
	}

	mounted, err := IsMounted(absPath)
	if err != nil {
		return nil, err
	}
	if mounted {
		return nil, fmt.Errorf("%q is mounted, unmount it first", absPath)
	}

	f, err := os.OpenFile(absPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", absPath, err)
	}

	// The lock is only advisory, other processes may still access the file.
	// It is released when the file descriptor is closed.
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock %q: %w", absPath, err)
	}

	size, err := fileSize(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("file %q is empty, cannot mmap", absPath)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed for %q: %w", absPath, err)
	}

	return &MmapFile{
		Data:     data,
		File:     f,
		FileSize: size,
	}, nil
}

// Sync flushes the mapped pages back to the underlying storage.
func (mf *MmapFile) Sync() error {
	return unix.Msync(mf.Data, unix.MS_SYNC)
}

// Close unmaps the region and closes (and thereby unlocks) the file.
func (mf *MmapFile) Close() error {
	var firstErr error
	if mf.Data != nil {
		if err := unix.Munmap(mf.Data); err != nil {
			firstErr = err
		}
		mf.Data = nil
	}
	if mf.File != nil {
		if err := mf.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		mf.File = nil
	}
	return firstErr
}

// fileSize determines the size of a regular file via stat, or of a block
// device via the BLKGETSIZE64 ioctl.
func fileSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %q: %w", f.Name(), err)
	}

	if fi.Mode().IsRegular() {
		return fi.Size(), nil
	}

	if fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice == 0 {
		size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
		if err != nil {
			return 0, fmt.Errorf("ioctl BLKGETSIZE64 failed for %q: %w", f.Name(), err)
		}
		return int64(size), nil
	}

	return 0, fmt.Errorf("%q is neither a regular file nor a block device", f.Name())
}

// IsMounted reports whether the given path appears as a mount source in the
// system mount table. The path should already be absolute with symlinks
// resolved.
func IsMounted(path string) (bool, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		if os.IsNotExist(err) {
			// no mount table to consult (non-Linux), assume not mounted
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 1 && fields[0] == path {
			return true, nil
		}
	}
	return false, scanner.Err()
}
