package fat

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ClusterIdx indexes the partition's block grid. The converter chooses the
// ext4 block size equal to the FAT cluster size, so FAT clusters and ext4
// blocks share this grid.
type ClusterIdx = uint32

const (
	// BootSectorSize is the size of the FAT32 boot sector (one sector).
	BootSectorSize = 512

	bootSectorMarker = 0xAA55
	extBootSignature = 0x29
	// extBootSignatureNoLabel marks a boot sector whose volume label field
	// is not meaningful.
	extBootSignatureNoLabel = 0x28
)

var fsTypeFat32 = [8]byte{'F', 'A', 'T', '3', '2', ' ', ' ', ' '}

// BootSector is the FAT32 boot sector (BIOS Parameter Block included).
// All multi-byte fields are little-endian on disk; the struct is read with
// binary.Read so the in-memory layout mirrors the on-disk one.
type BootSector struct {
	Jump              [3]byte  // 0x00 Boot strap short or near jump
	OemName           [8]byte  // 0x03 OEM name
	BytesPerSector    uint16   // 0x0B Bytes per logical sector
	SectorsPerCluster uint8    // 0x0D Sectors per cluster
	ReservedSectors   uint16   // 0x0E Sectors before the first FAT
	FatCount          uint8    // 0x10 Number of FAT copies
	RootDirEntries    uint16   // 0x11 Root directory entries (FAT12/16 only)
	SectorCount16     uint16   // 0x13 Total sectors, 16-bit (0 for FAT32)
	MediaDescriptor   uint8    // 0x15 Media code
	SectorsPerFat16   uint16   // 0x16 Sectors per FAT (FAT12/16 only)
	SectorsPerTrack   uint16   // 0x18 Sectors per track
	Heads             uint16   // 0x1A Number of heads
	HiddenSectors     uint32   // 0x1C Sectors preceding the partition
	SectorCount32     uint32   // 0x20 Total sectors, 32-bit
	SectorsPerFat     uint32   // 0x24 Sectors per FAT
	Flags             uint16   // 0x28 FAT mirroring flags
	Version           uint16   // 0x2A Filesystem version
	RootCluster       uint32   // 0x2C First cluster of the root directory
	FsInfoSector      uint16   // 0x30 FS information sector
	BackupBootSector  uint16   // 0x32 Backup boot sector location
	Reserved          [12]byte // 0x34 Reserved
	DriveNumber       uint8    // 0x40 Physical drive number
	Reserved2         uint8    // 0x41 Reserved
	ExtBootSignature  uint8    // 0x42 Extended boot signature (0x29)
	VolumeID          uint32   // 0x43 Volume serial number
	VolumeLabel       [11]byte // 0x47 Volume label
	FsType            [8]byte  // 0x52 Filesystem type ("FAT32   ")
	BootCode          [420]byte
	Marker            uint16 // 0x1FE Boot sector signature (0xAA55)
}

// ReadBootSectorFrom decodes and validates a FAT32 boot sector. A successful
// return does not guarantee the boot sector is consistent with the rest of
// the partition, only that this data was meant to be a FAT32 boot sector.
func ReadBootSectorFrom(data []byte) (*BootSector, error) {
	if len(data) < BootSectorSize {
		return nil, fmt.Errorf("%w: partition smaller than a boot sector (%d bytes)", ErrInvalidInput, len(data))
	}

	var bs BootSector
	if err := binary.Read(bytes.NewReader(data[:BootSectorSize]), binary.LittleEndian, &bs); err != nil {
		return nil, fmt.Errorf("error reading boot sector: %w", err)
	}

	if bs.Marker != bootSectorMarker {
		return nil, fmt.Errorf("%w: invalid boot sector marker: expected 0x%04X, got 0x%04X",
			ErrInvalidInput, bootSectorMarker, bs.Marker)
	}
	if bs.ExtBootSignature != extBootSignature && bs.ExtBootSignature != extBootSignatureNoLabel {
		return nil, fmt.Errorf("%w: unexpected extended boot signature: 0x%02X instead of 0x%02X",
			ErrInvalidInput, bs.ExtBootSignature, extBootSignature)
	}
	if bs.FsType != fsTypeFat32 {
		return nil, fmt.Errorf("%w: unexpected filesystem type %q instead of %q",
			ErrInvalidInput, bs.FsType[:], fsTypeFat32[:])
	}
	return &bs, nil
}

// ClusterSize returns the cluster size in bytes.
func (bs *BootSector) ClusterSize() uint32 {
	return uint32(bs.SectorsPerCluster) * uint32(bs.BytesPerSector)
}

// SectorCount returns the total sector count of the filesystem.
func (bs *BootSector) SectorCount() uint32 {
	if bs.SectorCount16 != 0 {
		return uint32(bs.SectorCount16)
	}
	return bs.SectorCount32
}

// ClusterCount returns the total cluster count of the filesystem.
func (bs *BootSector) ClusterCount() uint32 {
	return bs.SectorCount() / uint32(bs.SectorsPerCluster)
}

// Size returns the filesystem size in bytes.
func (bs *BootSector) Size() int64 {
	return int64(bs.SectorCount()) * int64(bs.BytesPerSector)
}

// FatTableRange returns the byte range of the first FAT copy, relative to
// the filesystem start.
func (bs *BootSector) FatTableRange() (start, end int) {
	start = int(bs.ReservedSectors) * int(bs.BytesPerSector)
	end = start + int(bs.SectorsPerFat)*int(bs.BytesPerSector)
	return start, end
}

// DataRange returns the byte range of the data region, relative to the
// filesystem start.
func (bs *BootSector) DataRange() (start, end int) {
	return int(bs.firstDataSector()) * int(bs.BytesPerSector), int(bs.Size())
}

func (bs *BootSector) firstDataSector() uint32 {
	return uint32(bs.ReservedSectors) + bs.SectorsPerFat*uint32(bs.FatCount)
}

// FirstDataCluster returns the index of the first cluster of the data region
// on the shared block grid.
func (bs *BootSector) FirstDataCluster() ClusterIdx {
	return bs.firstDataSector() / uint32(bs.SectorsPerCluster)
}

// DentriesPerCluster returns how many 32-byte directory slots fit in one
// cluster.
func (bs *BootSector) DentriesPerCluster() int {
	return int(bs.ClusterSize()) / DentrySize
}

// Label returns the volume label with trailing padding removed, or nil if
// the boot sector carries no label.
func (bs *BootSector) Label() []byte {
	if bs.ExtBootSignature == extBootSignatureNoLabel {
		return nil
	}
	label := bs.VolumeLabel[:]
	for len(label) > 0 && label[len(label)-1] == ' ' {
		label = label[:len(label)-1]
	}
	return label
}
