// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package ext4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/google/uuid"

	"github.com/ostafen/fat2ext4/internal/lohi"
	"github.com/ostafen/fat2ext4/internal/ranges"
)

var (
	// ErrInvalidInput is returned when the FAT geometry cannot be mapped
	// onto an ext4 layout.
	ErrInvalidInput = errors.New("partition cannot be laid out as ext4")

	// ErrCapacity is returned when the partition cannot hold even one
	// usable block group.
	ErrCapacity = errors.New("partition too small")
)

// Well-known inode numbers.
const (
	RootInodeNo      = 2
	LostFoundInodeNo = 11

	// firstExistingInode is the number of the first inode slot; inode
	// numbering starts at 1.
	firstExistingInode = 1
	// firstNonReservedInode is the first inode number handed out to files;
	// inodes 1..10 are reserved by ext4.
	firstNonReservedInode = 11
)

const (
	superBlockSize   = 1024
	superBlockMagic  = 0xEF53
	superBlockOffset = 1024 // byte offset of the primary superblock

	stateCleanlyUnmounted = 1
	newestRevision        = 1
	errorsDefault         = 1

	blockSizeMinLog2 = 10
	minBlockSize     = 1024

	featureCompatSparseSuper2 = 0x200
	featureIncompatExtents    = 0x40
	featureIncompat64Bit      = 0x80

	descSize64Bit = 64
	inodeSize     = 256
	// inodeRatio is one inode per this many bytes, as used by mke2fs.
	inodeRatio = 16384

	volumeNameLen = 16

	// maxBlocksPerGroup is simplified because bigalloc clusters are not used.
	maxBlocksPerGroup = (1 << 16) - 8

	// minUsableBlocksPerGroup mirrors the mke2fs heuristic: a trailing
	// partial group with fewer usable data blocks than this is discarded.
	minUsableBlocksPerGroup = 10
)

// HasSuperBlock describes whether a block group starts with a superblock
// copy.
type HasSuperBlock int

const (
	NoSuperBlock HasSuperBlock = iota
	OriginalSuperBlock
	BackupSuperBlock
)

// SuperBlock is the ext4 superblock in its exact on-disk layout. All fields
// are little-endian; the record is 1024 bytes including the reserved tail.
type SuperBlock struct {
	InodesCount          uint32
	BlocksCountLo        uint32
	RBlocksCountLo       uint32
	FreeBlocksCountLo    uint32
	FreeInodesCount      uint32
	FirstDataBlock       uint32
	LogBlockSize         uint32
	LogClusterSize       uint32
	BlocksPerGroup       uint32
	ClustersPerGroup     uint32
	InodesPerGroup       uint32
	Mtime                uint32
	Wtime                uint32
	MountCount           uint16
	MaxMountCount        uint16
	Magic                uint16
	State                uint16
	Errors               uint16
	MinorRevisionLevel   uint16
	LastCheck            uint32
	CheckInterval        uint32
	CreatorOS            uint32
	RevisionLevel        uint32
	DefaultReservedUID   uint16
	DefaultReservedGID   uint16
	FirstInode           uint32
	InodeSize            uint16
	BlockGroupNr         uint16
	FeatureCompat        uint32
	FeatureIncompat      uint32
	FeatureRoCompat      uint32
	UUID                 [16]byte
	VolumeName           [volumeNameLen]byte
	LastMounted          [64]byte
	AlgorithmUsageBitmap uint32
	PreallocBlocks       uint8
	PreallocDirBlocks    uint8
	ReservedGdtBlocks    uint16
	JournalUUID          [16]byte
	JournalInum          uint32
	JournalDev           uint32
	LastOrphan           uint32
	HashSeed             [4]uint32
	DefHashVersion       uint8
	JournalBackupType    uint8
	DescSize             uint16
	DefaultMountOpts     uint32
	FirstMetaBg          uint32
	MkfsTime             uint32
	JournalBlocks        [17]uint32
	BlocksCountHi        uint32
	RBlocksCountHi       uint32
	FreeBlocksCountHi    uint32
	MinExtraIsize        uint16
	WantExtraIsize       uint16
	Flags                uint32
	RaidStride           uint16
	MmpInterval          uint16
	MmpBlock             uint64
	RaidStripeWidth      uint32
	LogGroupsPerFlex     uint8
	ChecksumType         uint8
	EncryptionLevel      uint8
	ReservedPad          uint8
	KbytesWritten        uint64
	SnapshotInum         uint32
	SnapshotID           uint32
	SnapshotRBlocksCount uint64
	SnapshotList         uint32
	ErrorCount           uint32
	FirstErrorTime       uint32
	FirstErrorInode      uint32
	FirstErrorBlock      uint64
	FirstErrorFunc       [32]byte
	FirstErrorLine       uint32
	LastErrorTime        uint32
	LastErrorInode       uint32
	LastErrorLine        uint32
	LastErrorBlock       uint64
	LastErrorFunc        [32]byte
	MountOpts            [64]byte
	UserQuotaInum        uint32
	GroupQuotaInum       uint32
	OverheadBlocks       uint32
	BackupBgs            [2]uint32
	EncryptAlgos         [4]byte
	EncryptPwSalt        [16]byte
	LpfInode             uint32
	ProjectQuotaInum     uint32
	ChecksumSeed         uint32
	Reserved             [98]uint32
	Checksum             uint32
}

// NewSuperBlock derives an ext4 superblock for a partition of partitionLen
// bytes whose block size equals the FAT cluster size. The derivation mirrors
// mke2fs: one inode per 16 KiB, a one-block bitmap per group, and a trailing
// partial group dropped when it would hold fewer than a handful of usable
// blocks. The last block group always carries a superblock copy
// (sparse_super2 layout).
func NewSuperBlock(partitionLen uint64, blockSize uint32, volumeLabel []byte) (*SuperBlock, error) {
	if blockSize < minBlockSize {
		return nil, fmt.Errorf("%w: cluster size %d is below 1 KiB", ErrInvalidInput, blockSize)
	}
	if bits.OnesCount32(blockSize) != 1 {
		return nil, fmt.Errorf("%w: cluster size %d is not a power of 2", ErrInvalidInput, blockSize)
	}
	if len(volumeLabel) > volumeNameLen {
		volumeLabel = volumeLabel[:volumeNameLen]
	}

	sb := &SuperBlock{
		Magic:         superBlockMagic,
		State:         stateCleanlyUnmounted,
		RevisionLevel: newestRevision,
		Errors:        errorsDefault,
		FeatureCompat: featureCompatSparseSuper2,
		FeatureIncompat: featureIncompat64Bit |
			featureIncompatExtents,
		DescSize:       descSize64Bit,
		InodeSize:      inodeSize,
		FirstInode:     firstNonReservedInode,
		MaxMountCount:  math.MaxUint16,
		MkfsTime:       uint32(time.Now().Unix()),
		MinExtraIsize:  inodeExtraIsize,
		WantExtraIsize: inodeExtraIsize,
	}

	sb.LogBlockSize = uint32(bits.TrailingZeros32(blockSize)) - blockSizeMinLog2
	// when the block size is 1024 the whole first block is boot-sector padding
	if blockSize <= superBlockOffset {
		sb.FirstDataBlock = 1
	}
	sb.BlocksPerGroup = min(maxBlocksPerGroup, blockSize*8)

	// these keep their block twins' values even with bigalloc disabled
	sb.LogClusterSize = sb.LogBlockSize
	sb.ClustersPerGroup = sb.BlocksPerGroup

	volumeUUID := uuid.New()
	copy(sb.UUID[:], volumeUUID[:])
	copy(sb.VolumeName[:], volumeLabel)

	// inodes per group need to fit into a one-block bitmap
	maxInodesPerGroup := blockSize * 8
	sb.InodesPerGroup = min(maxInodesPerGroup, uint32(uint64(sb.BlocksPerGroup)*uint64(blockSize)/inodeRatio))

	blockCount := partitionLen / uint64(blockSize)
	dataBlockCount := blockCount - uint64(sb.FirstDataBlock)
	// the intermediate value is needed by BlockGroupOverhead below
	lohi.SetU64(&sb.BlocksCountLo, &sb.BlocksCountHi, blockCount)

	// Same heuristic as mke2fs: if the last block group would have too few
	// usable data blocks, shrink the filesystem and ignore the remaining
	// space. The trailing group always holds a superblock copy under
	// sparse_super2, so its overhead is the backup-group overhead.
	lastGroupBlockCount := dataBlockCount % uint64(sb.BlocksPerGroup)
	if lastGroupBlockCount < sb.BlockGroupOverhead(BackupSuperBlock)+minUsableBlocksPerGroup {
		blockCount -= lastGroupBlockCount
		dataBlockCount -= lastGroupBlockCount
		lohi.SetU64(&sb.BlocksCountLo, &sb.BlocksCountHi, blockCount)
	}

	if dataBlockCount == 0 {
		return nil, fmt.Errorf("%w: it would have fewer than %d usable blocks",
			ErrCapacity, minUsableBlocksPerGroup)
	}

	blockGroupCount := divCeil(dataBlockCount, uint64(sb.BlocksPerGroup))
	sb.InodesCount = sb.InodesPerGroup * uint32(blockGroupCount)

	if blockGroupCount > 1 {
		sb.BackupBgs[0] = 1
		if blockGroupCount > 2 {
			sb.BackupBgs[1] = uint32(blockGroupCount) - 1
		}
	}
	return sb, nil
}

// BlockSize returns the filesystem block size in bytes.
func (sb *SuperBlock) BlockSize() uint64 {
	return 1 << (sb.LogBlockSize + blockSizeMinLog2)
}

// BlockCount returns the total block count, including a possible first
// padding block that belongs to no block group.
func (sb *SuperBlock) BlockCount() uint64 {
	return lohi.U64(sb.BlocksCountLo, sb.BlocksCountHi)
}

// BlockCountWithoutPadding returns the number of blocks belonging to block
// groups.
func (sb *SuperBlock) BlockCountWithoutPadding() uint64 {
	return sb.BlockCount() - uint64(sb.FirstDataBlock)
}

// BlockGroupCount returns the number of block groups.
func (sb *SuperBlock) BlockGroupCount() uint64 {
	return divCeil(sb.BlockCountWithoutPadding(), uint64(sb.BlocksPerGroup))
}

// InodeTableBlockCount returns the number of blocks of each group's inode
// table.
func (sb *SuperBlock) InodeTableBlockCount() uint64 {
	return divCeil(uint64(sb.InodesPerGroup)*uint64(sb.InodeSize), sb.BlockSize())
}

// gdtBlockCount returns the number of blocks of one group descriptor table
// copy.
func (sb *SuperBlock) gdtBlockCount() uint64 {
	descriptorsPerBlock := sb.BlockSize() / uint64(sb.DescSize)
	return divCeil(sb.BlockGroupCount(), descriptorsPerBlock)
}

// SuperblockCopyOverhead returns the blocks occupied by the superblock copy
// and its descriptor table in a group, or zero for groups without a copy.
func (sb *SuperBlock) SuperblockCopyOverhead(has HasSuperBlock) uint64 {
	if has == NoSuperBlock {
		return 0
	}
	return 1 + sb.gdtBlockCount() + uint64(sb.ReservedGdtBlocks)
}

// BlockGroupOverhead returns the blocks a group loses to metadata: the
// optional superblock copy plus both bitmaps and the inode table.
func (sb *SuperBlock) BlockGroupOverhead(has HasSuperBlock) uint64 {
	return sb.SuperblockCopyOverhead(has) + 2 + sb.InodeTableBlockCount()
}

// BlockGroupHasSuperblock reports whether (and which kind of) superblock
// copy the given group holds.
func (sb *SuperBlock) BlockGroupHasSuperblock(idx uint32) HasSuperBlock {
	switch {
	case idx == 0:
		return OriginalSuperBlock
	case idx == sb.BackupBgs[0] || idx == sb.BackupBgs[1]:
		return BackupSuperBlock
	default:
		return NoSuperBlock
	}
}

// BlockGroupStartCluster returns the first block of the given group. When
// the first block is padding, every group begins one block later than its
// raw multiple.
func (sb *SuperBlock) BlockGroupStartCluster(idx uint32) uint32 {
	return sb.BlocksPerGroup*idx + sb.FirstDataBlock
}

// BlockGroupOverheadRanges returns the block ranges the ext4 metadata will
// occupy. These are the forbidden ranges the serializer must relocate user
// data out of.
func (sb *SuperBlock) BlockGroupOverheadRanges() *ranges.Set[uint32] {
	overhead := ranges.New[uint32]()
	if sb.BlockSize() <= superBlockOffset {
		// the entire first block is padding
		overhead.Insert(ranges.Range[uint32]{Start: 0, End: 1})
	}

	for idx := uint32(0); idx < uint32(sb.BlockGroupCount()); idx++ {
		start := sb.BlockGroupStartCluster(idx)
		end := start + uint32(sb.BlockGroupOverhead(sb.BlockGroupHasSuperblock(idx)))
		overhead.Insert(ranges.Range[uint32]{Start: start, End: end})
	}
	return overhead
}

// FreeBlocksCount returns the 64-bit free block tally.
func (sb *SuperBlock) FreeBlocksCount() uint64 {
	return lohi.U64(sb.FreeBlocksCountLo, sb.FreeBlocksCountHi)
}

// SetFreeBlocksCount stores the 64-bit free block tally.
func (sb *SuperBlock) SetFreeBlocksCount(count uint64) {
	lohi.SetU64(&sb.FreeBlocksCountLo, &sb.FreeBlocksCountHi, count)
}

// WriteTo marshals the superblock into its on-disk form at the start of b.
func (sb *SuperBlock) WriteTo(b []byte) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, sb); err != nil {
		return err
	}
	if buf.Len() != superBlockSize {
		panic(fmt.Sprintf("superblock marshals to %d bytes instead of %d", buf.Len(), superBlockSize))
	}
	copy(b, buf.Bytes())
	return nil
}

// ReadSuperBlockFrom decodes a superblock from the start of b.
func ReadSuperBlockFrom(b []byte) (*SuperBlock, error) {
	var sb SuperBlock
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &sb); err != nil {
		return nil, err
	}
	if sb.Magic != superBlockMagic {
		return nil, fmt.Errorf("invalid superblock magic 0x%04X", sb.Magic)
	}
	return &sb, nil
}

func divCeil(a, b uint64) uint64 {
	return (a + b - 1) / b
}
