package fat

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/ostafen/fat2ext4/internal/ranges"
)

// File is a logical file or directory of a FAT32 directory table: the
// decoded name, the short dentry carrying its metadata, and the coalesced
// cluster ranges holding its data.
type File struct {
	Name       string
	Dentry     Dentry
	DataRanges []ranges.Range[ClusterIdx]
}

// Fs is a read-only view over a FAT32 filesystem: the boot sector, the
// first FAT copy, and the data region.
type Fs struct {
	data  []byte
	boot  *BootSector
	table Table
}

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// NewFs validates the boot sector and builds a filesystem view over data.
func NewFs(data []byte) (*Fs, error) {
	boot, err := ReadBootSectorFrom(data)
	if err != nil {
		return nil, err
	}

	fatStart, fatEnd := boot.FatTableRange()
	if fatStart < BootSectorSize || fatEnd > len(data) {
		return nil, fmt.Errorf("%w: FAT table range [%d, %d) out of bounds", ErrInvalidInput, fatStart, fatEnd)
	}

	dataStart, dataEnd := boot.DataRange()
	if dataStart < fatEnd || dataEnd > len(data) {
		return nil, fmt.Errorf("%w: data range [%d, %d) out of bounds", ErrInvalidInput, dataStart, dataEnd)
	}

	return &Fs{
		data:  data,
		boot:  boot,
		table: NewTable(data[fatStart:fatEnd]),
	}, nil
}

func (fs *Fs) BootSector() *BootSector {
	return fs.boot
}

func (fs *Fs) Table() Table {
	return fs.table
}

func (fs *Fs) ClusterSize() int {
	return int(fs.boot.ClusterSize())
}

// Size returns the filesystem size in bytes as declared by the boot sector.
func (fs *Fs) Size() int64 {
	return fs.boot.Size()
}

// toClusterIdx translates a FAT index into an index on the shared block grid.
func (fs *Fs) toClusterIdx(idx FatTableIndex) ClusterIdx {
	return uint32(idx-RootFatIndex) + fs.boot.FirstDataCluster()
}

// Cluster returns the bytes of the data cluster identified by the given
// absolute cluster index.
func (fs *Fs) Cluster(idx ClusterIdx) []byte {
	clusterSize := fs.ClusterSize()
	start := int(idx) * clusterSize
	return fs.data[start : start+clusterSize]
}

// chain follows the FAT chain starting at first and returns the visited FAT
// indices. Cycles and out-of-range cells are reported as corruption.
func (fs *Fs) chain(first FatTableIndex) ([]FatTableIndex, error) {
	if first.IsZeroLengthFile() {
		return nil, nil
	}

	var indices []FatTableIndex
	current := first
	for !current.IsChainEnd() {
		if int(current) < int(RootFatIndex) || int(current) >= fs.table.Len() {
			return nil, fmt.Errorf("%w: FAT chain references cell %d out of range", ErrCorruptSource, current)
		}
		if len(indices) >= fs.table.Len() {
			return nil, fmt.Errorf("%w: FAT chain starting at cell %d forms a cycle", ErrCorruptSource, first)
		}
		indices = append(indices, current)
		current = fs.table.Cell(current)
		if current.IsZeroLengthFile() {
			return nil, fmt.Errorf("%w: FAT chain starting at cell %d ends in a free cell", ErrCorruptSource, first)
		}
	}
	return indices, nil
}

// DataRanges follows the FAT chain starting at first and coalesces the
// file's clusters into adjacent [start, end) ranges on the block grid.
func (fs *Fs) DataRanges(first FatTableIndex) ([]ranges.Range[ClusterIdx], error) {
	indices, err := fs.chain(first)
	if err != nil || len(indices) == 0 {
		return nil, err
	}

	var result []ranges.Range[ClusterIdx]
	start := fs.toClusterIdx(indices[0])
	current := ranges.Range[ClusterIdx]{Start: start, End: start + 1}
	for _, idx := range indices[1:] {
		cluster := fs.toClusterIdx(idx)
		if cluster == current.End {
			current.End++
		} else {
			result = append(result, current)
			current = ranges.Range[ClusterIdx]{Start: cluster, End: cluster + 1}
		}
	}
	return append(result, current), nil
}

// UsedRanges returns the clusters occupied by the filesystem itself: the
// reserved sectors and FAT copies below the first data cluster, plus every
// data cluster not marked free in the FAT.
func (fs *Fs) UsedRanges() *ranges.Set[ClusterIdx] {
	used := ranges.New(ranges.Range[ClusterIdx]{Start: 0, End: fs.boot.FirstDataCluster()})

	run := ranges.Range[ClusterIdx]{}
	for i := RootFatIndex; int(i) < fs.table.Len(); i++ {
		if fs.table.Cell(i).isFree() {
			continue
		}
		cluster := fs.toClusterIdx(i)
		if cluster == run.End && !run.IsEmpty() {
			run.End++
			continue
		}
		if !run.IsEmpty() {
			used.Insert(run)
		}
		run = ranges.Range[ClusterIdx]{Start: cluster, End: cluster + 1}
	}
	if !run.IsEmpty() {
		used.Insert(run)
	}
	return used
}

// ReadDir returns the logical files of the directory whose table starts at
// the given FAT index, in table order. The '.' and '..' links and deleted
// slots are skipped.
func (fs *Fs) ReadDir(first FatTableIndex) ([]File, error) {
	slots, err := fs.dirSlots(first)
	if err != nil {
		return nil, err
	}

	var files []File
	for i := 0; i < len(slots); {
		var name string
		if slots[i][11] == AttrLongFileName {
			var consumed int
			name, consumed, err = decodeLongFileName(slots[i:])
			if err != nil {
				return nil, err
			}
			i += consumed
			if i >= len(slots) {
				return nil, fmt.Errorf("%w: long file name %q not followed by a dentry", ErrCorruptSource, name)
			}
		}

		dentry, err := ReadDentryFrom(slots[i])
		if err != nil {
			return nil, err
		}
		i++

		if name == "" {
			name = dentry.ShortNameString()
		}

		dataRanges, err := fs.DataRanges(dentry.FirstIndex())
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: name, Dentry: dentry, DataRanges: dataRanges})
	}
	return files, nil
}

// dirSlots walks the directory's cluster chain and collects its raw 32-byte
// slots up to the end-of-table marker, dropping deleted slots and the dot
// directories.
func (fs *Fs) dirSlots(first FatTableIndex) ([][]byte, error) {
	indices, err := fs.chain(first)
	if err != nil {
		return nil, err
	}

	var slots [][]byte
	for _, idx := range indices {
		cluster := fs.Cluster(fs.toClusterIdx(idx))
		for off := 0; off+DentrySize <= len(cluster); off += DentrySize {
			slot := cluster[off : off+DentrySize]
			switch slot[0] {
			case slotTableEnd:
				return slots, nil
			case slotDeleted:
				continue
			}
			if slot[11] != AttrLongFileName && slot[0] == '.' {
				continue
			}
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

// decodeLongFileName assembles the name spread over a run of LFN slots. On
// disk the slots appear in reverse order with sequence numbers counting down
// to 1; anything else is corruption.
func decodeLongFileName(slots [][]byte) (name string, consumed int, err error) {
	first, err := readLongFileNameFrom(slots[0])
	if err != nil {
		return "", 0, err
	}
	if !first.isLast() {
		return "", 0, fmt.Errorf("%w: long file name chain does not start with its final fragment", ErrCorruptSource)
	}

	count := int(first.sequenceNo())
	if count == 0 || count > len(slots) {
		return "", 0, fmt.Errorf("%w: long file name chain truncated", ErrCorruptSource)
	}

	parts := make([]longFileName, count)
	parts[0] = first
	for i := 1; i < count; i++ {
		lfn, err := readLongFileNameFrom(slots[i])
		if err != nil {
			return "", 0, err
		}
		if lfn.Attrs != AttrLongFileName || int(lfn.sequenceNo()) != count-i {
			return "", 0, fmt.Errorf("%w: long file name sequence numbers are not descending", ErrCorruptSource)
		}
		parts[i] = lfn
	}

	// the first slot encountered holds the last part of the name
	var utf16 []byte
	for i := count - 1; i >= 0; i-- {
		utf16 = append(utf16, parts[i].utf16Bytes()...)
	}

	// the name is NUL-terminated unless it fills the slots completely
	for i := 0; i+1 < len(utf16); i += 2 {
		if utf16[i] == 0 && utf16[i+1] == 0 {
			utf16 = utf16[:i]
			break
		}
	}

	decoded, err := utf16Decoder.Bytes(utf16)
	if err != nil {
		return "", 0, fmt.Errorf("%w: long file name is not valid UTF-16: %v", ErrCorruptSource, err)
	}
	return string(decoded), count, nil
}
