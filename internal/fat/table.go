package fat

import "encoding/binary"

// RootFatIndex is the FAT index identifying the root directory's first
// cluster on FAT32.
const RootFatIndex FatTableIndex = 2

const (
	// fatEndOfChain marks the last cluster of a file's chain. Any masked
	// cell value at or above it is an end-of-chain sentinel.
	fatEndOfChain = 0x0FFFFFF8
	// fatEntryMask strips the four reserved top bits of a FAT32 cell.
	fatEntryMask = 0x0FFFFFFF
)

// FatTableIndex identifies a cell of the file allocation table. The cells at
// indices 0 and 1 are reserved; cell i >= 2 belongs to data cluster i-2.
type FatTableIndex uint32

// IsChainEnd reports whether the value is an end-of-chain sentinel.
func (i FatTableIndex) IsChainEnd() bool {
	return uint32(i)&fatEntryMask >= fatEndOfChain
}

// IsZeroLengthFile reports whether the value is the special first-index of a
// file without data.
func (i FatTableIndex) IsZeroLengthFile() bool {
	return i == 0
}

// isFree reports whether the cell value marks a free cluster.
func (i FatTableIndex) isFree() bool {
	return uint32(i)&fatEntryMask == 0
}

// Table is a read-only view over the raw cells of the first FAT copy.
type Table struct {
	raw []byte
}

// NewTable wraps the given FAT bytes. The slice aliases the partition and
// must stay valid for the lifetime of the table.
func NewTable(raw []byte) Table {
	return Table{raw: raw}
}

// Len returns the number of cells in the table.
func (t Table) Len() int {
	return len(t.raw) / 4
}

// Cell returns the value stored in cell idx.
func (t Table) Cell(idx FatTableIndex) FatTableIndex {
	return FatTableIndex(binary.LittleEndian.Uint32(t.raw[int(idx)*4:]))
}
