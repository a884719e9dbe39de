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

// Package convert drives the in-place FAT32 to ext4 conversion pipeline:
// ingest the FAT tree into the stream archive, relocate data out of the
// future ext4 metadata ranges, and emit the ext4 structures over the FAT
// ones.
package convert

import (
	"fmt"
	"io"
	"os"

	"github.com/ostafen/fat2ext4/internal/alloc"
	"github.com/ostafen/fat2ext4/internal/ext4"
	"github.com/ostafen/fat2ext4/internal/fat"
	"github.com/ostafen/fat2ext4/internal/logger"
	"github.com/ostafen/fat2ext4/internal/mmap"
	"github.com/ostafen/fat2ext4/internal/ranges"
	"github.com/ostafen/fat2ext4/internal/serialize"
	"github.com/ostafen/fat2ext4/pkg/pbar"
	fmtutil "github.com/ostafen/fat2ext4/pkg/util/format"
)

type Options struct {
	LogLevel     logger.Level
	DisableLog   bool
	ShowProgress bool
}

// Convert rewrites the FAT32 filesystem at path into ext4 in place. The
// conversion is not interruptible: a failure after the first metadata write
// leaves the partition unrecoverable.
func Convert(path string, opts Options) error {
	var logOut io.Writer = os.Stderr
	if opts.DisableLog {
		logOut = io.Discard
	}
	log := logger.New(logOut, opts.LogLevel)

	mf, err := mmap.NewMmapFile(path)
	if err != nil {
		return err
	}
	defer mf.Close()

	fatFs, err := fat.NewFs(mf.Data)
	if err != nil {
		return err
	}
	boot := fatFs.BootSector()

	clusterSize := boot.ClusterSize()
	dataStart, _ := boot.DataRange()
	if dataStart%int(clusterSize) != 0 {
		// FAT clusters must double as ext4 blocks, which only works when
		// they are aligned (see the -a option of mkfs.fat)
		return fmt.Errorf("%w: the data region is not aligned to the cluster size", fat.ErrInvalidInput)
	}

	// everything below operates on the filesystem as the boot sector
	// declares it, not on the possibly larger mapping
	data := mf.Data[:fatFs.Size()]

	log.Infof("converting %s: %s, cluster size %s",
		path, fmtutil.FormatBytes(fatFs.Size()), fmtutil.FormatBytes(int64(clusterSize)))

	sb, err := ext4.NewSuperBlock(uint64(len(data)), clusterSize, boot.Label())
	if err != nil {
		return err
	}

	// The overhead ranges derived here seed both the relocation and the
	// final layout; the superblock is built once so the two agree exactly.
	forbidden := sb.BlockGroupOverheadRanges()

	// a trailing sliver trimmed off the last block group lies outside the
	// filesystem: data must move out of it and nothing may be placed there
	totalClusters := uint32(uint64(len(data)) / uint64(clusterSize))
	if end := uint32(sb.BlockCount()); end < totalClusters {
		forbidden.Insert(ranges.Range[uint32]{Start: end, End: totalClusters})
	}

	allocator := alloc.New(data, int(clusterSize), fatFs.UsedRanges())
	for _, r := range forbidden.Ranges() {
		allocator.Forbid(r)
	}

	log.Infof("block groups: %d, inodes: %d", sb.BlockGroupCount(), sb.InodesCount)

	serializer := serialize.NewSerializer(fatFs, allocator, forbidden)
	if err := serializer.SerializeTree(); err != nil {
		return err
	}
	log.Infof("archived %d files and directories", serializer.FileCount())

	reader, emitAllocator, err := serializer.IntoDeserializer()
	if err != nil {
		return err
	}

	// from here on the FAT structures are gone
	extFs, err := ext4.NewFs(data, sb)
	if err != nil {
		return err
	}

	deserializer := serialize.NewDeserializer(reader, emitAllocator, extFs)
	var bar *pbar.ProgressBarState
	if opts.ShowProgress {
		bar = pbar.NewProgressBarState(serializer.FileCount(), "files")
		deserializer.OnFile = bar.Increment
	}

	if err := deserializer.DeserializeTree(); err != nil {
		return err
	}
	if err := extFs.Close(); err != nil {
		return err
	}
	if bar != nil {
		bar.Finish()
	}

	if err := mf.Sync(); err != nil {
		return err
	}
	log.Info("conversion finished")
	return nil
}
