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

// Package alloc hands out exclusive ownership of partition clusters that are
// free in the FAT and will not be overwritten by ext4 metadata.
package alloc

import (
	"errors"
	"fmt"

	"github.com/ostafen/fat2ext4/internal/ranges"
)

// ErrNoSpace is returned when the allocation cursor reaches the end of the
// partition.
var ErrNoSpace = errors.New("no free clusters left in the partition")

// ClusterIdx mirrors the partition's shared block grid index.
type ClusterIdx = uint32

// AllocatedClusterIdx is a cluster index handed out by an Allocator. Only
// the allocator package can mint one, which is what guarantees that the
// clusters reachable through Cluster are never aliased by the FAT view or
// the ext4 metadata writer.
type AllocatedClusterIdx struct {
	idx ClusterIdx
}

func (i AllocatedClusterIdx) Idx() ClusterIdx {
	return i.idx
}

// Reclaim re-wraps a raw cluster index that was previously issued by this
// allocator and whose value round-tripped through on-disk storage (archive
// page links, extent index blocks). The caller is responsible for the index
// really having been allocated.
func Reclaim(idx ClusterIdx) AllocatedClusterIdx {
	return AllocatedClusterIdx{idx: idx}
}

// Range is a run of consecutively allocated clusters.
type Range struct {
	Start AllocatedClusterIdx
	End   ClusterIdx
}

func (r Range) Len() int {
	return int(r.End - r.Start.idx)
}

// At returns the i-th allocated cluster of the run.
func (r Range) At(i int) AllocatedClusterIdx {
	return AllocatedClusterIdx{idx: r.Start.idx + ClusterIdx(i)}
}

// ToRange strips the allocation proof, e.g. for archiving the run as plain
// numbers.
func (r Range) ToRange() ranges.Range[ClusterIdx] {
	return ranges.Range[ClusterIdx]{Start: r.Start.idx, End: r.End}
}

// Allocator scans the partition for clusters that are neither used by the
// FAT filesystem nor reserved for ext4 metadata, and issues each of them at
// most once. There is no way to return a cluster: callers either own it
// until the conversion ends or pass the ownership on.
type Allocator struct {
	data        []byte
	clusterSize int
	// cursor is the cluster the allocator will try to allocate next.
	cursor ClusterIdx
	// firstValid is the first cluster index that Cluster may access;
	// clusters before it belong to a split-off Reader.
	firstValid ClusterIdx
	// used holds the clusters that will never be allocated.
	used *ranges.Set[ClusterIdx]
}

// New builds an allocator over the partition bytes. Clusters covered by
// used are never handed out.
func New(data []byte, clusterSize int, used *ranges.Set[ClusterIdx]) *Allocator {
	return &Allocator{
		data:        data,
		clusterSize: clusterSize,
		used:        used,
	}
}

// Forbid excludes r from future allocations.
func (a *Allocator) Forbid(r ranges.Range[ClusterIdx]) {
	a.used.Insert(r)
}

// BlockSize returns the size in bytes of the clusters being allocated.
func (a *Allocator) BlockSize() int {
	return a.clusterSize
}

// FirstFreeClusterIdx returns the cluster index the next allocation will
// consider first.
func (a *Allocator) FirstFreeClusterIdx() ClusterIdx {
	return a.cursor
}

// Allocate returns a run of free clusters for the caller's exclusive use,
// with 1 <= run length <= maxLen.
func (a *Allocator) Allocate(maxLen int) (Range, error) {
	free, err := a.nextFreeRange()
	if err != nil {
		return Range{}, err
	}
	end := min(free.End, free.Start+ClusterIdx(maxLen))
	a.cursor = end
	return Range{Start: AllocatedClusterIdx{idx: free.Start}, End: end}, nil
}

// AllocateOne returns a single free cluster for the caller's exclusive use.
func (a *Allocator) AllocateOne() (AllocatedClusterIdx, error) {
	run, err := a.Allocate(1)
	if err != nil {
		return AllocatedClusterIdx{}, err
	}
	return run.Start, nil
}

// Cluster returns the bytes of an allocated cluster. The returned slice
// aliases the partition; AllocatedClusterIdx being unforgeable is what keeps
// the accesses exclusive.
func (a *Allocator) Cluster(idx AllocatedClusterIdx) []byte {
	if idx.idx < a.firstValid {
		panic(fmt.Sprintf("access to cluster %d, which was split off into a reader", idx.idx))
	}
	start := int(idx.idx) * a.clusterSize
	return a.data[start : start+a.clusterSize]
}

// SplitIntoReader splits the allocator at its cursor: everything allocated
// so far becomes readable through the returned Reader, everything beyond
// the cursor through a fresh Allocator that continues from there.
func (a *Allocator) SplitIntoReader() (*Reader, *Allocator) {
	reader := &Reader{
		data:        a.data,
		clusterSize: a.clusterSize,
		limit:       a.cursor,
	}
	successor := &Allocator{
		data:        a.data,
		clusterSize: a.clusterSize,
		cursor:      a.cursor,
		firstValid:  a.cursor,
		used:        a.used,
	}
	return reader, successor
}

// nextFreeRange returns the next non-empty gap in the used set at or after
// the cursor.
func (a *Allocator) nextFreeRange() (ranges.Range[ClusterIdx], error) {
	maxCluster := ClusterIdx(len(a.data) / a.clusterSize)
	gap, bounded := a.used.NextNotCovered(a.cursor)
	if !bounded {
		gap.End = maxCluster
	}
	if gap.End > maxCluster {
		gap.End = maxCluster
	}
	if gap.IsEmpty() || gap.Start >= maxCluster {
		return ranges.Range[ClusterIdx]{}, ErrNoSpace
	}
	return gap, nil
}

// Reader provides read access to the clusters a split-off allocator had
// issued before the split.
type Reader struct {
	data        []byte
	clusterSize int
	limit       ClusterIdx
}

// Cluster returns the bytes of a cluster allocated before the split.
func (r *Reader) Cluster(idx AllocatedClusterIdx) []byte {
	if idx.idx >= r.limit {
		panic(fmt.Sprintf("access to cluster %d beyond the split point %d", idx.idx, r.limit))
	}
	start := int(idx.idx) * r.clusterSize
	return r.data[start : start+r.clusterSize]
}
