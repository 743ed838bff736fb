package storage

import (
	"fmt"

	"mediagate/pkg/types"
	"mediagate/pkg/utils"
)

const (
	DefaultChunkSize = 1024 * 1024 // remote reads are capped at 1MiB
	MinChunkSize     = 4 * 1024
	MaxChunkSize     = DefaultChunkSize
)

// ChunkRead is one remote read of a plan
type ChunkRead struct {
	Offset int64
	Limit  int64
}

// RangePlan describes how an inclusive byte range [Start, End] is served
// from chunk-aligned remote reads. FirstTrim bytes are dropped from the
// first chunk and LastKeep bytes are kept from the last one.
type RangePlan struct {
	Start     int64
	End       int64
	ChunkSize int64
	Reads     []ChunkRead
	FirstTrim int64
	LastKeep  int64
}

// Length is the number of bytes the plan delivers
func (p RangePlan) Length() int64 {
	if p.Empty() {
		return 0
	}
	return p.End - p.Start + 1
}

// PartCount is the number of remote reads
func (p RangePlan) PartCount() int {
	return len(p.Reads)
}

// Empty reports whether the plan performs no reads
func (p RangePlan) Empty() bool {
	return len(p.Reads) == 0
}

// Window returns the slice of a fetched chunk that belongs to the range.
// index is the position of the chunk in Reads.
func (p RangePlan) Window(index int, chunk []byte) ([]byte, error) {
	lo := int64(0)
	hi := int64(len(chunk))

	if index == len(p.Reads)-1 {
		if hi < p.LastKeep {
			return nil, fmt.Errorf("short chunk at offset %d: got %d bytes, need %d", p.Reads[index].Offset, hi, p.LastKeep)
		}
		hi = p.LastKeep
	} else if hi < p.ChunkSize {
		return nil, fmt.Errorf("short chunk at offset %d: got %d bytes, need %d", p.Reads[index].Offset, hi, p.ChunkSize)
	} else {
		hi = p.ChunkSize
	}

	if index == 0 {
		lo = p.FirstTrim
	}
	if lo > hi {
		return nil, fmt.Errorf("chunk window out of bounds: [%d, %d)", lo, hi)
	}

	return chunk[lo:hi], nil
}

// ValidateChunkSize checks that a chunk size is usable by the remote API
func ValidateChunkSize(chunkSize int64) error {
	if !utils.IsPowerOfTwo(chunkSize) {
		return fmt.Errorf("chunk size %d is not a power of two", chunkSize)
	}
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return fmt.Errorf("chunk size %d outside [%d, %d]", chunkSize, MinChunkSize, MaxChunkSize)
	}
	return nil
}

// Plan builds the read plan for bytes [from, until] of an object of the
// given size. until is clamped to size-1; a zero-sized object yields an
// empty plan.
func Plan(from, until, size, chunkSize int64) (RangePlan, error) {
	if err := ValidateChunkSize(chunkSize); err != nil {
		return RangePlan{}, err
	}
	if size == 0 {
		return RangePlan{ChunkSize: chunkSize, End: -1}, nil
	}
	if size < 0 {
		return RangePlan{}, fmt.Errorf("negative object size %d", size)
	}

	if until > size-1 {
		until = size - 1
	}
	if from < 0 || from >= size || from > until {
		return RangePlan{}, fmt.Errorf("%w: bytes %d-%d of %d", types.ErrInvalidRange, from, until, size)
	}

	alignedOffset := from / chunkSize * chunkSize
	firstTrim := from - alignedOffset
	requestedLength := until - from + 1
	lastKeep := until%chunkSize + 1
	partCount := (firstTrim + requestedLength + chunkSize - 1) / chunkSize

	reads := make([]ChunkRead, 0, partCount)
	for i := int64(0); i < partCount; i++ {
		reads = append(reads, ChunkRead{
			Offset: alignedOffset + i*chunkSize,
			Limit:  chunkSize,
		})
	}

	return RangePlan{
		Start:     from,
		End:       until,
		ChunkSize: chunkSize,
		Reads:     reads,
		FirstTrim: firstTrim,
		LastKeep:  lastKeep,
	}, nil
}

// FullPlan plans the whole object
func FullPlan(size, chunkSize int64) (RangePlan, error) {
	return Plan(0, size-1, size, chunkSize)
}
