package sketches

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sahithikokkula/approximate-query-engine/pkg/aqerr"
)

// CountMinSketch implements the Count-Min Sketch for frequency estimation
type CountMinSketch struct {
	table   [][]uint64 // count table[d][w]
	d       uint32     // number of hash functions (depth)
	w       uint32     // number of counters per hash (width)
	epsilon float64    // relative error bound
	delta   float64    // probability bound
	count   uint64     // total count of all items added this process's lifetime; not persisted
}

// NewCountMinSketch creates a new Count-Min Sketch
// epsilon: relative error bound (e.g., 0.01 for 1% error)
// delta: probability bound (e.g., 0.01 for 99% confidence)
func NewCountMinSketch(epsilon, delta float64) *CountMinSketch {
	if epsilon <= 0 || epsilon >= 1 {
		epsilon = 0.01 // default 1% error
	}
	if delta <= 0 || delta >= 1 {
		delta = 0.01 // default 99% confidence
	}

	// Calculate optimal parameters
	w := uint32(math.Ceil(math.E / epsilon))
	d := uint32(math.Ceil(math.Log(1 / delta)))

	// Create table
	table := make([][]uint64, d)
	for i := range table {
		table[i] = make([]uint64, w)
	}

	return &CountMinSketch{
		table:   table,
		d:       d,
		w:       w,
		epsilon: epsilon,
		delta:   delta,
		count:   0,
	}
}

// Add increments the count for a key by delta
func (cms *CountMinSketch) Add(key []byte, delta uint64) {
	hashes := cms.hash(key)

	for i := uint32(0); i < cms.d; i++ {
		j := hashes[i] % uint64(cms.w)
		cms.table[i][j] += delta
	}

	cms.count += delta
}

// AddString is a convenience method for string keys
func (cms *CountMinSketch) AddString(key string, delta uint64) {
	cms.Add([]byte(key), delta)
}

// Query estimates the count for a key
func (cms *CountMinSketch) Query(key []byte) uint64 {
	hashes := cms.hash(key)

	// Return minimum count across all hash functions
	minCount := ^uint64(0) // max uint64
	for i := uint32(0); i < cms.d; i++ {
		j := hashes[i] % uint64(cms.w)
		if cms.table[i][j] < minCount {
			minCount = cms.table[i][j]
		}
	}

	return minCount
}

// QueryString is a convenience method for string keys
func (cms *CountMinSketch) QueryString(key string) uint64 {
	return cms.Query([]byte(key))
}

// TotalCount returns the total count of items added since this sketch was
// constructed or deserialized. It is a convenience counter, not part of the
// serialized wire format — a deserialized sketch starts this back at 0.
func (cms *CountMinSketch) TotalCount() uint64 {
	return cms.count
}

// ErrorBound returns the theoretical error bound for estimates
func (cms *CountMinSketch) ErrorBound() uint64 {
	return uint64(cms.epsilon * float64(cms.count))
}

// Confidence returns the confidence level (1 - delta)
func (cms *CountMinSketch) Confidence() float64 {
	return 1.0 - cms.delta
}

// HeavyHitters returns the distinct counter values above threshold found in
// any cell of the table. It returns counts, not keys: the sketch does not
// record which keys produced a cell's count.
func (cms *CountMinSketch) HeavyHitters(threshold uint64) []uint64 {
	var heavyHitters []uint64

	// For each cell in the table, if value > threshold, it might be a heavy hitter
	// This is an approximation - real implementation would track actual keys
	seen := make(map[uint64]bool)

	for i := uint32(0); i < cms.d; i++ {
		for j := uint32(0); j < cms.w; j++ {
			count := cms.table[i][j]
			if count > threshold && !seen[count] {
				heavyHitters = append(heavyHitters, count)
				seen[count] = true
			}
		}
	}

	return heavyHitters
}

// Merge combines this CMS with another CMS (must have same parameters)
func (cms *CountMinSketch) Merge(other *CountMinSketch) error {
	if cms.d != other.d || cms.w != other.w {
		return aqerr.Invariant("CountMinSketch.Merge", "cannot merge CMS with different parameters: d=%d/%d w=%d/%d", cms.d, other.d, cms.w, other.w)
	}

	for i := uint32(0); i < cms.d; i++ {
		for j := uint32(0); j < cms.w; j++ {
			cms.table[i][j] += other.table[i][j]
		}
	}

	cms.count += other.count
	return nil
}

// Serialize returns the CMS state as bytes: w(4 LE) ‖ d(4 LE) ‖ epsilon(8 LE) ‖
// delta(8 LE) ‖ d*w uint64 counts. The running total count is deliberately not
// part of this wire format; it is a process-local convenience value.
func (cms *CountMinSketch) Serialize() []byte {
	const headerSize = 24
	dataSize := int(cms.d * cms.w * 8)
	data := make([]byte, headerSize+dataSize)

	binary.LittleEndian.PutUint32(data[0:4], cms.w)
	binary.LittleEndian.PutUint32(data[4:8], cms.d)
	binary.LittleEndian.PutUint64(data[8:16], math.Float64bits(cms.epsilon))
	binary.LittleEndian.PutUint64(data[16:24], math.Float64bits(cms.delta))

	offset := headerSize
	for i := uint32(0); i < cms.d; i++ {
		for j := uint32(0); j < cms.w; j++ {
			binary.LittleEndian.PutUint64(data[offset:offset+8], cms.table[i][j])
			offset += 8
		}
	}

	return data
}

// DeserializeCountMinSketch loads CMS state from bytes produced by Serialize.
// TotalCount() on the result starts at 0, since the running total is not part
// of the wire format.
func DeserializeCountMinSketch(data []byte) (*CountMinSketch, error) {
	const headerSize = 24
	if len(data) < headerSize {
		return nil, aqerr.Invariant("DeserializeCountMinSketch", "insufficient data for CMS deserialization: got %d bytes", len(data))
	}

	w := binary.LittleEndian.Uint32(data[0:4])
	d := binary.LittleEndian.Uint32(data[4:8])
	epsilon := math.Float64frombits(binary.LittleEndian.Uint64(data[8:16]))
	delta := math.Float64frombits(binary.LittleEndian.Uint64(data[16:24]))

	expectedSize := headerSize + int(d*w*8)
	if len(data) != expectedSize {
		return nil, aqerr.Invariant("DeserializeCountMinSketch", "data length mismatch: expected %d, got %d", expectedSize, len(data))
	}

	cms := &CountMinSketch{
		table:   make([][]uint64, d),
		d:       d,
		w:       w,
		epsilon: epsilon,
		delta:   delta,
		count:   0,
	}

	for i := range cms.table {
		cms.table[i] = make([]uint64, w)
	}

	offset := headerSize
	for i := uint32(0); i < d; i++ {
		for j := uint32(0); j < w; j++ {
			cms.table[i][j] = binary.LittleEndian.Uint64(data[offset : offset+8])
			offset += 8
		}
	}

	return cms, nil
}

// hash generates d independent hash values for a key by hashing
// key ‖ ascii(row index) with SHA-256 and taking the leading 8 bytes of each
// digest, rather than the single-hash-plus-salt trick FNV double-hashing needs.
func (cms *CountMinSketch) hash(key []byte) []uint64 {
	hashes := make([]uint64, cms.d)

	for i := uint32(0); i < cms.d; i++ {
		buf := make([]byte, 0, len(key)+11)
		buf = append(buf, key...)
		buf = append(buf, []byte(fmt.Sprintf("%d", i))...)
		sum := sha256.Sum256(buf)
		hashes[i] = binary.BigEndian.Uint64(sum[:8])
	}

	return hashes
}
