// Package topology describes which pairs of devices have direct peer-to-peer
// memory access.
//
// The AccessPattern is a square boolean matrix over device indices, the same
// information CUDA/HIP report for GPU peer access. It is queried once per process
// from the backend and treated as read-only configuration afterward. The matrix is
// symmetric on real hardware but nothing here assumes so.
package topology

import (
	"strings"

	"github.com/gomlx/exceptions"
)

// AccessPattern is a square boolean adjacency matrix: AccessPattern[i][j] reports
// whether device i can directly access device j's memory. Every device can always
// access itself.
type AccessPattern [][]bool

// NumDevices returns the number of devices the pattern covers.
func (p AccessPattern) NumDevices() int { return len(p) }

// HasAccess reports whether device i can directly read/write device j's memory.
// Out-of-range indices report false rather than panic: callers probe patterns of
// unknown size.
func (p AccessPattern) HasAccess(i, j int) bool {
	if i < 0 || i >= len(p) || j < 0 || j >= len(p[i]) {
		return false
	}
	return p[i][j]
}

// AllTrue reports whether the whole block [rowLo,rowHi) x [colLo,colHi) is true.
// A block extending beyond the matrix reports false.
func (p AccessPattern) AllTrue(rowLo, rowHi, colLo, colHi int) bool {
	if rowLo < 0 || colLo < 0 || rowHi > len(p) || rowLo > rowHi || colLo > colHi {
		return false
	}
	for i := rowLo; i < rowHi; i++ {
		if colHi > len(p[i]) {
			return false
		}
		for j := colLo; j < colHi; j++ {
			if !p[i][j] {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (p AccessPattern) Clone() AccessPattern {
	clone := make(AccessPattern, len(p))
	for i, row := range p {
		clone[i] = append([]bool(nil), row...)
	}
	return clone
}

// String renders the matrix with one row per line, '+' for access and '.' for none.
func (p AccessPattern) String() string {
	var b strings.Builder
	for _, row := range p {
		for _, ok := range row {
			if ok {
				b.WriteByte('+')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FullyConnected returns a pattern where every device can access every other.
func FullyConnected(numDevices int) AccessPattern {
	p := newPattern(numDevices)
	for i := range p {
		for j := range p[i] {
			p[i][j] = true
		}
	}
	return p
}

// Isolated returns a pattern where devices only access themselves.
func Isolated(numDevices int) AccessPattern {
	p := newPattern(numDevices)
	for i := range p {
		p[i][i] = true
	}
	return p
}

// Hives returns a block-diagonal pattern of numHives groups of hiveSize devices:
// full access within a hive, none across hives. This models machines where GPUs
// are cabled in hives of 4 with no direct cross-hive peer access.
func Hives(hiveSize, numHives int) AccessPattern {
	if hiveSize <= 0 || numHives <= 0 {
		exceptions.Panicf("topology.Hives(%d, %d): sizes must be positive", hiveSize, numHives)
	}
	p := newPattern(hiveSize * numHives)
	for h := 0; h < numHives; h++ {
		lo, hi := h*hiveSize, (h+1)*hiveSize
		for i := lo; i < hi; i++ {
			for j := lo; j < hi; j++ {
				p[i][j] = true
			}
		}
	}
	return p
}

func newPattern(numDevices int) AccessPattern {
	if numDevices < 0 {
		exceptions.Panicf("topology: negative number of devices (%d)", numDevices)
	}
	p := make(AccessPattern, numDevices)
	for i := range p {
		p[i] = make([]bool, numDevices)
	}
	return p
}
