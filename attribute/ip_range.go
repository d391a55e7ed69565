package attribute

import (
	"fmt"
	"net"

	"github.com/majkutK-unitn/anonymization-module/numrange"
)

// defaultMaxIPMaskBits bounds how deep splitting may descend: mask is in
// 0..31, and split-allowed becomes false once mask reaches 31. A run's
// configuration may override this per QID via ip_mask_bits; NewIPRange
// falls back to this default when no override is given.
const defaultMaxIPMaskBits = 31

// IPRange is the generalization state of an IPv4 QID: a CIDR block
// identified by its base address (as a uint32, held as int for symmetry
// with the other range variants) and a prefix length.
type IPRange struct {
	name         string
	root         *numrange.Range // the full address space, fixed for the run
	base         int
	mask         int // prefix length; 0 = the whole /0 block
	maxMask      int // deepest mask width splitting may reach
	splitAllowed bool
}

// NewIPRange builds the root generalization (the whole address space) for
// an IP QID. root should span the full 32-bit address space. maxMaskBits
// overrides the deepest mask width splitting may reach (the QID's
// ip_mask_bits configuration); zero or negative selects
// defaultMaxIPMaskBits.
func NewIPRange(name string, root *numrange.Range, maxMaskBits int) *IPRange {
	if maxMaskBits <= 0 {
		maxMaskBits = defaultMaxIPMaskBits
	}
	return &IPRange{
		name:         name,
		root:         root,
		base:         0,
		mask:         0,
		maxMask:      maxMaskBits,
		splitAllowed: true,
	}
}

func (a *IPRange) Name() string       { return a.name }
func (a *IPRange) Kind() Kind         { return KindIPRange }
func (a *IPRange) SplitAllowed() bool { return a.splitAllowed }

// blockSize is the number of addresses covered, 2^(32-mask).
func (a *IPRange) blockSize() int {
	return 1 << (32 - a.mask)
}

func (a *IPRange) Width() int {
	return a.blockSize() - 1
}

func (a *IPRange) Bounds() (lo, hi int) {
	return a.base, a.base + a.blockSize() - 1
}

func (a *IPRange) GenValue() string {
	ip := make(net.IP, 4)
	ip[0] = byte(a.base >> 24)
	ip[1] = byte(a.base >> 16)
	ip[2] = byte(a.base >> 8)
	ip[3] = byte(a.base)
	return fmt.Sprintf("%s/%d", ip.String(), a.mask)
}

func (a *IPRange) NormalizedWidth() float64 {
	return float64(a.Width()) / float64(a.root.Len())
}

func (a *IPRange) WithSplitAllowed(allowed bool) Attribute {
	clone := *a
	clone.splitAllowed = allowed
	return &clone
}

// Split bisects the current block along its next mask bit. Returns an
// empty slice, not an error, once the block cannot be split further
// (mask already at maxMask).
func (a *IPRange) Split() ([]Attribute, error) {
	if a.mask >= a.maxMask {
		return nil, nil
	}

	newMask := a.mask + 1
	half := a.blockSize() / 2
	splitAllowed := newMask < a.maxMask

	lower := &IPRange{name: a.name, root: a.root, base: a.base, mask: newMask, maxMask: a.maxMask, splitAllowed: splitAllowed}
	upper := &IPRange{name: a.name, root: a.root, base: a.base + half, mask: newMask, maxMask: a.maxMask, splitAllowed: splitAllowed}
	return []Attribute{lower, upper}, nil
}
