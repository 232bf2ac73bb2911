package address

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/pkg/errors"
	"lukechampine.com/uint128"

	"github.com/gaoyifan/bgptools/common"
)

// Family selects the address width. Addresses of both families are held in
// a 128-bit integer; IPv4 only ever uses the low 32 bits.
type Family uint8

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

func (f Family) Bits() int {
	if f == IPv4 {
		return 32
	}
	return 128
}

// Max returns the last address of the family's address space.
func (f Family) Max() uint128.Uint128 {
	if f == IPv4 {
		return uint128.From64(0xffffffff)
	}
	return uint128.Max
}

func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

// FamilyOf reports the family of addr; v4-mapped v6 addresses are IPv6.
func FamilyOf(addr netip.Addr) Family {
	if addr.Is4() {
		return IPv4
	}
	return IPv6
}

// FromAddr converts addr to our integer address type.
func FromAddr(addr netip.Addr) uint128.Uint128 {
	if addr.Is4() {
		b := addr.As4()
		return uint128.From64(uint64(binary.BigEndian.Uint32(b[:])))
	}
	b := addr.As16()
	return uint128.FromBytesBE(b[:])
}

// Addr converts an integer address of family f back to a netip.Addr.
func (f Family) Addr(u uint128.Uint128) netip.Addr {
	if f == IPv4 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(u.Lo))
		return netip.AddrFrom4(b)
	}
	var b [16]byte
	u.PutBytesBE(b[:])
	return netip.AddrFrom16(b)
}

// hostMask has the low (width - prefixLen) bits set.
func (f Family) hostMask(prefixLen int) uint128.Uint128 {
	if prefixLen >= f.Bits() {
		return uint128.Zero
	}
	return f.Max().Rsh(uint(prefixLen))
}

// Range is an inclusive run of addresses. Keeping Last rather than a
// one-past-the-end bound lets the top of the address space be represented.
type Range struct {
	Family      Family
	First, Last uint128.Uint128 // [First, Last]; First <= Last
}

func NewRange(f Family, first, last uint128.Uint128) Range {
	common.Assert(first.Cmp(last) <= 0, "inverted range")
	common.Assert(last.Cmp(f.Max()) <= 0, "range beyond address space")
	return Range{Family: f, First: first, Last: last}
}

// Interval converts the half-open interval [start, end) to a Range.
func Interval(f Family, start, end uint128.Uint128) (Range, error) {
	if start.Cmp(end) >= 0 {
		return Range{}, errors.Errorf("empty or inverted interval [%s, %s)", f.Addr(start), f.Addr(end))
	}
	if end.Cmp(f.Max()) > 0 && !end.Sub(f.Max()).Equals64(1) {
		return Range{}, errors.Errorf("interval end %s beyond %s address space", end, f)
	}
	return Range{Family: f, First: start, Last: end.Sub64(1)}, nil
}

func (r Range) String() string {
	return fmt.Sprintf("[%s-%s]", r.Family.Addr(r.First), r.Family.Addr(r.Last))
}

func (r Range) Contains(addr uint128.Uint128) bool {
	return addr.Cmp(r.First) >= 0 && addr.Cmp(r.Last) <= 0
}

func (r Range) Overlaps(or Range) bool {
	return r.First.Cmp(or.Last) <= 0 && or.First.Cmp(r.Last) <= 0
}

// Touches reports whether r and or overlap or are directly adjacent, i.e.
// whether their union is a single run.
func (r Range) Touches(or Range) bool {
	if r.Overlaps(or) {
		return true
	}
	if r.Last.Cmp(or.First) < 0 {
		return or.First.Sub(r.Last).Equals64(1)
	}
	return r.First.Sub(or.Last).Equals64(1)
}

// BiggestCIDR returns the largest aligned block starting at r.First that
// fits inside r.
func (r Range) BiggestCIDR() CIDR {
	bits := r.Family.Bits()
	align := r.First.TrailingZeros()
	if align > bits {
		align = bits
	}
	var fit int
	if span := r.Last.Sub(r.First); span.Equals(uint128.Max) {
		fit = 128
	} else {
		// largest k with 2^k <= span+1
		fit = 127 - span.Add64(1).LeadingZeros()
	}
	if fit < align {
		align = fit
	}
	return CIDR{Family: r.Family, Start: r.First, PrefixLen: bits - align}
}

// CIDRs returns the unique minimal list of CIDR blocks covering r, in
// ascending order.
func (r Range) CIDRs() []CIDR {
	var result []CIDR
	for {
		cidr := r.BiggestCIDR()
		result = append(result, cidr)
		last := cidr.Last()
		if last.Equals(r.Last) {
			return result
		}
		r.First = last.Add64(1)
	}
}

// CIDR is an aligned block: all bits of Start beyond PrefixLen are zero.
type CIDR struct {
	Family    Family
	Start     uint128.Uint128
	PrefixLen int
}

func NewCIDR(f Family, start uint128.Uint128, prefixLen int) (CIDR, error) {
	if prefixLen < 0 || prefixLen > f.Bits() {
		return CIDR{}, errors.Errorf("mask length %d exceeds %s width", prefixLen, f)
	}
	if start.Cmp(f.Max()) > 0 {
		return CIDR{}, errors.Errorf("address %s beyond %s address space", start, f)
	}
	if !start.And(f.hostMask(prefixLen)).IsZero() {
		return CIDR{}, errors.Errorf("%s/%d has host bits set", f.Addr(start), prefixLen)
	}
	return CIDR{Family: f, Start: start, PrefixLen: prefixLen}, nil
}

// FromPrefix converts a netip prefix. The prefix must already be masked.
func FromPrefix(p netip.Prefix) (CIDR, error) {
	if !p.IsValid() {
		return CIDR{}, errors.Errorf("invalid prefix %q", p)
	}
	addr := p.Addr()
	return NewCIDR(FamilyOf(addr), FromAddr(addr), p.Bits())
}

func ParseCIDR(s string) (CIDR, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return CIDR{}, err
	}
	return FromPrefix(p)
}

func MustParseCIDR(s string) CIDR {
	c, err := ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (cidr CIDR) Prefix() netip.Prefix {
	return netip.PrefixFrom(cidr.Family.Addr(cidr.Start), cidr.PrefixLen)
}

// Last returns the broadcast address of the block.
func (cidr CIDR) Last() uint128.Uint128 {
	return cidr.Start.Or(cidr.Family.hostMask(cidr.PrefixLen))
}

// Next returns the first address after the block; ok is false when the
// block reaches the end of the address space.
func (cidr CIDR) Next() (next uint128.Uint128, ok bool) {
	last := cidr.Last()
	if last.Equals(cidr.Family.Max()) {
		return uint128.Zero, false
	}
	return last.Add64(1), true
}

func (cidr CIDR) Range() Range {
	return Range{Family: cidr.Family, First: cidr.Start, Last: cidr.Last()}
}

func (cidr CIDR) Contains(addr uint128.Uint128) bool {
	return cidr.Range().Contains(addr)
}

func (cidr CIDR) Overlaps(other CIDR) bool {
	return cidr.Family == other.Family && cidr.Range().Overlaps(other.Range())
}

// Supernet returns the block of length prefixLen containing cidr.
func (cidr CIDR) Supernet(prefixLen int) CIDR {
	common.Assert(prefixLen <= cidr.PrefixLen)
	mask := cidr.Family.Max().Xor(cidr.Family.hostMask(prefixLen))
	return CIDR{Family: cidr.Family, Start: cidr.Start.And(mask), PrefixLen: prefixLen}
}

// Compare orders blocks by family, start address, then mask length.
func (cidr CIDR) Compare(other CIDR) int {
	switch {
	case cidr.Family != other.Family:
		if cidr.Family < other.Family {
			return -1
		}
		return 1
	case !cidr.Start.Equals(other.Start):
		return cidr.Start.Cmp(other.Start)
	case cidr.PrefixLen < other.PrefixLen:
		return -1
	case cidr.PrefixLen > other.PrefixLen:
		return 1
	}
	return 0
}

func (cidr CIDR) String() string {
	return cidr.Prefix().String()
}
