package bgp

import (
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ASN is an autonomous system number.
type ASN uint32

func (a ASN) String() string {
	return "AS" + strconv.FormatUint(uint64(a), 10)
}

// IsPrivate reports whether a falls in one of the private-use ranges
// (RFC 6996): 64512-65534 and 4200000000-4294967294.
func (a ASN) IsPrivate() bool {
	return (a >= 64512 && a <= 65534) || (a >= 4200000000 && a <= 4294967294)
}

// ParseASN accepts "13335", "AS13335" and asdot notation "1.10".
func ParseASN(s string) (ASN, error) {
	t := strings.TrimSpace(s)
	if len(t) > 2 && strings.EqualFold(t[:2], "as") {
		t = t[2:]
	}
	if hi, lo, dotted := strings.Cut(t, "."); dotted {
		h, err := strconv.ParseUint(hi, 10, 16)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid ASN %q", s)
		}
		l, err := strconv.ParseUint(lo, 10, 16)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid ASN %q", s)
		}
		return ASN(h<<16 | l), nil
	}
	n, err := strconv.ParseUint(t, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid ASN %q", s)
	}
	return ASN(n), nil
}

// ASNSet is a sorted list of distinct ASNs. Operations never modify their
// receiver.
type ASNSet []ASN

func NewASNSet(asns ...ASN) ASNSet {
	set := slices.Clone(asns)
	slices.Sort(set)
	return slices.Compact(set)
}

func (s ASNSet) Contains(a ASN) bool {
	_, found := slices.BinarySearch(s, a)
	return found
}

// Union returns a new set holding the members of both sets.
func (s ASNSet) Union(other ASNSet) ASNSet {
	result := make(ASNSet, 0, len(s)+len(other))
	i, j := 0, 0
	for i < len(s) && j < len(other) {
		switch {
		case s[i] < other[j]:
			result = append(result, s[i])
			i++
		case s[i] > other[j]:
			result = append(result, other[j])
			j++
		default:
			result = append(result, s[i])
			i++
			j++
		}
	}
	result = append(result, s[i:]...)
	return append(result, other[j:]...)
}

// Intersects reports whether the sets share a member.
func (s ASNSet) Intersects(other ASNSet) bool {
	for _, a := range s {
		if other.Contains(a) {
			return true
		}
	}
	return false
}

func (s ASNSet) String() string {
	parts := make([]string, len(s))
	for i, a := range s {
		parts[i] = a.String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// MaxPathLen is the number of hops, counted from the origin, kept of every
// AS path.
const MaxPathLen = 4

// ASPath lists ASNs from the nearest hop to the origin.
type ASPath []ASN

// Truncate returns a copy of the last MaxPathLen hops of p.
func (p ASPath) Truncate() ASPath {
	if len(p) > MaxPathLen {
		p = p[len(p)-MaxPathLen:]
	}
	return slices.Clone(p)
}

func (p ASPath) String() string {
	parts := make([]string, len(p))
	for i, a := range p {
		parts[i] = strconv.FormatUint(uint64(a), 10)
	}
	return strings.Join(parts, " ")
}
