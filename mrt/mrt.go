// Package mrt reads route announcements out of MRT dumps (RFC 6396):
// TABLE_DUMP_V2 RIB entries and BGP4MP UPDATE messages.
package mrt

import (
	"io"
	"net/netip"

	gobgp "github.com/osrg/gobgp/v3/pkg/packet/bgp"
	gomrt "github.com/osrg/gobgp/v3/pkg/packet/mrt"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/common"
)

// Stats counts the MRT records seen by Decode.
type Stats struct {
	Records       int // MRT records read
	Ignored       int // record types carrying no announcements
	Malformed     int // records whose body failed to decode
	Announcements int // announcements handed to the callback
}

// ErrRecordTooLarge is returned for a header announcing a body longer than
// MaxRecordLen.
var ErrRecordTooLarge = errors.New("MRT record too large")

// MaxRecordLen bounds the body of one MRT record. BGP messages are at most
// 64 KiB; a RIB entry holds one path per peer.
const MaxRecordLen = 16 << 20

// Handler receives every announcement. Returning an error stops decoding.
type Handler func(bgp.Announcement) error

// ReadFile decodes the MRT dump at path.
func ReadFile(path string, fn Handler) (Stats, error) {
	r, err := Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer r.Close()
	stats, err := Decode(r, fn, common.Log.WithField("file", path))
	return stats, errors.Wrapf(err, "decoding %s", path)
}

// Decode reads MRT records from r until EOF. Record bodies that fail to
// decode are skipped and logged at debug level; a truncated header or body
// is an error.
func Decode(r io.Reader, fn Handler, log logrus.FieldLogger) (Stats, error) {
	var stats Stats
	header := make([]byte, gomrt.MRT_COMMON_HEADER_LEN)
	var body []byte
	for {
		if _, err := io.ReadFull(r, header); err == io.EOF {
			return stats, nil
		} else if err != nil {
			return stats, errors.Wrap(err, "reading MRT header")
		}
		h := &gomrt.MRTHeader{}
		if err := h.DecodeFromBytes(header); err != nil {
			return stats, errors.Wrap(err, "decoding MRT header")
		}
		if h.Len > MaxRecordLen {
			return stats, errors.Wrapf(ErrRecordTooLarge, "type %d subtype %d: %d bytes", h.Type, h.SubType, h.Len)
		}
		if cap(body) < int(h.Len) {
			body = make([]byte, h.Len)
		}
		body = body[:h.Len]
		if _, err := io.ReadFull(r, body); err != nil {
			return stats, errors.Wrap(err, "reading MRT record")
		}
		stats.Records++

		if h.Type != gomrt.TABLE_DUMPv2 && h.Type != gomrt.BGP4MP {
			stats.Ignored++
			continue
		}
		msg, err := gomrt.ParseMRTBody(h, body)
		if err != nil {
			stats.Malformed++
			log.WithFields(logrus.Fields{"type": h.Type, "subtype": h.SubType}).Debugf("skipping MRT record: %v", err)
			continue
		}
		announcements, ok := extract(msg.Body)
		if !ok {
			stats.Ignored++
			continue
		}
		for _, a := range announcements {
			stats.Announcements++
			if err := fn(a); err != nil {
				return stats, err
			}
		}
	}
}

func extract(body gomrt.Body) ([]bgp.Announcement, bool) {
	switch b := body.(type) {
	case *gomrt.Rib:
		prefix, ok := toPrefix(b.Prefix)
		if !ok {
			return nil, false
		}
		var out []bgp.Announcement
		for _, entry := range b.Entries {
			out = append(out, announcement(prefix, entry.PathAttributes))
		}
		return out, true
	case *gomrt.BGP4MPMessage:
		if b.BGPMessage == nil {
			return nil, false
		}
		update, ok := b.BGPMessage.Body.(*gobgp.BGPUpdate)
		if !ok {
			return nil, false
		}
		var nlri []gobgp.AddrPrefixInterface
		for _, p := range update.NLRI {
			nlri = append(nlri, p)
		}
		for _, attr := range update.PathAttributes {
			if reach, ok := attr.(*gobgp.PathAttributeMpReachNLRI); ok {
				nlri = append(nlri, reach.Value...)
			}
		}
		var out []bgp.Announcement
		for _, p := range nlri {
			if prefix, ok := toPrefix(p); ok {
				out = append(out, announcement(prefix, update.PathAttributes))
			}
		}
		return out, true
	}
	return nil, false
}

// toPrefix accepts plain unicast prefixes only.
func toPrefix(p gobgp.AddrPrefixInterface) (netip.Prefix, bool) {
	switch p := p.(type) {
	case *gobgp.IPAddrPrefix:
		addr, ok := netip.AddrFromSlice(p.Prefix)
		if !ok {
			return netip.Prefix{}, false
		}
		return netip.PrefixFrom(addr.Unmap(), int(p.Length)), true
	case *gobgp.IPv6AddrPrefix:
		addr, ok := netip.AddrFromSlice(p.Prefix)
		if !ok {
			return netip.Prefix{}, false
		}
		return netip.PrefixFrom(addr, int(p.Length)), true
	}
	return netip.Prefix{}, false
}

// announcement builds the record for prefix out of its path attributes. The
// path is the concatenation of the AS_SEQUENCE segments; the origins are the
// last ASN of a trailing AS_SEQUENCE or every member of a trailing AS_SET.
func announcement(prefix netip.Prefix, attrs []gobgp.PathAttributeInterface) bgp.Announcement {
	a := bgp.Announcement{Prefix: prefix}
	for _, attr := range attrs {
		asPath, ok := attr.(*gobgp.PathAttributeAsPath)
		if !ok {
			continue
		}
		for i, segment := range asPath.Value {
			asns := segment.GetAS()
			last := i == len(asPath.Value)-1
			switch segment.GetType() {
			case gobgp.BGP_ASPATH_ATTR_TYPE_SEQ:
				for _, asn := range asns {
					a.Path = append(a.Path, bgp.ASN(asn))
				}
				if last && len(asns) > 0 {
					a.Origins = []bgp.ASN{bgp.ASN(asns[len(asns)-1])}
				}
			case gobgp.BGP_ASPATH_ATTR_TYPE_SET:
				if last {
					for _, asn := range asns {
						a.Origins = append(a.Origins, bgp.ASN(asn))
					}
				}
			}
		}
	}
	return a
}
