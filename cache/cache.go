// Package cache stores attribution results keyed by the inputs that
// produced them.
package cache

import (
	"io"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gaoyifan/bgptools/attribution"
	"github.com/gaoyifan/bgptools/bgp"
	"github.com/gaoyifan/bgptools/common"
	"github.com/gaoyifan/bgptools/db"
	"github.com/gaoyifan/bgptools/net/address"
)

// Key identifies a computation: the input files, in canonical order, and
// whether private ASNs were ignored.
type Key struct {
	Files            []string
	IgnorePrivateASN bool
}

func NewKey(files []string, ignorePrivateASN bool) Key {
	return Key{Files: common.CanonicalPaths(files), IgnorePrivateASN: ignorePrivateASN}
}

// Fingerprint hashes the key; it names the stored entry.
func (k Key) Fingerprint() string {
	h := xxhash.New()
	for _, f := range k.Files {
		h.WriteString(f)
		h.Write([]byte{0})
	}
	h.WriteString(strconv.FormatBool(k.IgnorePrivateASN))
	return strconv.FormatUint(h.Sum64(), 16)
}

func (k Key) equal(other Key) bool {
	if k.IgnorePrivateASN != other.IgnorePrivateASN || len(k.Files) != len(other.Files) {
		return false
	}
	for i := range k.Files {
		if k.Files[i] != other.Files[i] {
			return false
		}
	}
	return true
}

// Outcome of a lookup.
type Outcome string

const (
	Hit     Outcome = "hit"
	Miss    Outcome = "miss"
	Corrupt Outcome = "corrupt"
)

type entry struct {
	Key    Key
	V4, V6 map[bgp.ASN][]address.Range
}

type Cache struct {
	db db.DB
}

func New(d db.DB) *Cache {
	return &Cache{db: d}
}

// Open opens or creates the cache file at path.
func Open(path string) (*Cache, error) {
	d, err := db.NewBoltDB(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening cache")
	}
	return New(d), nil
}

func (c *Cache) Close() error {
	if closer, ok := c.db.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Load returns the stored result for key. Entries that fail to decode, or
// that were stored under a colliding fingerprint, are reported, evicted and
// treated as misses.
func (c *Cache) Load(key Key) (*attribution.Result, Outcome) {
	log := common.Log.WithField("key", key.Fingerprint())
	var e entry
	found, err := c.db.Load(key.Fingerprint(), &e)
	switch {
	case err != nil:
		log.Warnf("Ignoring unreadable cache entry: %v", err)
		c.evict(key)
		return nil, Corrupt
	case !found:
		log.Debug("Cache miss")
		return nil, Miss
	case !key.equal(e.Key):
		log.WithFields(logrus.Fields{"stored": e.Key.Files, "ignore_private_asn": e.Key.IgnorePrivateASN}).
			Warn("Cache entry belongs to other inputs")
		c.evict(key)
		return nil, Miss
	}
	result := &attribution.Result{
		V4: fromRanges(address.IPv4, e.V4),
		V6: fromRanges(address.IPv6, e.V6),
	}
	if result.V4 == nil || result.V6 == nil {
		log.Warn("Ignoring cache entry with mismatched address families")
		c.evict(key)
		return nil, Corrupt
	}
	log.Debug("Cache hit")
	return result, Hit
}

func (c *Cache) evict(key Key) {
	common.CheckWarn(errors.Wrap(c.db.Delete(key.Fingerprint()), "evicting cache entry"))
}

func (c *Cache) Save(key Key, result *attribution.Result) error {
	e := entry{Key: key, V4: toRanges(result.V4), V6: toRanges(result.V6)}
	return errors.Wrap(c.db.Save(key.Fingerprint(), e), "saving cache entry")
}

func toRanges(m attribution.Map) map[bgp.ASN][]address.Range {
	out := make(map[bgp.ASN][]address.Range, len(m))
	for asn, set := range m {
		out[asn] = set.Ranges()
	}
	return out
}

// fromRanges rebuilds a map, returning nil if any range is of the wrong
// family.
func fromRanges(f address.Family, stored map[bgp.ASN][]address.Range) attribution.Map {
	m := make(attribution.Map, len(stored))
	for asn, ranges := range stored {
		for _, r := range ranges {
			if r.Family != f || r.First.Cmp(r.Last) > 0 || r.Last.Cmp(f.Max()) > 0 {
				return nil
			}
		}
		m[asn] = address.SetOf(f, ranges...)
	}
	return m
}
