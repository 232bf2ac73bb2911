// Package db persists gob-encoded values in a single bolt file.
package db

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

type DB interface {
	Load(ident string, data interface{}) (bool, error)
	Save(ident string, data interface{}) error
	Delete(ident string) error
}

// ErrVersion is returned when a file was written by an incompatible
// release.
var ErrVersion = errors.New("incompatible persistence version")

type BoltDB struct {
	db *bolt.DB
}

var (
	versionIdent       = []byte("version")
	persistenceVersion = []byte{2, 0} // major.minor
	topBucket          = []byte("bgptools")
)

// lockTimeout bounds the wait for another process holding the file.
const lockTimeout = 5 * time.Second

func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		top := tx.Bucket(topBucket)
		if top == nil {
			top, err := tx.CreateBucket(topBucket)
			if err != nil {
				return err
			}
			return top.Put(versionIdent, persistenceVersion)
		}
		if v := top.Get(versionIdent); v == nil || v[0] != persistenceVersion[0] {
			return errors.Wrapf(ErrVersion, "%s has version %x", path, v)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

// Load decodes the value stored under ident into data. found is false when
// nothing is stored; a decoding failure is returned as an error.
func (d *BoltDB) Load(ident string, data interface{}) (found bool, err error) {
	err = d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(topBucket).Get([]byte(ident))
		if v == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(v)).Decode(data)
	})
	return found, errors.Wrapf(err, "loading %q", ident)
}

func (d *BoltDB) Save(ident string, data interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return errors.Wrapf(err, "encoding %q", ident)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(topBucket).Put([]byte(ident), buf.Bytes())
	})
}

func (d *BoltDB) Delete(ident string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(topBucket).Delete([]byte(ident))
	})
}

func (d *BoltDB) Close() error {
	return d.db.Close()
}
