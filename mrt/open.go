package mrt

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var first error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens an MRT dump, transparently decompressing gzip, bzip2 and xz
// files. The format is detected from the content, not the file name.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening MRT file")
	}
	r, err := decompress(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	r.closers = append(r.closers, f)
	return r, nil
}

func decompress(r io.Reader) (*readCloser, error) {
	buffered := bufio.NewReaderSize(r, 1<<16)
	magic, err := buffered.Peek(len(xzMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		zr, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zr}}, nil
	case bytes.HasPrefix(magic, bzip2Magic):
		br, err := bzip2.NewReader(buffered, nil)
		if err != nil {
			return nil, errors.Wrap(err, "bzip2")
		}
		return &readCloser{Reader: br, closers: []io.Closer{br}}, nil
	case bytes.HasPrefix(magic, xzMagic):
		xr, err := xz.NewReader(buffered)
		if err != nil {
			return nil, errors.Wrap(err, "xz")
		}
		return &readCloser{Reader: xr}, nil
	}
	return &readCloser{Reader: buffered}, nil
}
