package vectorindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const formatVersion uint32 = 1

// maxPrealloc caps the values allocated up front from an untrusted header.
const maxPrealloc = 1 << 20

var magic = [8]byte{'R', 'A', 'G', 'F', 'L', 'A', 'T', 0}

// ErrBadFormat is returned by Read for data that is not a serialized Flat index.
var ErrBadFormat = errors.New("bad index format")

type header struct {
	Magic   [8]byte
	Version uint32
	Dim     uint32
	Count   uint64
}

// WriteTo serializes the index: a fixed header followed by little-endian float32 rows.
func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	hdr := header{Magic: magic, Version: formatVersion, Dim: uint32(f.dim), Count: uint64(f.Size())}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return 0, fmt.Errorf("failed to write index header: %w", err)
	}

	buf := make([]byte, 4)
	for _, v := range f.data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := bw.Write(buf); err != nil {
			return 0, fmt.Errorf("failed to write index data: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return int64(binary.Size(hdr)) + int64(len(f.data))*4, nil
}

// Read decodes an index written by WriteTo.
func Read(r io.Reader) (*Flat, error) {
	br := bufio.NewReader(r)
	var hdr header
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if hdr.Magic != magic {
		return nil, fmt.Errorf("%w: unknown magic", ErrBadFormat)
	}
	if hdr.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, hdr.Version)
	}

	if hdr.Dim == 0 && hdr.Count > 0 {
		return nil, fmt.Errorf("%w: %d vectors of dimension 0", ErrBadFormat, hdr.Count)
	}
	if hdr.Dim > 0 && hdr.Count > math.MaxInt64/4/uint64(hdr.Dim) {
		return nil, fmt.Errorf("%w: %d vectors of dimension %d is too large", ErrBadFormat, hdr.Count, hdr.Dim)
	}

	f := New(int(hdr.Dim))
	n := hdr.Count * uint64(hdr.Dim)
	f.data = make([]float32, 0, min(n, maxPrealloc))
	buf := make([]byte, 4)
	for i := uint64(0); i < n; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("%w: truncated data after %d of %d values", ErrBadFormat, i, n)
		}
		f.data = append(f.data, math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	}
	return f, nil
}
