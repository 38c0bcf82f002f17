// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package encode provides the byte-level helpers used by the vault's binary
// records: big-endian integers, versioned blobs and password buffers.
package encode

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// IntCoder is the vault-wide integer byte-encoding order. IntCoder must be
	// BigEndian so that bbolt keys sort numerically.
	IntCoder = binary.BigEndian
	// MaxDataLen is the largest push that (BuildyBytes).AddData accepts.
	MaxDataLen = math.MaxInt32
)

// Uint32Bytes converts the uint32 to a length-4, big-endian encoded byte slice.
func Uint32Bytes(i uint32) []byte {
	b := make([]byte, 4)
	IntCoder.PutUint32(b, i)
	return b
}

// BytesToUint32 converts the length-4, big-endian encoded byte slice to a
// uint32.
func BytesToUint32(b []byte) uint32 {
	return IntCoder.Uint32(b[:4])
}

// Uint64Bytes converts the uint64 to a length-8, big-endian encoded byte slice.
func Uint64Bytes(i uint64) []byte {
	b := make([]byte, 8)
	IntCoder.PutUint64(b, i)
	return b
}

// CopySlice makes a copy of the slice.
func CopySlice(b []byte) []byte {
	newB := make([]byte, len(b))
	copy(newB, b)
	return newB
}

// RandomBytes returns a byte slice with the specified length of random bytes.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("error reading random bytes: " + err.Error())
	}
	return b
}

// ClearBytes zeroes the byte slice.
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ExtractPushes parses the linearly-encoded 2D byte slice into a slice of
// slices. Empty pushes are nil slices.
func ExtractPushes(b []byte) ([][]byte, error) {
	pushes := make([][]byte, 0, 4)
	for len(b) > 0 {
		l := int(b[0])
		b = b[1:]
		if l == 0xff {
			if len(b) < 4 {
				return nil, errors.New("4 bytes not available for data length")
			}
			l = int(IntCoder.Uint32(b[:4]))
			b = b[4:]
		}
		if len(b) < l {
			return nil, fmt.Errorf("data too short for pop of %d bytes", l)
		}
		if l == 0 {
			pushes = append(pushes, nil)
			continue
		}
		pushes = append(pushes, b[:l])
		b = b[l:]
	}
	return pushes, nil
}

// DecodeBlob decodes a versioned blob into its version and the pushes extracted
// from its data. Empty pushes will be nil.
func DecodeBlob(b []byte) (byte, [][]byte, error) {
	if len(b) == 0 {
		return 0, nil, errors.New("zero length blob not allowed")
	}
	pushes, err := ExtractPushes(b[1:])
	return b[0], pushes, err
}

// BuildyBytes is a byte-slice with an AddData method for building linearly
// encoded 2D byte slices. The canonical use is a "versioned blob", started with
// a single version byte:
//
//	b := BuildyBytes{0}.AddData(nonce).AddData(cipherText)
//
// and decoded with DecodeBlob.
type BuildyBytes []byte

// AddData adds the data to the BuildyBytes, and returns the new BuildyBytes.
// AddData panics for data longer than MaxDataLen.
func (b BuildyBytes) AddData(d []byte) BuildyBytes {
	l := len(d)
	if l > MaxDataLen {
		panic(fmt.Sprintf("cannot push %d bytes, max is %d", l, MaxDataLen))
	}
	if l >= 0xff {
		b = append(b, 0xff, 0, 0, 0, 0)
		IntCoder.PutUint32(b[len(b)-4:], uint32(l))
	} else {
		b = append(b, byte(l))
	}
	return append(b, d...)
}
