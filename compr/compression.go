// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package compr packs serialized continuation
// tokens into short strings that are safe to put
// in URLs and HTTP headers, and unpacks them.
//
// A packed token has the form
//
//	<algorithm>:<base64url(uvarint(len(raw)) || compressed)>
//
// where algorithm is "zstd" or "s2".
package compr

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/SnellerInc/xquery"
)

// MaxTokenSize is the largest decompressed
// token Unpack accepts.
const MaxTokenSize = 1 << 20

// Compressor compresses tokens.
type Compressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Compress appends the compressed contents
	// of src to dst and returns the result.
	Compress(src, dst []byte) []byte
}

// Decompressor decompresses tokens.
type Decompressor interface {
	// Name is the name of the compression algorithm.
	// See also Compressor.Name.
	Name() string
	// Decompress decompresses src into dst,
	// which must have exactly the length of
	// the decompressed data.
	//
	// It must be safe to make multiple
	// calls to Decompress simultaneously
	// from different goroutines.
	Decompress(src, dst []byte) error
}

type zstdCodec struct{}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

func zstdInit() {
	// tokens are small; a single goroutine
	// per call is all they need
	var err error
	zstdEnc, err = zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(err)
	}
	zstdDec, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxTokenSize))
	if err != nil {
		panic(err)
	}
}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(src, dst []byte) []byte {
	zstdOnce.Do(zstdInit)
	return zstdEnc.EncodeAll(src, dst)
}

func (zstdCodec) Decompress(src, dst []byte) error {
	zstdOnce.Do(zstdInit)
	ret, err := zstdDec.DecodeAll(src, dst[:0:len(dst)])
	if err != nil {
		return err
	}
	if len(ret) != len(dst) {
		return fmt.Errorf("expected %d bytes decompressed; got %d", len(dst), len(ret))
	}
	return nil
}

type s2Codec struct{}

func (s2Codec) Name() string { return "s2" }

func (s2Codec) Compress(src, dst []byte) []byte {
	return append(dst, s2.EncodeBetter(nil, src)...)
}

func (s2Codec) Decompress(src, dst []byte) error {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("expected %d bytes decompressed; got %d", len(dst), n)
	}
	_, err = s2.Decode(dst, src)
	return err
}

// Compression selects a compression algorithm by name.
// The returned Compressor will return the same value
// for Compressor.Name as the specified name.
// It returns nil for unknown names.
func Compression(name string) Compressor {
	switch name {
	case "zstd":
		return zstdCodec{}
	case "s2":
		return s2Codec{}
	default:
		return nil
	}
}

// Decompression is the inverse of Compression.
func Decompression(name string) Decompressor {
	switch name {
	case "zstd":
		return zstdCodec{}
	case "s2":
		return s2Codec{}
	default:
		return nil
	}
}

// Pack compresses raw with the named
// algorithm and encodes the result.
func Pack(alg string, raw []byte) (string, error) {
	c := Compression(alg)
	if c == nil {
		return "", fmt.Errorf("compr: unknown algorithm %q", alg)
	}
	if len(raw) > MaxTokenSize {
		return "", fmt.Errorf("compr: token of %d bytes exceeds %d", len(raw), MaxTokenSize)
	}
	buf := binary.AppendUvarint(nil, uint64(len(raw)))
	buf = c.Compress(raw, buf)
	return c.Name() + ":" + base64.RawURLEncoding.EncodeToString(buf), nil
}

func malformed(f string, args ...interface{}) error {
	return fmt.Errorf("compr: %s: %w", fmt.Sprintf(f, args...), xquery.ErrMalformedContinuation)
}

// Unpack decodes a string produced by Pack.
// Errors wrap xquery.ErrMalformedContinuation.
func Unpack(s string) ([]byte, error) {
	alg, body, ok := strings.Cut(s, ":")
	if !ok {
		return nil, malformed("missing algorithm prefix")
	}
	d := Decompression(alg)
	if d == nil {
		return nil, malformed("unknown algorithm %q", alg)
	}
	buf, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, malformed("%s", err)
	}
	size, n := binary.Uvarint(buf)
	if n <= 0 || size > MaxTokenSize {
		return nil, malformed("bad length prefix")
	}
	raw := make([]byte, size)
	if err := d.Decompress(buf[n:], raw); err != nil {
		return nil, malformed("%s: %s", alg, err)
	}
	return raw, nil
}
