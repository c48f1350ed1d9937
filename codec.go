// Copyright (C) 2022  Shanhu Tech Inc.
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the
// Free Software Foundation, either version 3 of the License, or (at your
// option) any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
// for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package buildbox

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"shanhu.io/misc/errcode"
)

// Snapshot codec names.
const (
	CodecZstd = "zstd"
	CodecLZ4  = "lz4"
	CodecNone = "none"
)

// codec compresses snapshot archives at rest.
type codec struct {
	name   string
	ext    string
	writer func(w io.Writer) (io.WriteCloser, error)
	reader func(r io.Reader) (io.ReadCloser, error)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var codecs = []*codec{{
	name: CodecZstd,
	ext:  ".tar.zst",
	writer: func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w)
	},
	reader: func(r io.Reader) (io.ReadCloser, error) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	},
}, {
	name: CodecLZ4,
	ext:  ".tar.lz4",
	writer: func(w io.Writer) (io.WriteCloser, error) {
		return lz4.NewWriter(w), nil
	},
	reader: func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(lz4.NewReader(r)), nil
	},
}, {
	name: CodecNone,
	ext:  ".tar",
	writer: func(w io.Writer) (io.WriteCloser, error) {
		return nopWriteCloser{w}, nil
	},
	reader: func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	},
}}

func findCodec(name string) (*codec, error) {
	if name == "" {
		name = CodecZstd
	}
	for _, c := range codecs {
		if c.name == name {
			return c, nil
		}
	}
	return nil, errcode.InvalidArgf("unknown codec %q", name)
}
