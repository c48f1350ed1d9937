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
	"encoding/hex"
	"hash"

	"github.com/zeebo/blake3"
)

const digestPrefix = "blake3:"

type digester struct {
	h    hash.Hash
	size int64
}

func newDigester() *digester {
	return &digester{h: blake3.New()}
}

func (d *digester) Write(bs []byte) (int, error) {
	n, err := d.h.Write(bs)
	d.size += int64(n)
	return n, err
}

func (d *digester) digest() string {
	return digestPrefix + hex.EncodeToString(d.h.Sum(nil))
}
