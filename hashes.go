// Copyright (c) 2024 Fernwerk, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stepmap

import (
	"encoding/binary"
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/constraints"
)

// Ready-made hash functions for common key types, suitable as the hash
// argument to New and NewCap. They ignore the seed so a key keeps its
// hash for the whole lifetime of a Dict. Anything from [hash/maphash],
// such as [hash/maphash.String], works as well.

// HashString hashes string keys with xxHash64.
func HashString(_ maphash.Seed, s string) uint64 {
	return xxhash.Sum64String(s)
}

// HashBytes hashes byte-slice keys with xxHash64.
func HashBytes(_ maphash.Seed, b []byte) uint64 {
	return xxhash.Sum64(b)
}

// HashInt hashes integer keys by running their fixed-width encoding
// through xxHash64, spreading sequential keys across the full 64-bit
// range.
func HashInt[I constraints.Integer](_ maphash.Seed, v I) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return xxhash.Sum64(buf[:])
}
