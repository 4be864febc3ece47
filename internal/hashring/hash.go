/*
 * MIT License
 *
 * Copyright (c) 2026 ringcache contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package hashring

import (
	"crypto/md5"
	"encoding/binary"
	"hash/fnv"
)

// HashFunc identifies which stable, non-cryptographic hash is used to map a
// resource name onto the ring's position space. The exact function is part
// of the wire contract: two processes configured with the same HashFunc and
// ring size must agree on every findServerId result.
type HashFunc uint8

const (
	// FNV1A32 hashes with the 32-bit FNV-1a algorithm.
	FNV1A32 HashFunc = iota
	// MD5Low32 hashes with MD5 and takes the low 32 bits of the digest.
	MD5Low32
)

// ParseHashFunc maps a configuration string onto a HashFunc, defaulting to
// FNV1A32 for an empty or unrecognized value.
func ParseHashFunc(s string) HashFunc {
	switch s {
	case "MD5_LOW32":
		return MD5Low32
	default:
		return FNV1A32
	}
}

func (h HashFunc) hash(resourceName string) uint32 {
	switch h {
	case MD5Low32:
		sum := md5.Sum([]byte(resourceName))
		return binary.BigEndian.Uint32(sum[:4])
	default:
		f := fnv.New32a()
		_, _ = f.Write([]byte(resourceName))
		return f.Sum32()
	}
}
