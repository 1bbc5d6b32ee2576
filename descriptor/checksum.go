// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"strings"

	"github.com/btcsuite/descwallet/walleterr"
)

const (
	// checksumLength is the number of characters of a descriptor
	// checksum.
	checksumLength = 8

	// inputCharset is the set of characters a descriptor may contain,
	// ordered so that the most common ones fall into the first group.
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 character set the checksum is
	// written in.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

// polymodGenerators are the generator coefficients of the BCH code used by
// descriptor checksums.
var polymodGenerators = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

// polymod feeds one 5-bit symbol into the checksum state c.
func polymod(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	for i, gen := range polymodGenerators {
		if (c0>>uint(i))&1 != 0 {
			c ^= gen
		}
	}

	return c
}

// Checksum computes the 8 character BIP380 checksum of a descriptor body
// (the text without a trailing "#checksum").
func Checksum(desc string) (string, error) {
	var (
		c        uint64 = 1
		cls      uint64
		clsCount int
	)
	for i := 0; i < len(desc); i++ {
		pos := strings.IndexByte(inputCharset, desc[i])
		if pos < 0 {
			return "", walleterr.Errorf(
				walleterr.ErrInvalidDescriptor,
				"invalid character %q at position %d",
				desc[i], i,
			)
		}

		// Emit the low 5 bits of the position as a symbol and collect
		// the group number, three groups per extra symbol.
		c = polymod(c, uint64(pos)&31)
		cls = cls*3 + uint64(pos>>5)
		clsCount++
		if clsCount == 3 {
			c = polymod(c, cls)
			cls = 0
			clsCount = 0
		}
	}
	if clsCount > 0 {
		c = polymod(c, cls)
	}
	for i := 0; i < checksumLength; i++ {
		c = polymod(c, 0)
	}
	c ^= 1

	var sum [checksumLength]byte
	for i := range sum {
		sum[i] = checksumCharset[(c>>(5*(7-uint(i))))&31]
	}

	return string(sum[:]), nil
}

// splitChecksum separates a descriptor into its body and optional checksum,
// verifying the checksum when one is present.
func splitChecksum(desc string) (string, error) {
	idx := strings.IndexByte(desc, '#')
	if idx < 0 {
		// Still validate the character set of the body.
		_, err := Checksum(desc)
		return desc, err
	}

	body, sum := desc[:idx], desc[idx+1:]
	if len(sum) != checksumLength {
		return "", walleterr.Errorf(walleterr.ErrInvalidDescriptor,
			"checksum %q must be %d characters", sum,
			checksumLength)
	}

	want, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if sum != want {
		return "", walleterr.Errorf(walleterr.ErrInvalidDescriptor,
			"checksum mismatch: got %s, expected %s", sum, want)
	}

	return body, nil
}

// withChecksum appends the checksum to a descriptor body produced by this
// package. Bodies built here only use the input charset.
func withChecksum(body string) string {
	sum, err := Checksum(body)
	if err != nil {
		return body
	}

	return body + "#" + sum
}
