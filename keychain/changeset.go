// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import "bytes"

// ChangeSet records the keychain mutations of a wallet: revealed index
// advances and scripts added to the derivation cache. Merging keeps the
// highest revealed index and the union of cache entries, so merge is
// associative and idempotent.
type ChangeSet struct {
	// LastRevealed is the highest revealed index per keychain.
	LastRevealed map[KeychainKind]uint32

	// SpkCache holds derived output scripts per keychain and index.
	SpkCache map[KeychainKind]map[uint32][]byte
}

// NewChangeSet returns an empty changeset.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		LastRevealed: make(map[KeychainKind]uint32),
		SpkCache:     make(map[KeychainKind]map[uint32][]byte),
	}
}

// IsEmpty reports whether the changeset records nothing.
func (c *ChangeSet) IsEmpty() bool {
	if c == nil {
		return true
	}
	for _, scripts := range c.SpkCache {
		if len(scripts) > 0 {
			return false
		}
	}

	return len(c.LastRevealed) == 0
}

// setRevealed records index as revealed for kc.
func (c *ChangeSet) setRevealed(kc KeychainKind, index uint32) {
	if cur, ok := c.LastRevealed[kc]; ok && cur >= index {
		return
	}
	c.LastRevealed[kc] = index
}

// addScript records a derived script.
func (c *ChangeSet) addScript(kc KeychainKind, index uint32, script []byte) {
	scripts, ok := c.SpkCache[kc]
	if !ok {
		scripts = make(map[uint32][]byte)
		c.SpkCache[kc] = scripts
	}
	scripts[index] = script
}

// Merge folds other into c.
func (c *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}
	if c.LastRevealed == nil {
		c.LastRevealed = make(map[KeychainKind]uint32)
	}
	if c.SpkCache == nil {
		c.SpkCache = make(map[KeychainKind]map[uint32][]byte)
	}

	for kc, index := range other.LastRevealed {
		c.setRevealed(kc, index)
	}
	for kc, scripts := range other.SpkCache {
		for index, script := range scripts {
			c.addScript(kc, index, script)
		}
	}
}

// Equal reports whether both changesets record the same mutations.
func (c *ChangeSet) Equal(other *ChangeSet) bool {
	if c.IsEmpty() || other.IsEmpty() {
		return c.IsEmpty() == other.IsEmpty()
	}
	if len(c.LastRevealed) != len(other.LastRevealed) {
		return false
	}
	for kc, index := range c.LastRevealed {
		if o, ok := other.LastRevealed[kc]; !ok || o != index {
			return false
		}
	}

	count := func(m map[KeychainKind]map[uint32][]byte) int {
		n := 0
		for _, scripts := range m {
			n += len(scripts)
		}
		return n
	}
	if count(c.SpkCache) != count(other.SpkCache) {
		return false
	}
	for kc, scripts := range c.SpkCache {
		for index, script := range scripts {
			if !bytes.Equal(other.SpkCache[kc][index], script) {
				return false
			}
		}
	}

	return true
}
