// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Anchor records that a transaction was observed in a block. A transaction
// may collect several anchors across reorganizations; only anchors in blocks
// of the local chain confirm it.
type Anchor struct {
	Txid  chainhash.Hash
	Block BlockID
}

// ChangeSet is the delta of the chain state store. All fields are additive:
// merging follows last writer for blocks, union for transactions and
// anchors, and max for the timestamps.
type ChangeSet struct {
	// Blocks maps heights to an inserted hash, or None for an evicted
	// block.
	Blocks map[uint32]fn.Option[chainhash.Hash]

	// Txs are full transactions new to the graph.
	Txs map[chainhash.Hash]*wire.MsgTx

	// Anchors are block observations new to the graph.
	Anchors map[Anchor]struct{}

	// LastSeen maps txids to the latest time they were seen unconfirmed.
	LastSeen map[chainhash.Hash]int64

	// Evicted maps txids to the latest time they were found missing from
	// both the chain and the mempool.
	Evicted map[chainhash.Hash]int64
}

// NewChangeSet returns an empty changeset.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		Blocks:   make(map[uint32]fn.Option[chainhash.Hash]),
		Txs:      make(map[chainhash.Hash]*wire.MsgTx),
		Anchors:  make(map[Anchor]struct{}),
		LastSeen: make(map[chainhash.Hash]int64),
		Evicted:  make(map[chainhash.Hash]int64),
	}
}

// IsEmpty reports whether the changeset records nothing.
func (c *ChangeSet) IsEmpty() bool {
	return c == nil || len(c.Blocks) == 0 && len(c.Txs) == 0 &&
		len(c.Anchors) == 0 && len(c.LastSeen) == 0 &&
		len(c.Evicted) == 0
}

// Merge folds other into c.
func (c *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}

	for h, entry := range other.Blocks {
		c.Blocks[h] = entry
	}
	for txid, tx := range other.Txs {
		c.Txs[txid] = tx
	}
	for anchor := range other.Anchors {
		c.Anchors[anchor] = struct{}{}
	}
	for txid, ts := range other.LastSeen {
		if old, ok := c.LastSeen[txid]; !ok || ts > old {
			c.LastSeen[txid] = ts
		}
	}
	for txid, ts := range other.Evicted {
		if old, ok := c.Evicted[txid]; !ok || ts > old {
			c.Evicted[txid] = ts
		}
	}
}

// Equal reports whether both changesets record the same data.
func (c *ChangeSet) Equal(other *ChangeSet) bool {
	if c.IsEmpty() || other.IsEmpty() {
		return c.IsEmpty() == other.IsEmpty()
	}

	if len(c.Blocks) != len(other.Blocks) ||
		len(c.Txs) != len(other.Txs) ||
		len(c.Anchors) != len(other.Anchors) ||
		len(c.LastSeen) != len(other.LastSeen) ||
		len(c.Evicted) != len(other.Evicted) {

		return false
	}

	for h, entry := range c.Blocks {
		o, ok := other.Blocks[h]
		if !ok || o != entry {
			return false
		}
	}
	for txid, tx := range c.Txs {
		o, ok := other.Txs[txid]
		if !ok || !txEqual(tx, o) {
			return false
		}
	}
	for anchor := range c.Anchors {
		if _, ok := other.Anchors[anchor]; !ok {
			return false
		}
	}
	for txid, ts := range c.LastSeen {
		if o, ok := other.LastSeen[txid]; !ok || o != ts {
			return false
		}
	}
	for txid, ts := range c.Evicted {
		if o, ok := other.Evicted[txid]; !ok || o != ts {
			return false
		}
	}

	return true
}

// txEqual compares two transactions by their serialization.
func txEqual(a, b *wire.MsgTx) bool {
	var bufA, bufB bytes.Buffer
	if a.Serialize(&bufA) != nil || b.Serialize(&bufB) != nil {
		return false
	}

	return bytes.Equal(bufA.Bytes(), bufB.Bytes())
}
