// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// txGraph holds every transaction the wallet has heard of, whether or not it
// is currently part of the canonical history, together with the evidence
// used to decide canonicality.
type txGraph struct {
	txs      map[chainhash.Hash]*wire.MsgTx
	anchors  map[chainhash.Hash]map[BlockID]struct{}
	lastSeen map[chainhash.Hash]int64
	evicted  map[chainhash.Hash]int64
}

func newTxGraph() *txGraph {
	return &txGraph{
		txs:      make(map[chainhash.Hash]*wire.MsgTx),
		anchors:  make(map[chainhash.Hash]map[BlockID]struct{}),
		lastSeen: make(map[chainhash.Hash]int64),
		evicted:  make(map[chainhash.Hash]int64),
	}
}

// clone returns a copy of the graph. Transactions are shared and must not
// be modified.
func (g *txGraph) clone() *txGraph {
	c := &txGraph{
		txs: make(map[chainhash.Hash]*wire.MsgTx, len(g.txs)),
		anchors: make(
			map[chainhash.Hash]map[BlockID]struct{}, len(g.anchors),
		),
		lastSeen: make(map[chainhash.Hash]int64, len(g.lastSeen)),
		evicted:  make(map[chainhash.Hash]int64, len(g.evicted)),
	}
	for txid, tx := range g.txs {
		c.txs[txid] = tx
	}
	for txid, blocks := range g.anchors {
		set := make(map[BlockID]struct{}, len(blocks))
		for block := range blocks {
			set[block] = struct{}{}
		}
		c.anchors[txid] = set
	}
	for txid, ts := range g.lastSeen {
		c.lastSeen[txid] = ts
	}
	for txid, ts := range g.evicted {
		c.evicted[txid] = ts
	}

	return c
}

// apply folds the graph part of a changeset into g.
func (g *txGraph) apply(cs *ChangeSet) {
	for txid, tx := range cs.Txs {
		g.txs[txid] = tx
	}
	for anchor := range cs.Anchors {
		g.addAnchor(anchor)
	}
	for txid, ts := range cs.LastSeen {
		if old, ok := g.lastSeen[txid]; !ok || ts > old {
			g.lastSeen[txid] = ts
		}
	}
	for txid, ts := range cs.Evicted {
		if old, ok := g.evicted[txid]; !ok || ts > old {
			g.evicted[txid] = ts
		}
	}
}

func (g *txGraph) addAnchor(anchor Anchor) {
	set, ok := g.anchors[anchor.Txid]
	if !ok {
		set = make(map[BlockID]struct{})
		g.anchors[anchor.Txid] = set
	}
	set[anchor.Block] = struct{}{}
}

func (g *txGraph) hasAnchor(anchor Anchor) bool {
	_, ok := g.anchors[anchor.Txid][anchor.Block]
	return ok
}

// confirmedIn returns the lowest anchor of txid that is part of chain.
func (g *txGraph) confirmedIn(txid chainhash.Hash,
	chain *LocalChain) (BlockID, bool) {

	var (
		best  BlockID
		found bool
	)
	for block := range g.anchors[txid] {
		if !chain.Contains(block) {
			continue
		}
		if !found || block.Height < best.Height {
			best, found = block, true
		}
	}

	return best, found
}

// seenUnconfirmed returns the last seen time of txid if it has been seen
// after its latest eviction.
func (g *txGraph) seenUnconfirmed(txid chainhash.Hash) (int64, bool) {
	seen, ok := g.lastSeen[txid]
	if !ok {
		return 0, false
	}
	if evicted, ok := g.evicted[txid]; ok && evicted >= seen {
		return 0, false
	}

	return seen, true
}
