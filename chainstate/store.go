// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainstate tracks the wallet's view of the block chain and of the
// transactions relevant to it. A sparse local chain of checkpoints anchors
// transactions in blocks, and a canonical view resolves double spends and
// reorganizations into a single consistent history.
package chainstate

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Update is the data a chain source reports for a sync or full scan.
type Update struct {
	// Tip is the source's chain, which must connect to the local chain.
	// It may be nil when the source reports no chain data.
	Tip *CheckPoint

	// Txs are transactions relevant to the wallet.
	Txs []*wire.MsgTx

	// Anchors place transactions in blocks. The anchored blocks are
	// merged into the chain together with Tip.
	Anchors []Anchor

	// SeenAt overrides the sync time as the last seen time of specific
	// unconfirmed transactions.
	SeenAt map[chainhash.Hash]int64

	// Evicted are transactions the source found in neither the chain nor
	// the mempool.
	Evicted []chainhash.Hash
}

// IsEmpty reports whether the update carries no data.
func (u *Update) IsEmpty() bool {
	return u.Tip == nil && len(u.Txs) == 0 && len(u.Anchors) == 0 &&
		len(u.Evicted) == 0
}

// Store is the chain state store. It is not safe for concurrent use.
type Store struct {
	chain            *LocalChain
	graph            *txGraph
	view             *canonicalView
	coinbaseMaturity uint32
}

// NewStore returns a store holding only the genesis block of params, and
// the changeset that records it.
func NewStore(params *chaincfg.Params) (*Store, *ChangeSet) {
	genesis := *params.GenesisHash

	s := &Store{
		chain:            newLocalChain(genesis),
		graph:            newTxGraph(),
		coinbaseMaturity: uint32(params.CoinbaseMaturity),
	}
	s.view = &canonicalView{
		txs:     make(map[chainhash.Hash]*CanonicalTx),
		spentBy: make(map[wire.OutPoint]chainhash.Hash),
	}

	cs := NewChangeSet()
	cs.Blocks[0] = fn.Some(genesis)

	return s, cs
}

// Clone returns a copy of the store that can be mutated independently.
func (s *Store) Clone() *Store {
	return &Store{
		chain:            s.chain.clone(),
		graph:            s.graph.clone(),
		view:             s.view,
		coinbaseMaturity: s.coinbaseMaturity,
	}
}

// Genesis returns the hash of the first block of the local chain.
func (s *Store) Genesis() (chainhash.Hash, bool) {
	return s.chain.Hash(0)
}

// Tip returns the highest checkpoint of the local chain.
func (s *Store) Tip() *CheckPoint {
	return s.chain.Tip()
}

// Chain returns the local chain.
func (s *Store) Chain() *LocalChain {
	return s.chain
}

// ApplyResult describes the effect of an applied update.
type ApplyResult struct {
	// ChangeSet is the delta to persist.
	ChangeSet *ChangeSet

	// ReorgBelow is the common ancestor height when the update forked
	// the local chain.
	ReorgBelow fn.Option[uint32]

	// Evicted are the transactions unconfirmed by the reorganization and
	// absent from the update.
	Evicted []chainhash.Hash
}

// ApplyUpdate merges update into the store. seenAt is the sync time in
// unix seconds, used as last seen time of the update's unconfirmed
// transactions and as eviction time of transactions that left the chain.
// The store is unchanged when an error is returned.
func (s *Store) ApplyUpdate(update *Update, seenAt int64) (*ApplyResult,
	error) {

	updateBlocks, err := updateChain(update)
	if err != nil {
		return nil, err
	}

	merged, err := s.chain.merge(updateBlocks)
	if err != nil {
		return nil, err
	}

	cs := NewChangeSet()
	for h, entry := range merged.blocks {
		cs.Blocks[h] = entry
	}

	chain := s.chain.clone()
	chain.applyBlocks(merged.blocks)

	inUpdate := make(map[chainhash.Hash]struct{})
	for _, tx := range update.Txs {
		txid := tx.TxHash()
		inUpdate[txid] = struct{}{}
		if _, ok := s.graph.txs[txid]; !ok {
			cs.Txs[txid] = tx
		}
	}

	confirmed := make(map[chainhash.Hash]struct{})
	for _, anchor := range update.Anchors {
		inUpdate[anchor.Txid] = struct{}{}
		if chain.Contains(anchor.Block) {
			confirmed[anchor.Txid] = struct{}{}
		}
		if !s.graph.hasAnchor(anchor) {
			cs.Anchors[anchor] = struct{}{}
		}
	}

	for _, tx := range update.Txs {
		txid := tx.TxHash()
		if _, ok := confirmed[txid]; ok {
			continue
		}

		seen := seenAt
		if ts, ok := update.SeenAt[txid]; ok {
			seen = ts
		}
		if old, ok := s.graph.lastSeen[txid]; !ok || seen > old {
			cs.LastSeen[txid] = seen
		}
	}

	result := &ApplyResult{ChangeSet: cs, ReorgBelow: merged.reorgBelow}

	evict := func(txid chainhash.Hash) {
		if _, ok := s.graph.txs[txid]; !ok {
			return
		}
		if old, ok := s.graph.evicted[txid]; ok && old >= seenAt {
			return
		}
		cs.Evicted[txid] = seenAt
		result.Evicted = append(result.Evicted, txid)
	}

	// Transactions that lost their confirmation in a reorganization and
	// that the source did not report again are evicted.
	merged.reorgBelow.WhenSome(func(ancestor uint32) {
		for txid, blocks := range s.graph.anchors {
			if _, ok := inUpdate[txid]; ok {
				continue
			}

			var wasConfirmed, stillConfirmed bool
			for block := range blocks {
				if s.chain.Contains(block) &&
					block.Height > ancestor {

					wasConfirmed = true
				}
				if chain.Contains(block) {
					stillConfirmed = true
				}
			}
			if wasConfirmed && !stillConfirmed {
				evict(txid)
			}
		}
	})

	for _, txid := range update.Evicted {
		if _, ok := inUpdate[txid]; ok {
			continue
		}
		evict(txid)
	}
	sort.Slice(result.Evicted, func(i, j int) bool {
		return result.Evicted[i].String() < result.Evicted[j].String()
	})

	graph := s.graph.clone()
	graph.apply(cs)

	view, err := canonicalize(graph, chain)
	if err != nil {
		return nil, err
	}

	s.chain, s.graph, s.view = chain, graph, view

	log.Debugf("Applied update: tip=%v txs=%d anchors=%d evicted=%d",
		s.chain.Tip().BlockID(), len(cs.Txs), len(cs.Anchors),
		len(cs.Evicted))
	log.Tracef("Chain changeset: %v", newLogClosure(func() string {
		return spew.Sdump(cs.Blocks)
	}))

	return result, nil
}

// updateChain collects the blocks of the update's chain and anchors.
func updateChain(update *Update) (map[uint32]chainhash.Hash, error) {
	blocks := make(map[uint32]chainhash.Hash)
	add := func(block BlockID) error {
		if hash, ok := blocks[block.Height]; ok && hash != block.Hash {
			return walleterr.Errorf(walleterr.ErrInconsistentChain,
				"update has blocks %v and %v at height %d",
				hash, block.Hash, block.Height)
		}
		blocks[block.Height] = block.Hash

		return nil
	}

	if update.Tip != nil {
		for _, block := range update.Tip.Blocks() {
			if err := add(block); err != nil {
				return nil, err
			}
		}
	}
	for _, anchor := range update.Anchors {
		if err := add(anchor.Block); err != nil {
			return nil, err
		}
	}

	return blocks, nil
}

// ApplyChangeSet replays a persisted changeset into the store.
func (s *Store) ApplyChangeSet(cs *ChangeSet) error {
	if cs.IsEmpty() {
		return nil
	}

	chain := s.chain.clone()
	chain.applyBlocks(cs.Blocks)
	if _, ok := chain.Hash(0); !ok {
		return walleterr.Errorf(walleterr.ErrInvalidChangeSet,
			"changeset evicts the genesis block")
	}

	graph := s.graph.clone()
	graph.apply(cs)

	view, err := canonicalize(graph, chain)
	if err != nil {
		return walleterr.New(walleterr.ErrInvalidChangeSet,
			"changeset describes an inconsistent history", err)
	}

	s.chain, s.graph, s.view = chain, graph, view

	return nil
}

// Tx returns the canonical transaction with txid.
func (s *Store) Tx(txid chainhash.Hash) (*CanonicalTx, bool) {
	tx, ok := s.view.txs[txid]
	return tx, ok
}

// RawTx returns any transaction of the graph, canonical or not.
func (s *Store) RawTx(txid chainhash.Hash) (*wire.MsgTx, bool) {
	tx, ok := s.graph.txs[txid]
	return tx, ok
}

// Transactions returns the canonical transactions with ancestors before
// descendants.
func (s *Store) Transactions() []*CanonicalTx {
	txs := make([]*CanonicalTx, 0, len(s.view.order))
	for _, txid := range s.view.order {
		txs = append(txs, s.view.txs[txid])
	}

	return txs
}

// UnconfirmedTxids returns the txids of canonical unconfirmed transactions.
func (s *Store) UnconfirmedTxids() []chainhash.Hash {
	var txids []chainhash.Hash
	for _, txid := range s.view.order {
		if !s.view.txs[txid].Position.IsConfirmed() {
			txids = append(txids, txid)
		}
	}

	return txids
}

// Outputs returns every canonical output paying to idx, spent or not.
func (s *Store) Outputs(idx Indexer) []*Output {
	return s.view.outputs(idx)
}

// Unspent returns the canonical unspent outputs paying to idx.
func (s *Store) Unspent(idx Indexer) []*Output {
	var unspent []*Output
	for _, out := range s.view.outputs(idx) {
		if !out.IsSpent() {
			unspent = append(unspent, out)
		}
	}

	return unspent
}

// UnspentOutPoints returns the outpoints of Unspent.
func (s *Store) UnspentOutPoints(idx Indexer) []wire.OutPoint {
	var ops []wire.OutPoint
	for _, out := range s.Unspent(idx) {
		ops = append(ops, out.OutPoint)
	}

	return ops
}

// IsMature reports whether out can be spent in the next block.
func (s *Store) IsMature(out *Output) bool {
	if !out.IsCoinbase {
		return true
	}

	next := s.chain.Tip().Height() + 1
	return out.Position.Confirmations(next) > s.coinbaseMaturity
}
