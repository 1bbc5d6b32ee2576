// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChainPosition places a canonical transaction either in a block of the
// local chain or in the mempool.
type ChainPosition struct {
	// Block is the confirming block, None while unconfirmed.
	Block fn.Option[BlockID]

	// LastSeen is the latest time an unconfirmed transaction was seen.
	// It is zero for confirmed transactions.
	LastSeen int64
}

// IsConfirmed reports whether the position is in a block.
func (p ChainPosition) IsConfirmed() bool {
	return p.Block.IsSome()
}

// Confirmations returns the number of confirmations at tip, zero when
// unconfirmed.
func (p ChainPosition) Confirmations(tip uint32) uint32 {
	return fn.MapOptionZ(p.Block, func(b BlockID) uint32 {
		if b.Height > tip {
			return 0
		}
		return tip - b.Height + 1
	})
}

// CanonicalTx is a transaction of the canonical history.
type CanonicalTx struct {
	Txid     chainhash.Hash
	Tx       *wire.MsgTx
	Position ChainPosition
}

// Output is an output of a canonical transaction paying to a wallet script.
type Output struct {
	OutPoint wire.OutPoint
	TxOut    *wire.TxOut
	keychain.ScriptRef

	// Position is the chain position of the creating transaction.
	Position ChainPosition

	// SpentBy is the canonical transaction spending the output, if any.
	SpentBy fn.Option[chainhash.Hash]

	// IsCoinbase is set for outputs of coinbase transactions.
	IsCoinbase bool
}

// IsSpent reports whether a canonical transaction spends the output.
func (o *Output) IsSpent() bool {
	return o.SpentBy.IsSome()
}

// Indexer resolves output scripts to the keychain position that derived
// them.
type Indexer interface {
	Lookup(script []byte) (keychain.ScriptRef, bool)
}

// canonicalView is the conflict free subset of the graph consistent with a
// chain, in topological order.
type canonicalView struct {
	txs     map[chainhash.Hash]*CanonicalTx
	order   []chainhash.Hash
	spentBy map[wire.OutPoint]chainhash.Hash
}

// candidate is a transaction with evidence of being in the best history.
type candidate struct {
	txid chainhash.Hash
	pos  ChainPosition
}

// candidateLess orders confirmed transactions first by height, then
// unconfirmed transactions with the most recently seen first. Ties break on
// txid.
func candidateLess(a, b candidate) bool {
	aConf, bConf := a.pos.IsConfirmed(), b.pos.IsConfirmed()
	switch {
	case aConf && !bConf:
		return true

	case !aConf && bConf:
		return false

	case aConf:
		ah := a.pos.Block.UnsafeFromSome().Height
		bh := b.pos.Block.UnsafeFromSome().Height
		if ah != bh {
			return ah < bh
		}

	case a.pos.LastSeen != b.pos.LastSeen:
		return a.pos.LastSeen > b.pos.LastSeen
	}

	return bytes.Compare(a.txid[:], b.txid[:]) < 0
}

type txState uint8

const (
	stateUnknown txState = iota
	stateVisiting
	stateAccepted
	stateRejected
)

// canonicalize computes the canonical view of g against chain. A
// transaction is a candidate when it has an anchor in the chain or was seen
// unconfirmed after its latest eviction. Candidates are accepted in
// priority order together with their in-graph ancestors; a candidate that
// spends an outpoint already spent by an accepted transaction is rejected,
// as is every descendant of a rejected transaction. Two confirmed
// transactions spending the same outpoint make the chain inconsistent.
func canonicalize(g *txGraph, chain *LocalChain) (*canonicalView, error) {
	positions := make(map[chainhash.Hash]ChainPosition, len(g.txs))
	candidates := make([]candidate, 0, len(g.txs))
	for txid := range g.txs {
		var pos ChainPosition
		if block, ok := g.confirmedIn(txid, chain); ok {
			pos.Block = fn.Some(block)
		} else if seen, ok := g.seenUnconfirmed(txid); ok {
			pos.LastSeen = seen
		} else {
			continue
		}

		positions[txid] = pos
		candidates = append(candidates, candidate{txid: txid, pos: pos})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidateLess(candidates[i], candidates[j])
	})

	view := &canonicalView{
		txs:     make(map[chainhash.Hash]*CanonicalTx),
		spentBy: make(map[wire.OutPoint]chainhash.Hash),
	}
	states := make(map[chainhash.Hash]txState, len(candidates))

	var accept func(txid chainhash.Hash) (bool, error)
	accept = func(txid chainhash.Hash) (bool, error) {
		switch states[txid] {
		case stateAccepted:
			return true, nil
		case stateRejected, stateVisiting:
			return false, nil
		}

		pos, ok := positions[txid]
		if !ok {
			states[txid] = stateRejected
			return false, nil
		}
		states[txid] = stateVisiting

		tx := g.txs[txid]
		for _, in := range tx.TxIn {
			prev := in.PreviousOutPoint
			if _, known := g.txs[prev.Hash]; known {
				ok, err := accept(prev.Hash)
				if err != nil {
					return false, err
				}

				// A confirmed spend proves its parent even when
				// the graph lacks the parent's anchor.
				if !ok && !pos.IsConfirmed() {
					states[txid] = stateRejected
					return false, nil
				}
			}

			spender, spent := view.spentBy[prev]
			if !spent || spender == txid {
				continue
			}

			other := view.txs[spender]
			if pos.IsConfirmed() && other.Position.IsConfirmed() {
				return false, walleterr.Errorf(
					walleterr.ErrInconsistentChain,
					"confirmed transactions %v and %v "+
						"both spend %v", spender, txid,
					prev,
				)
			}

			log.Debugf("Transaction %v conflicts with %v on %v",
				txid, spender, prev)

			states[txid] = stateRejected
			return false, nil
		}

		for _, in := range tx.TxIn {
			view.spentBy[in.PreviousOutPoint] = txid
		}
		view.txs[txid] = &CanonicalTx{Txid: txid, Tx: tx, Position: pos}
		view.order = append(view.order, txid)
		states[txid] = stateAccepted

		return true, nil
	}

	for _, c := range candidates {
		if _, err := accept(c.txid); err != nil {
			return nil, err
		}
	}

	return view, nil
}

// outputs returns the outputs of canonical transactions that pay to scripts
// known by idx, sorted by outpoint.
func (v *canonicalView) outputs(idx Indexer) []*Output {
	var outputs []*Output
	for _, txid := range v.order {
		ctx := v.txs[txid]
		coinbase := blockchain.IsCoinBaseTx(ctx.Tx)
		for i, txOut := range ctx.Tx.TxOut {
			ref, ok := idx.Lookup(txOut.PkScript)
			if !ok {
				continue
			}

			op := wire.OutPoint{Hash: txid, Index: uint32(i)}
			out := &Output{
				OutPoint:   op,
				TxOut:      txOut,
				ScriptRef:  ref,
				Position:   ctx.Position,
				IsCoinbase: coinbase,
			}
			if spender, ok := v.spentBy[op]; ok {
				out.SpentBy = fn.Some(spender)
			}
			outputs = append(outputs, out)
		}
	}

	sort.Slice(outputs, func(i, j int) bool {
		return outPointLess(outputs[i].OutPoint, outputs[j].OutPoint)
	})

	return outputs
}

// outPointLess orders outpoints by txid bytes, then index.
func outPointLess(a, b wire.OutPoint) bool {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c < 0
	}

	return a.Index < b.Index
}
