// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chainsource"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/changeset"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// StartFullScan returns a request to discover the history of both
// keychains. The script sources derive from the immutable descriptors, so
// the request stays valid while the wallet changes.
func (w *Wallet) StartFullScan() *chainsource.FullScanRequest {
	w.mu.RLock()
	defer w.mu.RUnlock()

	req := &chainsource.FullScanRequest{
		Tip:       w.store.Tip(),
		Keychains: make(map[keychain.KeychainKind]chainsource.ScriptSource),
	}
	for _, kc := range keychain.AllKeychains {
		desc := w.index.Descriptor(kc)
		req.Keychains[kc] = func(index uint32) ([]byte, error) {
			addr, err := desc.Derive(index)
			if err != nil {
				return nil, err
			}
			return addr.Script, nil
		}
	}

	return req
}

// StartSync returns a request refreshing the revealed scripts and the
// unconfirmed transactions of the wallet. Spends of wallet outputs are
// found through the history of the revealed scripts.
func (w *Wallet) StartSync() (*chainsource.SyncRequest, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	revealed, err := w.index.RevealedScripts()
	if err != nil {
		return nil, err
	}

	scripts := make([][]byte, 0, len(revealed))
	for _, s := range revealed {
		scripts = append(scripts, s.Script)
	}

	return &chainsource.SyncRequest{
		Tip:     w.store.Tip(),
		Scripts: scripts,
		Txids:   w.store.UnconfirmedTxids(),
	}, nil
}

// UpdateResult describes the effect of an applied update.
type UpdateResult struct {
	// ChangeSet is the part of the staged changes produced by the
	// update.
	ChangeSet *changeset.ChangeSet

	// ReorgBelow is the common ancestor height when the update replaced
	// local blocks.
	ReorgBelow fn.Option[uint32]

	// Evicted are the transactions dropped by the update.
	Evicted []chainhash.Hash

	// NewlyUsed are the indices per keychain that received their first
	// chain activity.
	NewlyUsed map[keychain.KeychainKind][]uint32

	prevUsed map[keychain.KeychainKind]fn.Option[uint32]
}

// ExtendScan reports whether a newly used index of kc lies within the
// stopGap indices following the previously highest used one. The watched
// span then moved and the caller should scan further before treating
// discovery as complete.
func (r *UpdateResult) ExtendScan(kc keychain.KeychainKind,
	stopGap uint32) bool {

	prev := r.prevUsed[kc]
	for _, index := range r.NewlyUsed[kc] {
		inGap := fn.ElimOption(prev,
			func() bool { return index < stopGap },
			func(p uint32) bool {
				return index > p && index-p <= stopGap
			},
		)
		if inGap {
			return true
		}
	}

	return false
}

// ApplyUpdate applies update using the current time as sync time.
func (w *Wallet) ApplyUpdate(update *chainsource.Update) (*UpdateResult,
	error) {

	return w.ApplyUpdateAt(update, time.Now().Unix())
}

// ApplyUpdateAt applies update with seenAt as the unix time unconfirmed
// transactions were last seen. The wallet is unchanged when an error is
// returned.
func (w *Wallet) ApplyUpdateAt(update *chainsource.Update,
	seenAt int64) (*UpdateResult, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	index := w.index.Clone()
	store := w.store.Clone()
	cs := changeset.New()

	result := &UpdateResult{
		ChangeSet: cs,
		NewlyUsed: make(map[keychain.KeychainKind][]uint32),
		prevUsed:  make(map[keychain.KeychainKind]fn.Option[uint32]),
	}
	for _, kc := range keychain.AllKeychains {
		result.prevUsed[kc] = index.LastUsed(kc)
	}

	for kc, last := range update.LastActiveIndices {
		_, revealCS, err := index.RevealTo(kc, last)
		if err != nil {
			return nil, err
		}
		cs.Indexer.Merge(revealCS)
	}

	applied, err := store.ApplyUpdate(&update.Update, seenAt)
	if err != nil {
		return nil, err
	}
	cs.Chain.Merge(applied.ChangeSet)
	result.ReorgBelow = applied.ReorgBelow
	result.Evicted = applied.Evicted

	for _, out := range store.Outputs(index) {
		if index.IsUsed(out.Keychain, out.Index) {
			continue
		}
		err := index.MarkUsed(out.Keychain, out.Index, cs.Indexer)
		if err != nil {
			return nil, err
		}
		result.NewlyUsed[out.Keychain] = append(
			result.NewlyUsed[out.Keychain], out.Index,
		)
	}

	w.index, w.store = index, store
	w.stage.Merge(cs)

	numTxs := len(update.Txs)
	log.Infof("Applied update with %d %s, tip %v", numTxs,
		pickNoun(numTxs, "transaction", "transactions"),
		w.store.Tip().BlockID())
	result.ReorgBelow.WhenSome(func(height uint32) {
		log.Infof("Reorganized local chain above height %d, evicted "+
			"%d %s", height, len(result.Evicted),
			pickNoun(len(result.Evicted), "transaction",
				"transactions"))
	})

	return result, nil
}

// ApplyUnconfirmedTxs inserts unconfirmed transactions observed at seenAt,
// such as transactions the wallet just broadcast.
func (w *Wallet) ApplyUnconfirmedTxs(seenAt int64,
	txs ...*wire.MsgTx) (*UpdateResult, error) {

	return w.ApplyUpdateAt(&chainsource.Update{
		Update: chainstate.Update{Txs: txs},
	}, seenAt)
}
