// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet ties the descriptor keychains, the chain state store and
// the transaction builder together behind a single handle.
//
// All state changes are collected in a staged changeset that the caller
// takes with TakeStaged and persists. Loading replays a persisted changeset
// into a fresh wallet.
package wallet

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/changeset"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultLookahead is the number of scripts past the last revealed
	// index that are recognized as belonging to the wallet.
	DefaultLookahead = 25
)

// Config holds the options of a wallet that are not persisted.
type Config struct {
	// Lookahead overrides DefaultLookahead when non-zero.
	Lookahead uint32

	// Policy decides which unconfirmed outputs count as trusted for
	// balances and coin selection.
	Policy chainstate.BalancePolicy
}

func (c *Config) lookahead() uint32 {
	if c == nil || c.Lookahead == 0 {
		return DefaultLookahead
	}
	return c.Lookahead
}

func (c *Config) policy() chainstate.BalancePolicy {
	if c == nil {
		return chainstate.BalancePolicy{}
	}
	return c.Policy
}

// Wallet is a descriptor wallet with an external and an internal keychain.
//
// Wallet is safe for concurrent access. Queries run concurrently with each
// other while reveals, update application and transaction building are
// exclusive.
type Wallet struct {
	mu sync.RWMutex

	network netparams.Network
	params  *chaincfg.Params
	policy  chainstate.BalancePolicy

	index *keychain.TxOutIndex
	store *chainstate.Store

	// signers are the private descriptors of the keychains that can
	// sign. A watch-only wallet has none.
	signers map[keychain.KeychainKind]*descriptor.Descriptor

	stage *changeset.ChangeSet
}

// newWallet creates the in-memory state shared by Create and Load.
func newWallet(external, internal *descriptor.Descriptor,
	cfg *Config) (*Wallet, *keychain.ChangeSet, *chainstate.ChangeSet,
	error) {

	signers := make(map[keychain.KeychainKind]*descriptor.Descriptor)
	public := make(map[keychain.KeychainKind]*descriptor.Descriptor)
	for kc, desc := range map[keychain.KeychainKind]*descriptor.Descriptor{
		keychain.External: external,
		keychain.Internal: internal,
	} {
		pub, err := desc.PublicProjection()
		if err != nil {
			return nil, nil, nil, err
		}
		public[kc] = pub

		if desc.HasPrivateKey() {
			signers[kc] = desc
		}
	}

	index, indexCS, err := keychain.NewTxOutIndex(
		public[keychain.External], public[keychain.Internal],
		cfg.lookahead(),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	net := external.Network()
	params := net.ChainParams()
	store, chainCS := chainstate.NewStore(params)

	w := &Wallet{
		network: net,
		params:  params,
		policy:  cfg.policy(),
		index:   index,
		store:   store,
		signers: signers,
		stage:   changeset.New(),
	}

	return w, indexCS, chainCS, nil
}

// Create creates a new wallet from the descriptor texts of the external and
// internal keychains. The returned wallet stages the changeset recording
// the network, the public descriptors and the genesis block.
func Create(external, internal string, net netparams.Network,
	cfg *Config) (*Wallet, error) {

	if !net.Valid() {
		return nil, walleterr.Errorf(walleterr.ErrInvalidDescriptor,
			"unknown network %v", net)
	}

	ext, err := descriptor.Parse(external, net)
	if err != nil {
		return nil, err
	}
	in, err := descriptor.Parse(internal, net)
	if err != nil {
		return nil, err
	}

	w, indexCS, chainCS, err := newWallet(ext, in, cfg)
	if err != nil {
		return nil, err
	}

	w.stage.Network = fn.Some(net)
	for _, kc := range keychain.AllKeychains {
		w.stage.Descriptors[kc] = w.index.Descriptor(kc).String()
	}
	w.stage.Indexer.Merge(indexCS)
	w.stage.Chain.Merge(chainCS)

	log.Infof("Created %v %v wallet (watch only: %v)", net, ext.Type(),
		w.IsWatchOnly())

	return w, nil
}

// Network returns the network of the wallet.
func (w *Wallet) Network() netparams.Network {
	return w.network
}

// ChainParams returns the chain parameters of the wallet network.
func (w *Wallet) ChainParams() *chaincfg.Params {
	return w.params
}

// IsWatchOnly reports whether the wallet holds no private keys.
func (w *Wallet) IsWatchOnly() bool {
	return len(w.signers) == 0
}

// Balance returns the balance of the wallet under its balance policy.
func (w *Wallet) Balance() chainstate.Balance {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.store.Balance(w.index, w.policy)
}

// LatestCheckpoint returns the tip of the local chain.
func (w *Wallet) LatestCheckpoint() *chainstate.CheckPoint {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.store.Tip()
}

// PublicDescriptor returns the public descriptor text of kc.
func (w *Wallet) PublicDescriptor(kc keychain.KeychainKind) string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.index.Descriptor(kc).String()
}

// DerivationIndex returns the last revealed index of kc.
func (w *Wallet) DerivationIndex(kc keychain.KeychainKind) fn.Option[uint32] {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.index.LastRevealed(kc)
}

// LastUsedIndex returns the highest index of kc with chain activity.
func (w *Wallet) LastUsedIndex(kc keychain.KeychainKind) fn.Option[uint32] {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.index.LastUsed(kc)
}

// PeekAddress returns the address at index of kc without revealing it.
func (w *Wallet) PeekAddress(kc keychain.KeychainKind,
	index uint32) (*descriptor.Address, error) {

	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.index.Peek(kc, index)
}

// RevealNextAddress reveals and returns the next address of kc.
func (w *Wallet) RevealNextAddress(
	kc keychain.KeychainKind) (*descriptor.Address, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	addr, cs, err := w.index.RevealNext(kc)
	if err != nil {
		return nil, err
	}
	w.stage.Indexer.Merge(cs)

	return addr, nil
}

// RevealAddressesTo reveals every address of kc up to index and returns
// the newly revealed ones.
func (w *Wallet) RevealAddressesTo(kc keychain.KeychainKind,
	index uint32) ([]*descriptor.Address, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	addrs, cs, err := w.index.RevealTo(kc, index)
	if err != nil {
		return nil, err
	}
	w.stage.Indexer.Merge(cs)

	return addrs, nil
}

// NextUnusedAddress returns the lowest address of kc above the last used
// one, revealing it if needed.
func (w *Wallet) NextUnusedAddress(
	kc keychain.KeychainKind) (*descriptor.Address, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	addr, cs, err := w.index.NextUnused(kc)
	if err != nil {
		return nil, err
	}
	w.stage.Indexer.Merge(cs)

	return addr, nil
}

// ListUnusedAddresses returns the revealed addresses of kc without chain
// activity.
func (w *Wallet) ListUnusedAddresses(
	kc keychain.KeychainKind) ([]*descriptor.Address, error) {

	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.index.ListUnused(kc)
}

// IsMine reports whether script belongs to one of the wallet keychains.
func (w *Wallet) IsMine(script []byte) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, ok := w.index.Lookup(script)
	return ok
}

// ListUnspent returns the unspent outputs of the wallet.
func (w *Wallet) ListUnspent() []*chainstate.Output {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.store.Unspent(w.index)
}

// ListOutputs returns every output of the wallet, spent or not.
func (w *Wallet) ListOutputs() []*chainstate.Output {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.store.Outputs(w.index)
}

// Transactions returns the canonical transactions of the wallet with
// ancestors first.
func (w *Wallet) Transactions() []*chainstate.CanonicalTx {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.store.Transactions()
}

// GetTx returns the canonical transaction with txid.
func (w *Wallet) GetTx(txid chainhash.Hash) (*chainstate.CanonicalTx, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.store.Tx(txid)
}

// SentAndReceived returns the value tx spends from and pays to the wallet.
func (w *Wallet) SentAndReceived(tx *wire.MsgTx) (int64, int64) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var sent, received int64
	for _, in := range tx.TxIn {
		prev, ok := w.store.RawTx(in.PreviousOutPoint.Hash)
		if !ok || int(in.PreviousOutPoint.Index) >= len(prev.TxOut) {
			continue
		}
		out := prev.TxOut[in.PreviousOutPoint.Index]
		if _, ok := w.index.Lookup(out.PkScript); ok {
			sent += out.Value
		}
	}
	for _, out := range tx.TxOut {
		if _, ok := w.index.Lookup(out.PkScript); ok {
			received += out.Value
		}
	}

	return sent, received
}

// TakeStaged returns the changes made since the last call and resets the
// stage. It returns nil when nothing changed.
func (w *Wallet) TakeStaged() *changeset.ChangeSet {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stage.IsEmpty() {
		return nil
	}

	staged := w.stage
	w.stage = changeset.New()

	return staged
}
