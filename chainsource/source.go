// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainsource turns the answers of a blockchain data service into
// wallet updates. The wallet describes what it wants to know in a request,
// the scanner queries a Backend with bounded parallelism, and the result is
// an Update the wallet applies without further network access.
package chainsource

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// TxStatus is the chain position of a transaction as known by a backend.
type TxStatus struct {
	Txid chainhash.Hash

	// Block is the confirming block, None while unconfirmed.
	Block fn.Option[chainstate.BlockID]

	// InMempool is set for unconfirmed transactions the backend still
	// relays.
	InMempool bool
}

// Known reports whether the backend knows the transaction.
func (s TxStatus) Known() bool {
	return s.Block.IsSome() || s.InMempool
}

// Backend is a blockchain data service.
type Backend interface {
	// TipBlock returns the backend's best block.
	TipBlock(ctx context.Context) (chainstate.BlockID, error)

	// BlockHash returns the hash of the best chain block at height.
	BlockHash(ctx context.Context, height uint32) (chainhash.Hash, error)

	// ScriptHistory returns every known transaction that pays to or
	// spends from script.
	ScriptHistory(ctx context.Context, script []byte) ([]TxStatus, error)

	// TxStatus returns the status of txid. Unknown transactions return a
	// status that is not Known.
	TxStatus(ctx context.Context, txid chainhash.Hash) (TxStatus, error)

	// Tx returns the full transaction.
	Tx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)

	// Broadcast submits tx to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) error

	// EstimateFee returns the fee rate expected to confirm within
	// target blocks.
	EstimateFee(ctx context.Context, target uint32) (btcunit.FeeRate,
		error)
}

// ScriptSource derives the output script at an index of a keychain.
type ScriptSource func(index uint32) ([]byte, error)

// FullScanRequest asks for every transaction of a set of keychains,
// scanning each until a run of unused scripts.
type FullScanRequest struct {
	// Tip is the wallet's local chain.
	Tip *chainstate.CheckPoint

	// Keychains derive the scripts to scan.
	Keychains map[keychain.KeychainKind]ScriptSource
}

// SyncRequest asks for the current state of known scripts and
// transactions.
type SyncRequest struct {
	// Tip is the wallet's local chain.
	Tip *chainstate.CheckPoint

	// Scripts are the revealed scripts of the wallet.
	Scripts [][]byte

	// Txids are the wallet's unconfirmed transactions, checked for
	// confirmation or eviction.
	Txids []chainhash.Hash
}

// Update is the result of a scan, ready to be applied to a wallet.
type Update struct {
	chainstate.Update

	// LastActiveIndices is the highest index with history per keychain,
	// as found by a full scan.
	LastActiveIndices map[keychain.KeychainKind]uint32
}

// Source produces wallet updates.
type Source interface {
	// FullScan discovers the history of every keychain in req, stopping
	// after stopGap consecutive unused scripts.
	FullScan(ctx context.Context, req *FullScanRequest, stopGap uint32,
		parallel int) (*Update, error)

	// Sync refreshes the scripts and transactions in req.
	Sync(ctx context.Context, req *SyncRequest, parallel int) (*Update,
		error)
}
