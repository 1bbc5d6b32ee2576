// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaintest provides an in-memory chain backend for tests.
package chaintest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chainsource"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrNotFound is returned for unknown transactions and heights.
var ErrNotFound = errors.New("not found")

// Backend is a chainsource.Backend over an in-memory block chain and
// mempool. It is safe for concurrent use.
type Backend struct {
	mu sync.Mutex

	blocks    []chainhash.Hash
	txs       map[chainhash.Hash]*wire.MsgTx
	confirmed map[chainhash.Hash]uint32
	mempool   map[chainhash.Hash]struct{}
	nonce     int

	feeRate   btcunit.FeeRate
	fail      error
	broadcast []*wire.MsgTx
	queries   int
}

// A compile-time assertion to ensure Backend meets the chainsource.Backend
// interface.
var _ chainsource.Backend = (*Backend)(nil)

// NewBackend returns a backend holding the genesis block of params.
func NewBackend(params *chaincfg.Params) *Backend {
	rate, _ := btcunit.NewFeeRate(1)

	return &Backend{
		blocks:    []chainhash.Hash{*params.GenesisHash},
		txs:       make(map[chainhash.Hash]*wire.MsgTx),
		confirmed: make(map[chainhash.Hash]uint32),
		mempool:   make(map[chainhash.Hash]struct{}),
		feeRate:   rate,
	}
}

// AddMempoolTx makes tx known as unconfirmed.
func (b *Backend) AddMempoolTx(tx *wire.MsgTx) {
	b.mu.Lock()
	defer b.mu.Unlock()

	txid := tx.TxHash()
	b.txs[txid] = tx
	b.mempool[txid] = struct{}{}
}

// Mine appends a block confirming txs and returns it.
func (b *Backend) Mine(txs ...*wire.MsgTx) chainstate.BlockID {
	b.mu.Lock()
	defer b.mu.Unlock()

	height := uint32(len(b.blocks))
	b.nonce++
	hash := chainhash.HashH([]byte(fmt.Sprintf("%d/%d", height, b.nonce)))
	b.blocks = append(b.blocks, hash)

	for _, tx := range txs {
		txid := tx.TxHash()
		b.txs[txid] = tx
		b.confirmed[txid] = height
		delete(b.mempool, txid)
	}

	return chainstate.BlockID{Height: height, Hash: hash}
}

// MineEmpty appends n empty blocks.
func (b *Backend) MineEmpty(n int) chainstate.BlockID {
	var tip chainstate.BlockID
	for i := 0; i < n; i++ {
		tip = b.Mine()
	}

	return tip
}

// Rewind removes every block above height. Transactions confirmed in those
// blocks return to the mempool when toMempool is set and are forgotten
// otherwise.
func (b *Backend) Rewind(height uint32, toMempool bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if int(height) >= len(b.blocks) {
		return
	}
	b.blocks = b.blocks[:height+1]

	for txid, h := range b.confirmed {
		if h <= height {
			continue
		}
		delete(b.confirmed, txid)
		if toMempool {
			b.mempool[txid] = struct{}{}
		} else {
			delete(b.txs, txid)
		}
	}
}

// DropFromMempool forgets an unconfirmed transaction.
func (b *Backend) DropFromMempool(txid chainhash.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.mempool[txid]; ok {
		delete(b.mempool, txid)
		delete(b.txs, txid)
	}
}

// SetFailure makes every query fail with err until it is reset with nil.
func (b *Backend) SetFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fail = err
}

// SetFeeRate sets the rate returned by EstimateFee.
func (b *Backend) SetFeeRate(rate btcunit.FeeRate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.feeRate = rate
}

// Broadcasted returns the transactions submitted through Broadcast.
func (b *Backend) Broadcasted() []*wire.MsgTx {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]*wire.MsgTx(nil), b.broadcast...)
}

// Queries returns the number of queries served.
func (b *Backend) Queries() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.queries
}

// check counts a query and returns the error it should fail with. The
// caller must hold the lock.
func (b *Backend) check(ctx context.Context) error {
	b.queries++

	if err := ctx.Err(); err != nil {
		return err
	}

	return b.fail
}

func (b *Backend) status(txid chainhash.Hash) chainsource.TxStatus {
	status := chainsource.TxStatus{Txid: txid}
	if h, ok := b.confirmed[txid]; ok {
		status.Block = fn.Some(chainstate.BlockID{
			Height: h, Hash: b.blocks[h],
		})
	} else if _, ok := b.mempool[txid]; ok {
		status.InMempool = true
	}

	return status
}

// TipBlock implements chainsource.Backend.
func (b *Backend) TipBlock(ctx context.Context) (chainstate.BlockID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(ctx); err != nil {
		return chainstate.BlockID{}, err
	}

	height := uint32(len(b.blocks) - 1)
	return chainstate.BlockID{Height: height, Hash: b.blocks[height]}, nil
}

// BlockHash implements chainsource.Backend.
func (b *Backend) BlockHash(ctx context.Context,
	height uint32) (chainhash.Hash, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(ctx); err != nil {
		return chainhash.Hash{}, err
	}

	if int(height) >= len(b.blocks) {
		return chainhash.Hash{}, ErrNotFound
	}

	return b.blocks[height], nil
}

// ScriptHistory implements chainsource.Backend.
func (b *Backend) ScriptHistory(ctx context.Context,
	script []byte) ([]chainsource.TxStatus, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(ctx); err != nil {
		return nil, err
	}

	pays := func(tx *wire.MsgTx) bool {
		for _, out := range tx.TxOut {
			if bytes.Equal(out.PkScript, script) {
				return true
			}
		}
		return false
	}

	var history []chainsource.TxStatus
	for txid, tx := range b.txs {
		touches := pays(tx)
		for _, in := range tx.TxIn {
			prev, ok := b.txs[in.PreviousOutPoint.Hash]
			if !ok || int(in.PreviousOutPoint.Index) >= len(prev.TxOut) {
				continue
			}
			out := prev.TxOut[in.PreviousOutPoint.Index]
			if bytes.Equal(out.PkScript, script) {
				touches = true
			}
		}
		if touches {
			history = append(history, b.status(txid))
		}
	}

	return history, nil
}

// TxStatus implements chainsource.Backend.
func (b *Backend) TxStatus(ctx context.Context,
	txid chainhash.Hash) (chainsource.TxStatus, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(ctx); err != nil {
		return chainsource.TxStatus{}, err
	}

	return b.status(txid), nil
}

// Tx implements chainsource.Backend.
func (b *Backend) Tx(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(ctx); err != nil {
		return nil, err
	}

	tx, ok := b.txs[txid]
	if !ok {
		return nil, ErrNotFound
	}

	return tx, nil
}

// Broadcast implements chainsource.Backend. Broadcast transactions enter
// the mempool.
func (b *Backend) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(ctx); err != nil {
		return err
	}

	txid := tx.TxHash()
	b.txs[txid] = tx
	b.mempool[txid] = struct{}{}
	b.broadcast = append(b.broadcast, tx)

	return nil
}

// EstimateFee implements chainsource.Backend.
func (b *Backend) EstimateFee(ctx context.Context,
	_ uint32) (btcunit.FeeRate, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(ctx); err != nil {
		return btcunit.FeeRate{}, err
	}

	return b.feeRate, nil
}
