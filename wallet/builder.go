// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/txbuilder"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// TxBuilder collects the parameters of a transaction spending wallet
// outputs. Setters return the builder so calls can be chained. Nothing is
// validated before Finish.
type TxBuilder struct {
	w *Wallet

	req              txbuilder.Request
	unspendable      map[wire.OutPoint]struct{}
	spendUnconfirmed bool
}

// BuildTx returns a builder for a transaction funded by the wallet.
func (w *Wallet) BuildTx() *TxBuilder {
	return &TxBuilder{
		w:                w,
		unspendable:      make(map[wire.OutPoint]struct{}),
		spendUnconfirmed: true,
	}
}

// AddRecipient adds an output paying amount to script.
func (b *TxBuilder) AddRecipient(script []byte,
	amount btcutil.Amount) *TxBuilder {

	b.req.Recipients = append(b.req.Recipients, txbuilder.Recipient{
		PkScript: script,
		Amount:   amount,
	})
	return b
}

// SetRecipients replaces the recipients.
func (b *TxBuilder) SetRecipients(recipients []txbuilder.Recipient) *TxBuilder {
	b.req.Recipients = append([]txbuilder.Recipient(nil), recipients...)
	return b
}

// FeeRate sets the target fee rate.
func (b *TxBuilder) FeeRate(rate btcunit.FeeRate) *TxBuilder {
	b.req.FeeRate = fn.Some(rate)
	return b
}

// AddUtxos adds outputs that must be spent.
func (b *TxBuilder) AddUtxos(outpoints ...wire.OutPoint) *TxBuilder {
	b.req.MustSpend = append(b.req.MustSpend, outpoints...)
	return b
}

// AddUnspendable excludes outputs from selection.
func (b *TxBuilder) AddUnspendable(outpoints ...wire.OutPoint) *TxBuilder {
	for _, op := range outpoints {
		b.unspendable[op] = struct{}{}
	}
	return b
}

// Unspendable replaces the excluded outputs.
func (b *TxBuilder) Unspendable(outpoints []wire.OutPoint) *TxBuilder {
	b.unspendable = make(map[wire.OutPoint]struct{}, len(outpoints))
	return b.AddUnspendable(outpoints...)
}

// DrainWallet spends every eligible output.
func (b *TxBuilder) DrainWallet() *TxBuilder {
	b.req.SpendAll = true
	return b
}

// DrainTo sends the change to script instead of the internal keychain.
// Without recipients the transaction sweeps the wallet to script.
func (b *TxBuilder) DrainTo(script []byte) *TxBuilder {
	b.req.DrainTo = fn.Some(script)
	return b
}

// AllowDust permits recipients below the dust threshold.
func (b *TxBuilder) AllowDust(allow bool) *TxBuilder {
	b.req.AllowDust = allow
	return b
}

// SpendUnconfirmed sets whether trusted unconfirmed outputs may be
// selected. It defaults to true.
func (b *TxBuilder) SpendUnconfirmed(spend bool) *TxBuilder {
	b.spendUnconfirmed = spend
	return b
}

// eligible reports whether out may be selected. The caller holds the wallet
// lock.
func (b *TxBuilder) eligible(out *chainstate.Output) bool {
	if _, ok := b.unspendable[out.OutPoint]; ok {
		return false
	}
	if !b.w.store.IsMature(out) {
		return false
	}
	if out.Position.IsConfirmed() {
		return true
	}

	return b.spendUnconfirmed && b.w.policy.IsTrusted(out)
}

// Finish selects inputs and returns the unsigned transaction. The internal
// change address is revealed only when the transaction has a change output
// paying to it. The wallet is unchanged when an error is returned.
func (b *TxBuilder) Finish() (*UnsignedTx, error) {
	w := b.w

	w.mu.Lock()
	defer w.mu.Unlock()

	// Change goes to a newly revealed internal address, so transactions
	// built before the next sync never share a change script. The reveal
	// happens on a clone until we know it is needed.
	index := w.index.Clone()
	change, changeCS, err := index.RevealNext(keychain.Internal)
	if err != nil {
		return nil, err
	}

	req := b.req
	req.LockTime = w.store.Tip().Height()

	authored, err := txbuilder.Build(
		&req, w.store.Unspent(w.index), b.eligible, change.Script,
	)
	if err != nil {
		return nil, err
	}

	unsigned := &UnsignedTx{
		AuthoredTx: authored,
		PrevTxs:    make([]*wire.MsgTx, len(authored.Inputs)),
		descriptors: map[keychain.KeychainKind]*descriptor.Descriptor{
			keychain.External: w.index.Descriptor(keychain.External),
			keychain.Internal: w.index.Descriptor(keychain.Internal),
		},
	}
	for i, in := range authored.Inputs {
		unsigned.PrevTxs[i], _ = w.store.RawTx(in.OutPoint.Hash)
	}

	if authored.HasChange() && req.DrainTo.IsNone() {
		unsigned.Change = fn.Some(keychain.ScriptRef{
			Keychain: keychain.Internal,
			Index:    change.Index,
		})
		w.index = index
		w.stage.Indexer.Merge(changeCS)
	}

	log.Infof("Built transaction %v spending %d %s, fee %v at %v",
		authored.Tx.TxHash(), len(authored.Inputs),
		pickNoun(len(authored.Inputs), "output", "outputs"),
		authored.Fee, authored.FeeRate())

	return unsigned, nil
}

// UnsignedTx is a funded transaction waiting for signatures.
type UnsignedTx struct {
	*txbuilder.AuthoredTx

	// PrevTxs are the transactions creating the spent outputs, in input
	// order.
	PrevTxs []*wire.MsgTx

	// Change locates the wallet change output, if any. A change output
	// paying to a drain script is not a wallet output.
	Change fn.Option[keychain.ScriptRef]

	descriptors map[keychain.KeychainKind]*descriptor.Descriptor
}
