// Copyright (c) 2016-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txbuilder selects wallet outputs and assembles unsigned
// transactions paying a set of recipients at a target fee rate.
//
// Selection is deterministic: the outputs a caller must spend come first,
// then confirmed outputs and finally trusted unconfirmed outputs, each group
// in ascending outpoint order. Inputs are added one at a time until they pay
// for the recipients and the fee of the transaction as estimated by
// txsizes. Left over value becomes a change output when it clears the dust
// threshold of the change script, and is otherwise added to the fee.
package txbuilder

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// TxVersion is the version of built transactions.
	TxVersion = 2

	// InputSequence signals replaceability and enables the lock time.
	InputSequence = wire.MaxTxInSequenceNum - 2
)

// Recipient is an output paying Amount to PkScript.
type Recipient struct {
	PkScript []byte
	Amount   btcutil.Amount
}

// Request describes the transaction to build.
type Request struct {
	// Recipients are paid in order.
	Recipients []Recipient

	// FeeRate is the target fee rate. It is required.
	FeeRate fn.Option[btcunit.FeeRate]

	// MustSpend are outpoints that are spent regardless of need.
	MustSpend []wire.OutPoint

	// SpendAll spends every eligible output.
	SpendAll bool

	// DrainTo receives the change instead of a wallet change script.
	// Without recipients it turns the request into a sweep of every
	// eligible output.
	DrainTo fn.Option[[]byte]

	// AllowDust permits recipients below the dust threshold.
	AllowDust bool

	// LockTime is the lock time of the transaction, usually the current
	// tip height.
	LockTime uint32
}

// AuthoredTx holds a newly built unsigned transaction and the outputs it
// spends.
type AuthoredTx struct {
	Tx *wire.MsgTx

	// Inputs are the spent outputs in input order.
	Inputs []*chainstate.Output

	PrevScripts     [][]byte
	PrevInputValues []btcutil.Amount
	TotalInput      btcutil.Amount

	// Fee is the absolute fee paid by the transaction.
	Fee btcutil.Amount

	// VSize is the estimated virtual size once signed.
	VSize btcunit.VByte

	// ChangeIndex is the index of the change output, negative if there is
	// none.
	ChangeIndex int
}

// FeeRate returns the effective fee rate of the signed transaction.
func (a *AuthoredTx) FeeRate() btcunit.FeeRate {
	return btcunit.FeeRateFromFee(a.Fee, a.VSize)
}

// HasChange reports whether the transaction has a change output.
func (a *AuthoredTx) HasChange() bool {
	return a.ChangeIndex >= 0
}

// validate checks the request in a fixed order so callers get the same
// error for the same request.
func (r *Request) validate() (btcunit.FeeRate, error) {
	if len(r.Recipients) == 0 && r.DrainTo.IsNone() {
		return btcunit.FeeRate{}, walleterr.Errorf(
			walleterr.ErrNoRecipients,
			"Cannot build tx without recipients",
		)
	}

	feeRate, err := r.FeeRate.UnwrapOrErr(walleterr.Errorf(
		walleterr.ErrNoFeeRate, "fee rate is required",
	))
	if err != nil {
		return btcunit.FeeRate{}, err
	}

	for i, recipient := range r.Recipients {
		if recipient.Amount <= 0 {
			return btcunit.FeeRate{}, walleterr.Errorf(
				walleterr.ErrOutOfRange, "recipient %d "+
					"amount %d is not positive", i,
				int64(recipient.Amount),
			)
		}
		if err := btcunit.CheckAmount(recipient.Amount); err != nil {
			return btcunit.FeeRate{}, err
		}
	}

	if !r.AllowDust {
		for i, recipient := range r.Recipients {
			out := wire.NewTxOut(
				int64(recipient.Amount), recipient.PkScript,
			)
			if txrules.IsDustOutput(out,
				txrules.DefaultRelayFeePerKb) {

				return btcunit.FeeRate{}, walleterr.Errorf(
					walleterr.ErrOutputBelowDustLimit,
					"recipient %d amount %v is below the "+
						"dust limit", i,
					recipient.Amount,
				)
			}
		}
	}

	return feeRate, nil
}

// Build selects inputs from unspent and assembles the transaction described
// by req. Outputs for which eligible returns false are only spent when
// listed in req.MustSpend. changeScript receives the change unless
// req.DrainTo is set.
func Build(req *Request, unspent []*chainstate.Output,
	eligible func(*chainstate.Output) bool,
	changeScript []byte) (*AuthoredTx, error) {

	feeRate, err := req.validate()
	if err != nil {
		return nil, err
	}

	byOutPoint := make(map[wire.OutPoint]*chainstate.Output, len(unspent))
	for _, out := range unspent {
		byOutPoint[out.OutPoint] = out
	}

	mustSpend := make(map[wire.OutPoint]struct{}, len(req.MustSpend))
	required := make([]*chainstate.Output, 0, len(req.MustSpend))
	for _, op := range req.MustSpend {
		out, ok := byOutPoint[op]
		if !ok {
			return nil, walleterr.Errorf(walleterr.ErrUnknownUtxo,
				"outpoint %v is not an unspent wallet output",
				op)
		}
		if _, dup := mustSpend[op]; dup {
			continue
		}
		mustSpend[op] = struct{}{}
		required = append(required, out)
	}

	optional := make([]*chainstate.Output, 0, len(unspent))
	for _, out := range unspent {
		if _, ok := mustSpend[out.OutPoint]; ok || !eligible(out) {
			continue
		}
		optional = append(optional, out)
	}
	sortCandidates(optional)

	var (
		outputs = make([]*wire.TxOut, 0, len(req.Recipients)+1)
		target  btcutil.Amount
	)
	for _, recipient := range req.Recipients {
		outputs = append(outputs, wire.NewTxOut(
			int64(recipient.Amount), recipient.PkScript,
		))
		target += recipient.Amount
	}

	state := &inputState{
		feeRate:      feeRate,
		targetAmount: target,
		outputs:      outputs,
		change: wire.TxOut{
			PkScript: req.DrainTo.UnwrapOr(changeScript),
		},
	}
	state.add(required...)

	sweep := req.SpendAll ||
		len(req.Recipients) == 0 && req.DrainTo.IsSome()
	if sweep {
		state.add(optional...)
	} else {
		for _, out := range optional {
			if state.enoughInput() {
				break
			}
			state.add(out)
		}
	}

	if !state.enoughInput() {
		return nil, &walleterr.InsufficientFundsError{
			Needed:    state.targetAmount + state.feeFor(false),
			Available: state.inputTotal,
		}
	}

	return assemble(req, state), nil
}

// sortCandidates orders confirmed outputs before unconfirmed ones, each by
// ascending outpoint.
func sortCandidates(outs []*chainstate.Output) {
	sort.SliceStable(outs, func(i, j int) bool {
		ci := outs[i].Position.IsConfirmed()
		cj := outs[j].Position.IsConfirmed()
		if ci != cj {
			return ci
		}

		a, b := outs[i].OutPoint, outs[j].OutPoint
		for k := range a.Hash {
			if a.Hash[k] != b.Hash[k] {
				return a.Hash[k] < b.Hash[k]
			}
		}

		return a.Index < b.Index
	})
}

// assemble creates the unsigned transaction of a funded selection.
func assemble(req *Request, state *inputState) *AuthoredTx {
	tx := wire.NewMsgTx(TxVersion)
	tx.LockTime = req.LockTime

	numInputs := len(state.inputs)
	authored := &AuthoredTx{
		Tx:              tx,
		Inputs:          state.inputs,
		PrevScripts:     make([][]byte, 0, numInputs),
		PrevInputValues: make([]btcutil.Amount, 0, numInputs),
		TotalInput:      state.inputTotal,
		ChangeIndex:     -1,
	}

	for _, input := range state.inputs {
		txIn := wire.NewTxIn(&input.OutPoint, nil, nil)
		txIn.Sequence = InputSequence
		tx.AddTxIn(txIn)

		authored.PrevScripts = append(
			authored.PrevScripts, input.TxOut.PkScript,
		)
		authored.PrevInputValues = append(
			authored.PrevInputValues,
			btcutil.Amount(input.TxOut.Value),
		)
	}

	var totalOutput btcutil.Amount
	for _, out := range state.outputs {
		tx.AddTxOut(out)
		totalOutput += btcutil.Amount(out.Value)
	}

	// Default is no change output, with the excess going to the fee.
	hasChange := state.hasChange()
	if hasChange {
		change := state.change
		authored.ChangeIndex = len(tx.TxOut)
		tx.AddTxOut(&change)
		totalOutput += btcutil.Amount(change.Value)
	}

	authored.Fee = state.inputTotal - totalOutput
	authored.VSize = btcunit.NewVByte(
		uint64(state.virtualSize(hasChange)),
	)

	log.Debugf("Built tx %v: inputs=%d outputs=%d fee=%v change=%v",
		tx.TxHash(), numInputs, len(tx.TxOut), authored.Fee,
		hasChange)

	return authored
}
