// Copyright (c) 2016-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/pkg/btcunit"
)

// inputState holds the current state of the transaction including all inputs
// which were selected so far.
type inputState struct {
	// feeRate is the feerate which is used for fee calculation.
	feeRate btcunit.FeeRate

	// txFee is the fee of the current transaction state without a change
	// output.
	txFee btcutil.Amount

	// inputTotal is the total value of all selected inputs.
	inputTotal btcutil.Amount

	// targetAmount is the amount we want to fund with the transaction
	// not including the change.
	targetAmount btcutil.Amount

	// change is the change output of the transaction: what is left over
	// after subtracting the targetAmount and the fee of a transaction
	// that has a change output.
	//
	// NOTE: This value might be below the dust limit, or even negative.
	change wire.TxOut

	// inputs are the selected outputs, in selection order.
	inputs []*chainstate.Output

	// outputs are the recipient outputs, not including the change.
	//
	// NOTE: This is empty when draining the wallet.
	outputs []*wire.TxOut
}

// virtualSize is the worst case vsize of the transaction with the current
// set of inputs, with or without a change output.
func (s *inputState) virtualSize(change bool) int {
	var nested, p2wpkh, p2tr, p2pkh int
	for _, input := range s.inputs {
		pkScript := input.TxOut.PkScript
		switch {
		// A p2sh output of this wallet is always a nested p2wpkh.
		case txscript.IsPayToScriptHash(pkScript):
			nested++
		case txscript.IsPayToWitnessPubKeyHash(pkScript):
			p2wpkh++
		case txscript.IsPayToTaproot(pkScript):
			p2tr++
		default:
			p2pkh++
		}
	}

	var changeScriptSize int
	if change {
		changeScriptSize = len(s.change.PkScript)
	}

	return txsizes.EstimateVirtualSize(
		p2pkh, p2tr, p2wpkh, nested, s.outputs, changeScriptSize,
	)
}

// feeFor returns the fee of the current selection at the state's rate.
func (s *inputState) feeFor(change bool) btcutil.Amount {
	vsize := btcunit.NewVByte(uint64(s.virtualSize(change)))
	return s.feeRate.FeeForVSize(vsize)
}

// hasChange reports whether the change output clears the dust threshold.
func (s *inputState) hasChange() bool {
	return !txrules.IsDustOutput(&s.change, txrules.DefaultRelayFeePerKb)
}

// enoughInput returns true if we've accumulated enough inputs to pay the
// fees and have at least one output that meets the dust limit.
func (s *inputState) enoughInput() bool {
	// If we have a change output above dust, then we certainly have
	// enough inputs to the transaction.
	if s.hasChange() {
		return true
	}

	// Otherwise check whether the inputs pay for a transaction with no
	// change output, which needs at least one recipient.
	s.txFee = s.feeFor(false)
	if s.inputTotal < s.targetAmount+s.txFee {
		return false
	}

	return len(s.outputs) > 0
}

// add appends inputs to the selection and recomputes the change.
func (s *inputState) add(inputs ...*chainstate.Output) {
	for _, input := range inputs {
		s.inputs = append(s.inputs, input)
		s.inputTotal += btcutil.Amount(input.TxOut.Value)
	}

	s.change.Value = int64(s.inputTotal - s.targetAmount - s.feeFor(true))
}
