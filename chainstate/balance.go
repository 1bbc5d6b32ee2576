// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/keychain"
)

// Balance splits the value of the wallet's unspent outputs by how safe they
// are to spend.
type Balance struct {
	// Immature is coinbase value that has not reached maturity.
	Immature btcutil.Amount

	// TrustedPending is unconfirmed value the wallet can rely on: change
	// it sent to itself, and external receipts when the policy trusts
	// them.
	TrustedPending btcutil.Amount

	// UntrustedPending is unconfirmed value received from others.
	UntrustedPending btcutil.Amount

	// Confirmed is mature confirmed value.
	Confirmed btcutil.Amount
}

// TrustedSpendable is confirmed plus trusted pending value.
func (b Balance) TrustedSpendable() btcutil.Amount {
	return b.Confirmed + b.TrustedPending
}

// Total is the sum of every category.
func (b Balance) Total() btcutil.Amount {
	return b.Immature + b.TrustedPending + b.UntrustedPending + b.Confirmed
}

// String returns a human readable breakdown.
func (b Balance) String() string {
	return fmt.Sprintf("confirmed=%v trusted_pending=%v "+
		"untrusted_pending=%v immature=%v", b.Confirmed,
		b.TrustedPending, b.UntrustedPending, b.Immature)
}

// BalancePolicy decides which unconfirmed outputs are trusted.
type BalancePolicy struct {
	// TrustUnconfirmedExternal counts unconfirmed outputs on external
	// scripts as trusted pending. By default only change is trusted.
	TrustUnconfirmedExternal bool
}

// IsTrusted reports whether the policy trusts an unconfirmed output.
func (p BalancePolicy) IsTrusted(out *Output) bool {
	return out.Keychain == keychain.Internal || p.TrustUnconfirmedExternal
}

// Balance sums the unspent outputs paying to idx.
func (s *Store) Balance(idx Indexer, policy BalancePolicy) Balance {
	var bal Balance
	for _, out := range s.Unspent(idx) {
		value := btcutil.Amount(out.TxOut.Value)

		switch {
		case !s.IsMature(out):
			bal.Immature += value

		case out.Position.IsConfirmed():
			bal.Confirmed += value

		case policy.IsTrusted(out):
			bal.TrustedPending += value

		default:
			bal.UntrustedPending += value
		}
	}

	return bal
}
