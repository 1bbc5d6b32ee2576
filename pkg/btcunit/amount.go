// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides a set of types for dealing with bitcoin units:
// validated satoshi amounts, integer fee rates and transaction size units.
package btcunit

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/walleterr"
)

// AmountFromSat returns the amount of sat satoshis. Negative values and
// values above the total supply fail with walleterr.ErrOutOfRange.
func AmountFromSat(sat int64) (btcutil.Amount, error) {
	if sat < 0 {
		return 0, walleterr.Errorf(walleterr.ErrOutOfRange,
			"amount %d sat is negative", sat)
	}
	if sat > btcutil.MaxSatoshi {
		return 0, walleterr.Errorf(walleterr.ErrOutOfRange,
			"amount %d sat exceeds max of %d sat", sat,
			int64(btcutil.MaxSatoshi))
	}

	return btcutil.Amount(sat), nil
}

// AmountFromBTC converts a value in whole bitcoin to an amount, rounding to
// the nearest satoshi, with the same bounds as AmountFromSat.
func AmountFromBTC(btc float64) (btcutil.Amount, error) {
	amt, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0, walleterr.New(walleterr.ErrOutOfRange,
			"invalid bitcoin amount", err)
	}

	return AmountFromSat(int64(amt))
}

// CheckAmount validates an amount obtained from elsewhere, such as a decoded
// transaction output.
func CheckAmount(amt btcutil.Amount) error {
	_, err := AmountFromSat(int64(amt))
	return err
}

// SumAmounts adds the given amounts, failing with walleterr.ErrOutOfRange as
// soon as an operand or the running total leaves the valid range. Since every
// operand is bounded by the total supply the running sum cannot overflow
// int64 before the check trips.
func SumAmounts(amts ...btcutil.Amount) (btcutil.Amount, error) {
	var total btcutil.Amount
	for _, amt := range amts {
		if err := CheckAmount(amt); err != nil {
			return 0, err
		}

		total += amt
		if total > btcutil.MaxSatoshi {
			return 0, walleterr.Errorf(walleterr.ErrOutOfRange,
				"sum %d sat exceeds max of %d sat",
				int64(total), int64(btcutil.MaxSatoshi))
		}
	}

	return total, nil
}
