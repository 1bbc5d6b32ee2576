// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/pkg/btcunit"
)

// AmountFlag is a bitcoin amount config field. Values are written in BTC,
// with an optional " BTC" suffix, and are range checked.
type AmountFlag struct {
	btcutil.Amount
}

// NewAmountFlag creates an AmountFlag with a default amount.
func NewAmountFlag(defaultValue btcutil.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return a.Amount.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSpace(strings.TrimSuffix(value, " BTC"))
	btc, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	amount, err := btcunit.AmountFromBTC(btc)
	if err != nil {
		return err
	}
	a.Amount = amount
	return nil
}

// FeeRateFlag is a fee rate config field written in whole sat/vB, with an
// optional " sat/vB" suffix.
type FeeRateFlag struct {
	btcunit.FeeRate
}

// NewFeeRateFlag creates a FeeRateFlag with a default rate.
func NewFeeRateFlag(defaultValue btcunit.FeeRate) *FeeRateFlag {
	return &FeeRateFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (f *FeeRateFlag) MarshalFlag() (string, error) {
	return strconv.FormatUint(f.SatPerVByte(), 10), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (f *FeeRateFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSpace(strings.TrimSuffix(value, " sat/vB"))
	satPerVByte, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return err
	}
	rate, err := btcunit.NewFeeRate(satPerVByte)
	if err != nil {
		return err
	}
	f.FeeRate = rate
	return nil
}
