// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"fmt"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/walleterr"
)

const (
	// SatsPerKilo is the number of satoshis in a kilo-satoshi.
	SatsPerKilo = 1000

	// kwuPerVByte is the number of sat/kwu in a rate of one sat/vB.
	kwuPerVByte = SatsPerKilo / blockchain.WitnessScaleFactor

	// MaxSatPerVByte bounds fee rates so that the per-kvB rate is itself a
	// valid amount.
	MaxSatPerVByte = uint64(btcutil.MaxSatoshi) / SatsPerKilo
)

// FeeRate is an exact fee rate, stored as satoshis per 1000 weight units.
// Every whole sat/vB rate is representable without loss.
type FeeRate struct {
	satPerKWU uint64
}

// DefaultRelayFeeRate is the default minimum relay fee rate of 1 sat/vB, the
// same policy as txrules.DefaultRelayFeePerKb.
var DefaultRelayFeeRate = FeeRate{satPerKWU: kwuPerVByte}

// NewFeeRate returns the fee rate of satPerVByte sat/vB. Rates above
// MaxSatPerVByte fail with walleterr.ErrOutOfRange.
func NewFeeRate(satPerVByte uint64) (FeeRate, error) {
	if satPerVByte > MaxSatPerVByte {
		return FeeRate{}, walleterr.Errorf(walleterr.ErrOutOfRange,
			"fee rate %d sat/vB exceeds max of %d sat/vB",
			satPerVByte, MaxSatPerVByte)
	}

	return FeeRate{satPerKWU: satPerVByte * kwuPerVByte}, nil
}

// FeeRateFromSatPerKWU returns the fee rate of satPerKWU sat/kwu.
func FeeRateFromSatPerKWU(satPerKWU uint64) (FeeRate, error) {
	if satPerKWU > MaxSatPerVByte*kwuPerVByte {
		return FeeRate{}, walleterr.Errorf(walleterr.ErrOutOfRange,
			"fee rate %d sat/kwu out of range", satPerKWU)
	}

	return FeeRate{satPerKWU: satPerKWU}, nil
}

// FeeRateFromFee returns the rate paid by a transaction of the given virtual
// size paying fee, rounded down to the nearest sat/kwu.
func FeeRateFromFee(fee btcutil.Amount, vb VByte) FeeRate {
	wu := vb.ToWU().Uint64()
	if wu == 0 || fee <= 0 {
		return FeeRate{}
	}

	rate := new(big.Int).Mul(
		big.NewInt(int64(fee)), big.NewInt(SatsPerKilo),
	)
	rate.Quo(rate, new(big.Int).SetUint64(wu))

	return FeeRate{satPerKWU: rate.Uint64()}
}

// SatPerKWU returns the rate in sat/kwu.
func (r FeeRate) SatPerKWU() uint64 {
	return r.satPerKWU
}

// SatPerVByte returns the rate in sat/vB, rounded down.
func (r FeeRate) SatPerVByte() uint64 {
	return r.satPerKWU / kwuPerVByte
}

// SatPerKVByte returns the rate in sat/kvB, the unit the relay and dust rules
// are expressed in.
func (r FeeRate) SatPerKVByte() btcutil.Amount {
	return btcutil.Amount(r.satPerKWU * blockchain.WitnessScaleFactor)
}

// IsZero reports whether the rate is zero.
func (r FeeRate) IsZero() bool {
	return r.satPerKWU == 0
}

// FeeForWeight returns the fee for wu weight units at this rate, rounded up
// to the next satoshi.
func (r FeeRate) FeeForWeight(wu WeightUnit) btcutil.Amount {
	fee := new(big.Int).Mul(
		new(big.Int).SetUint64(r.satPerKWU),
		new(big.Int).SetUint64(wu.Uint64()),
	)
	fee.Add(fee, big.NewInt(SatsPerKilo-1))
	fee.Quo(fee, big.NewInt(SatsPerKilo))

	if !fee.IsInt64() {
		return btcutil.Amount(math.MaxInt64)
	}

	return btcutil.Amount(fee.Int64())
}

// FeeForVSize returns the fee for vb virtual bytes at this rate, rounded up to
// the next satoshi. For whole sat/vB rates this is exactly rate * vb.
func (r FeeRate) FeeForVSize(vb VByte) btcutil.Amount {
	return r.FeeForWeight(vb.ToWU())
}

// String returns a human-readable string of the fee rate.
func (r FeeRate) String() string {
	whole := r.satPerKWU / kwuPerVByte
	frac := r.satPerKWU % kwuPerVByte
	if frac == 0 {
		return fmt.Sprintf("%d sat/vb", whole)
	}

	// One sat/kwu is 0.004 sat/vB.
	return fmt.Sprintf("%d.%03d sat/vb", whole, frac*4)
}
