package txbuilder

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func p2wpkhScript(seed byte) []byte {
	return append([]byte{0x00, 0x14}, bytes.Repeat([]byte{seed}, 20)...)
}

var (
	walletScript = p2wpkhScript(1)
	changeScript = p2wpkhScript(2)
	payScript    = p2wpkhScript(3)
)

func coin(hashByte byte, value int64, confirmed bool,
	kc keychain.KeychainKind) *chainstate.Output {

	out := &chainstate.Output{
		OutPoint:  wire.OutPoint{Hash: chainhash.Hash{hashByte}},
		TxOut:     wire.NewTxOut(value, walletScript),
		ScriptRef: keychain.ScriptRef{Keychain: kc},
	}
	if confirmed {
		out.Position.Block = fn.Some(chainstate.BlockID{Height: 1})
	}

	return out
}

// trusted is the default eligibility: confirmed or change.
func trusted(out *chainstate.Output) bool {
	return out.Position.IsConfirmed() ||
		out.Keychain == keychain.Internal
}

func feeRate(t require.TestingT, satPerVB uint64) fn.Option[btcunit.FeeRate] {
	rate, err := btcunit.NewFeeRate(satPerVB)
	require.NoError(t, err)

	return fn.Some(rate)
}

func pay(amount btcutil.Amount) []Recipient {
	return []Recipient{{PkScript: payScript, Amount: amount}}
}

// TestBuildErrors checks the request errors and their precedence.
func TestBuildErrors(t *testing.T) {
	t.Parallel()

	coins := []*chainstate.Output{coin(1, 50_000, true, keychain.External)}

	tests := []struct {
		name string
		req  *Request
		code walleterr.ErrorCode
	}{{
		name: "no recipients before no fee rate",
		req:  &Request{},
		code: walleterr.ErrNoRecipients,
	}, {
		name: "no fee rate",
		req:  &Request{Recipients: pay(1_000)},
		code: walleterr.ErrNoFeeRate,
	}, {
		name: "zero amount",
		req: &Request{
			Recipients: pay(0),
			FeeRate:    feeRate(t, 1),
		},
		code: walleterr.ErrOutOfRange,
	}, {
		name: "above max money",
		req: &Request{
			Recipients: pay(btcutil.MaxSatoshi + 1),
			FeeRate:    feeRate(t, 1),
		},
		code: walleterr.ErrOutOfRange,
	}, {
		name: "dust before unknown utxo",
		req: &Request{
			Recipients: pay(100),
			FeeRate:    feeRate(t, 1),
			MustSpend:  []wire.OutPoint{{Index: 9}},
		},
		code: walleterr.ErrOutputBelowDustLimit,
	}, {
		name: "unknown utxo",
		req: &Request{
			Recipients: pay(1_000),
			FeeRate:    feeRate(t, 1),
			MustSpend:  []wire.OutPoint{{Index: 9}},
		},
		code: walleterr.ErrUnknownUtxo,
	}, {
		name: "insufficient funds",
		req: &Request{
			Recipients: pay(60_000),
			FeeRate:    feeRate(t, 1),
		},
		code: walleterr.ErrInsufficientFunds,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			_, err := Build(test.req, coins, trusted, changeScript)
			code, ok := walleterr.Code(err)
			require.True(t, ok, "error %v", err)
			require.Equal(t, test.code, code)
		})
	}

	_, err := Build(&Request{}, nil, trusted, changeScript)
	require.EqualError(t, err, "Cannot build tx without recipients")

	// Dust is accepted on request.
	_, err = Build(&Request{
		Recipients: pay(100),
		FeeRate:    feeRate(t, 1),
		AllowDust:  true,
	}, coins, trusted, changeScript)
	require.NoError(t, err)
}

// TestInsufficientFunds checks the amounts reported by the error.
func TestInsufficientFunds(t *testing.T) {
	t.Parallel()

	rate := feeRate(t, 2)
	recipients := pay(50_000)
	outs := []*wire.TxOut{wire.NewTxOut(50_000, payScript)}

	coins := []*chainstate.Output{
		coin(1, 10_000, true, keychain.External),
		coin(2, 10_000, true, keychain.External),
		// Untrusted and not selectable.
		coin(3, 90_000, false, keychain.External),
	}

	_, err := Build(&Request{Recipients: recipients, FeeRate: rate}, coins,
		trusted, changeScript)

	var fundsErr *walleterr.InsufficientFundsError
	require.True(t, errors.As(err, &fundsErr))

	vsize := txsizes.EstimateVirtualSize(0, 0, 2, 0, outs, 0)
	fee := rate.UnsafeFromSome().FeeForVSize(btcunit.NewVByte(
		uint64(vsize),
	))
	require.Equal(t, btcutil.Amount(50_000)+fee, fundsErr.Needed)
	require.Equal(t, btcutil.Amount(20_000), fundsErr.Available)

	// An empty wallet needs the amount and the fee of a transaction
	// without inputs.
	_, err = Build(&Request{Recipients: recipients, FeeRate: rate}, nil,
		trusted, changeScript)
	require.True(t, errors.As(err, &fundsErr))

	vsize = txsizes.EstimateVirtualSize(0, 0, 0, 0, outs, 0)
	fee = rate.UnsafeFromSome().FeeForVSize(btcunit.NewVByte(
		uint64(vsize),
	))
	require.Equal(t, btcutil.Amount(50_000)+fee, fundsErr.Needed)
	require.Zero(t, fundsErr.Available)
}

// TestSelectionOrder checks that confirmed outputs are selected first in
// outpoint order and that change is appended last.
func TestSelectionOrder(t *testing.T) {
	t.Parallel()

	a := coin(2, 30_000, true, keychain.External)
	b := coin(1, 30_000, true, keychain.External)
	c := coin(0, 100_000, false, keychain.Internal)

	authored, err := Build(&Request{
		Recipients: pay(40_000),
		FeeRate:    feeRate(t, 1),
		LockTime:   840_000,
	}, []*chainstate.Output{a, b, c}, trusted, changeScript)
	require.NoError(t, err)

	tx := authored.Tx
	require.Equal(t, []*chainstate.Output{b, a}, authored.Inputs)
	require.Equal(t, int32(TxVersion), tx.Version)
	require.Equal(t, uint32(840_000), tx.LockTime)
	for _, in := range tx.TxIn {
		require.Equal(t, uint32(InputSequence), in.Sequence)
	}

	require.Len(t, tx.TxOut, 2)
	require.Equal(t, 1, authored.ChangeIndex)
	require.True(t, authored.HasChange())
	require.Equal(t, payScript, tx.TxOut[0].PkScript)
	require.Equal(t, changeScript, tx.TxOut[1].PkScript)

	rate := feeRate(t, 1).UnsafeFromSome()
	require.Equal(t, rate.FeeForVSize(authored.VSize), authored.Fee)
	require.Equal(t, btcutil.Amount(60_000),
		authored.Fee+btcutil.Amount(tx.TxOut[0].Value+tx.TxOut[1].Value))
	require.Equal(t, uint64(1), authored.FeeRate().SatPerVByte())

	// Unconfirmed change is spent once the confirmed outputs run out.
	authored, err = Build(&Request{
		Recipients: pay(90_000),
		FeeRate:    feeRate(t, 1),
	}, []*chainstate.Output{a, b, c}, trusted, changeScript)
	require.NoError(t, err)
	require.Equal(t, []*chainstate.Output{b, a, c}, authored.Inputs)
}

// TestDustChangeGoesToFee checks that a leftover below the dust threshold is
// paid as fee.
func TestDustChangeGoesToFee(t *testing.T) {
	t.Parallel()

	rate := feeRate(t, 1)
	coins := []*chainstate.Output{coin(1, 10_000, true, keychain.External)}

	outs := []*wire.TxOut{wire.NewTxOut(0, payScript)}
	vsize := txsizes.EstimateVirtualSize(0, 0, 1, 0, outs, 0)
	feeNoChange := rate.UnsafeFromSome().FeeForVSize(btcunit.NewVByte(
		uint64(vsize),
	))
	amount := 10_000 - feeNoChange - 200

	authored, err := Build(&Request{
		Recipients: pay(amount),
		FeeRate:    rate,
	}, coins, trusted, changeScript)
	require.NoError(t, err)

	require.False(t, authored.HasChange())
	require.Len(t, authored.Tx.TxOut, 1)
	require.Equal(t, feeNoChange+200, authored.Fee)
}

// TestDrainAndMustSpend checks sweeping and forced inputs.
func TestDrainAndMustSpend(t *testing.T) {
	t.Parallel()

	drain := p2wpkhScript(9)
	confirmed := coin(1, 40_000, true, keychain.External)
	untrusted := coin(2, 25_000, false, keychain.External)
	coins := []*chainstate.Output{confirmed, untrusted}

	// A drain without recipients sweeps the eligible outputs.
	authored, err := Build(&Request{
		FeeRate: feeRate(t, 1),
		DrainTo: fn.Some(drain),
	}, coins, trusted, changeScript)
	require.NoError(t, err)
	require.Equal(t, []*chainstate.Output{confirmed}, authored.Inputs)
	require.Len(t, authored.Tx.TxOut, 1)
	require.Equal(t, 0, authored.ChangeIndex)
	require.Equal(t, drain, authored.Tx.TxOut[0].PkScript)
	require.Equal(t, int64(40_000)-int64(authored.Fee),
		authored.Tx.TxOut[0].Value)

	// Untrusted outputs are spent when required, and come first.
	authored, err = Build(&Request{
		Recipients: pay(10_000),
		FeeRate:    feeRate(t, 1),
		MustSpend: []wire.OutPoint{
			untrusted.OutPoint, untrusted.OutPoint,
		},
	}, coins, trusted, changeScript)
	require.NoError(t, err)
	require.Equal(t, []*chainstate.Output{untrusted}, authored.Inputs)

	authored, err = Build(&Request{
		Recipients: pay(10_000),
		FeeRate:    feeRate(t, 1),
		SpendAll:   true,
	}, coins, trusted, changeScript)
	require.NoError(t, err)
	require.Equal(t, []*chainstate.Output{confirmed}, authored.Inputs)
	require.Equal(t, changeScript,
		authored.Tx.TxOut[authored.ChangeIndex].PkScript)
}

// TestBuildBalances checks that every built transaction pays its
// recipients in order, spends distinct inputs and pays at least the target
// fee rate.
func TestBuildBalances(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		var coins []*chainstate.Output
		n := rapid.IntRange(0, 8).Draw(t, "coins")
		for i := 0; i < n; i++ {
			coins = append(coins, coin(
				byte(i),
				rapid.Int64Range(500, 200_000).Draw(t, "v"),
				rapid.Bool().Draw(t, "conf"),
				rapid.SampledFrom(keychain.AllKeychains).Draw(
					t, "kc"),
			))
		}

		var recipients []Recipient
		for i := rapid.IntRange(1, 3).Draw(t, "recipients"); i > 0; i-- {
			recipients = append(recipients, Recipient{
				PkScript: payScript,
				Amount: btcutil.Amount(rapid.Int64Range(
					1_000, 300_000).Draw(t, "amt")),
			})
		}
		rate := feeRate(t, rapid.Uint64Range(1, 50).Draw(t, "rate"))

		authored, err := Build(&Request{
			Recipients: recipients,
			FeeRate:    rate,
		}, coins, trusted, changeScript)
		if err != nil {
			require.True(t, walleterr.Is(
				err, walleterr.ErrInsufficientFunds,
			))
			return
		}

		var totalOut btcutil.Amount
		for i, out := range authored.Tx.TxOut {
			if i < len(recipients) {
				require.Equal(t, int64(recipients[i].Amount),
					out.Value)
			}
			totalOut += btcutil.Amount(out.Value)
		}
		require.Equal(t, authored.TotalInput, totalOut+authored.Fee)
		require.GreaterOrEqual(t, authored.Fee,
			rate.UnsafeFromSome().FeeForVSize(authored.VSize))

		seen := make(map[wire.OutPoint]struct{})
		for _, in := range authored.Inputs {
			require.True(t, trusted(in))
			_, dup := seen[in.OutPoint]
			require.False(t, dup)
			seen[in.OutPoint] = struct{}{}
		}
	})
}
