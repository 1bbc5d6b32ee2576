package main

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chainsource"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/internal/chaintest"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

func TestParseDebugLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{level: "debug", valid: true},
		{level: "WLLT=trace,CHST=warn", valid: true},
		{level: "loud"},
		{level: "WLLT"},
		{level: "NOPE=info"},
		{level: "WLLT=loud"},
	}

	for _, test := range tests {
		err := parseAndSetDebugLevels(test.level)
		if test.valid {
			require.NoError(t, err, test.level)
		} else {
			require.Error(t, err, test.level)
		}
	}
	setLogLevels("off")
}

func TestGenerateDescriptors(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"bip44", "BIP49", "bip84", "bip86"} {
		tmpl, err := parseTemplate(name)
		require.NoError(t, err)

		ext, in, err := generateDescriptors(tmpl, netparams.Signet)
		require.NoError(t, err)

		extDesc, err := descriptor.Parse(ext, netparams.Signet)
		require.NoError(t, err)
		require.True(t, extDesc.HasPrivateKey())

		inDesc, err := descriptor.Parse(in, netparams.Signet)
		require.NoError(t, err)
		require.NotEqual(t, extDesc.ID(), inDesc.ID())
	}

	_, err := parseTemplate("bip32")
	require.Error(t, err)
}

func TestNetworkDir(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/data/regtest", networkDir("/data", netparams.Regtest))
	require.Equal(t, "/data/bitcoin", networkDir("/data", netparams.Mainnet))
}

func TestParseSendAmount(t *testing.T) {
	t.Parallel()

	amount, err := parseSendAmount("0.0005")
	require.NoError(t, err)
	require.Equal(t, fn.Some(btcutil.Amount(50_000)), amount)

	amount, err = parseSendAmount("ALL")
	require.NoError(t, err)
	require.True(t, amount.IsNone())

	_, err = parseSendAmount("lots")
	require.Error(t, err)
	_, err = parseSendAmount("-1")
	require.Error(t, err)
}

// fundedWalletConfig creates a regtest wallet under a temporary data
// directory, confirms value to its first receive address and returns a
// config opening it with its private descriptors.
func fundedWalletConfig(t *testing.T, value int64) *config {
	ext, in, err := generateDescriptors(descriptor.BIP84, netparams.Regtest)
	require.NoError(t, err)

	cfg := &config{
		AppDataDir: cfgutil.NewExplicitString(t.TempDir()),
		DBTimeout:  persist.DefaultDBTimeout,
		External:   ext,
		Internal:   in,
		Lookahead:  wallet.DefaultLookahead,
		FeeRate:    cfgutil.NewFeeRateFlag(defaultFeeRate),
		MaxFee:     cfgutil.NewAmountFlag(defaultMaxFee),
		net:        netparams.Regtest,
	}

	loader := newLoader(cfg)
	w, err := loader.CreateNewWallet(ext, in, cfg.net)
	require.NoError(t, err)

	addr, err := w.RevealNextAddress(keychain.External)
	require.NoError(t, err)

	fund := wire.NewMsgTx(2)
	fund.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: chainhash.HashH([]byte("funding")),
	}, nil, nil))
	fund.AddTxOut(wire.NewTxOut(value, addr.Script))

	backend := chaintest.NewBackend(w.ChainParams())
	backend.Mine(fund)
	update, err := chainsource.NewScanner(backend).FullScan(
		context.Background(), w.StartFullScan(), 10, 2,
	)
	require.NoError(t, err)
	_, err = w.ApplyUpdate(update)
	require.NoError(t, err)

	require.NoError(t, loader.UnloadWallet())

	return cfg
}

func TestFundTx(t *testing.T) {
	t.Parallel()

	cfg := fundedWalletConfig(t, 100_000)

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), netparams.Regtest.ChainParams(),
	)
	require.NoError(t, err)
	dest, err := descriptor.ParseAddressScript(
		addr.EncodeAddress(), cfg.net,
	)
	require.NoError(t, err)

	require.NoError(t, cfg.FeeRate.UnmarshalFlag("5 sat/vB"))

	loader, w, err := openWallet(cfg)
	require.NoError(t, err)

	payment, err := fundTx(cfg, w, dest, fn.Some(btcutil.Amount(40_000)))
	require.NoError(t, err)
	require.True(t, payment.HasChange())
	require.GreaterOrEqual(t, payment.FeeRate().SatPerVByte(), uint64(5))

	sweep, err := fundTx(cfg, w, dest, fn.None[btcutil.Amount]())
	require.NoError(t, err)
	require.Len(t, sweep.Tx.TxOut, 1)
	require.Equal(t, int64(100_000)-int64(sweep.Fee),
		sweep.Tx.TxOut[0].Value)

	// A fee above the cap is refused.
	require.NoError(t, cfg.MaxFee.UnmarshalFlag("0.00000100"))
	_, err = fundTx(cfg, w, dest, fn.Some(btcutil.Amount(40_000)))
	require.ErrorContains(t, err, "--maxfee")

	require.NoError(t, w.Sign(payment))
	unloadWallet(loader)

	// Both funded payments revealed a change address, including the one
	// refused for its fee, and the command reveals the next one.
	cfg.MaxFee.Amount = 0
	cfg.Sign = true
	require.Error(t, createTx(cfg, []string{addr.EncodeAddress()}))
	require.NoError(t, createTx(cfg, []string{addr.EncodeAddress(), "0.0001"}))

	loader, w, err = openWallet(cfg)
	require.NoError(t, err)
	require.Equal(t, fn.Some(uint32(2)),
		w.DerivationIndex(keychain.Internal))
	unloadWallet(loader)
}
