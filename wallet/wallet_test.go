package wallet

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chainsource"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/internal/chaintest"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const (
	testExternalPub = "wpkh([27f9035f/84'/1'/0']tpubDCkv2fHDfPg5hB6bFqJ4f" +
		"Niins2Z8r5vKtD4xq5irCG2HsUXkgHYsj3gfGTdvAv41hoJeXjfxu7EBQqZMm6" +
		"SVkxztKFtaaE7HuLdkuL7KNq/0/*)#wle7e0wp"
	testInternalPub = "wpkh([27f9035f/84'/1'/0']tpubDCkv2fHDfPg5hB6bFqJ4f" +
		"Niins2Z8r5vKtD4xq5irCG2HsUXkgHYsj3gfGTdvAv41hoJeXjfxu7EBQqZMm6" +
		"SVkxztKFtaaE7HuLdkuL7KNq/1/*)#ltuly67e"

	testFirstAddress = "tb1qjtgffm20l9vu6a7gacxvpu2ej4kdcsgc26xfdz"

	testStopGap  = 10
	testParallel = 4
)

// testDescriptors returns the private receive and change descriptors of a
// regtest wallet for template t.
func testDescriptors(t *testing.T, tmpl descriptor.Template) (string,
	string) {

	seed := bytes.Repeat([]byte{byte(tmpl) + 1}, 32)
	master, err := descriptor.NewMasterKey(seed, netparams.Regtest)
	require.NoError(t, err)

	ext, err := descriptor.NewTemplate(tmpl, master, false,
		netparams.Regtest)
	require.NoError(t, err)
	in, err := descriptor.NewTemplate(tmpl, master, true,
		netparams.Regtest)
	require.NoError(t, err)

	return ext.StringWithSecret(), in.StringWithSecret()
}

// publicDescriptors returns the watch only form of descriptor texts.
func publicDescriptors(t *testing.T, ext, in string) (string, string) {
	project := func(text string) string {
		desc, err := descriptor.Parse(text, netparams.Regtest)
		require.NoError(t, err)
		pub, err := desc.PublicProjection()
		require.NoError(t, err)
		return pub.String()
	}

	return project(ext), project(in)
}

func newTestWallet(t *testing.T, tmpl descriptor.Template,
	cfg *Config) *Wallet {

	ext, in := testDescriptors(t, tmpl)
	w, err := Create(ext, in, netparams.Regtest, cfg)
	require.NoError(t, err)

	return w
}

// payTx returns a transaction paying value to script from an unrelated
// output.
func payTx(seed byte, script []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: chainhash.HashH([]byte{0xfe, seed}),
	}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, script))

	return tx
}

// testChain is a wallet connected to an in-memory backend.
type testChain struct {
	t       *testing.T
	w       *Wallet
	backend *chaintest.Backend
	scanner *chainsource.Scanner
	now     int64
}

func newTestChain(t *testing.T, w *Wallet) *testChain {
	backend := chaintest.NewBackend(w.ChainParams())

	return &testChain{
		t:       t,
		w:       w,
		backend: backend,
		scanner: chainsource.NewScanner(backend),
		now:     1_700_000_000,
	}
}

// fund confirms a payment of value to the next external address.
func (c *testChain) fund(seed byte, value int64) *wire.MsgTx {
	addr, err := c.w.RevealNextAddress(keychain.External)
	require.NoError(c.t, err)

	tx := payTx(seed, addr.Script, value)
	c.backend.Mine(tx)

	return tx
}

// fullScan applies a full scan of the backend.
func (c *testChain) fullScan() *UpdateResult {
	update, err := c.scanner.FullScan(
		context.Background(), c.w.StartFullScan(), testStopGap,
		testParallel,
	)
	require.NoError(c.t, err)

	return c.apply(update)
}

// sync applies a sync of the revealed scripts.
func (c *testChain) sync() *UpdateResult {
	req, err := c.w.StartSync()
	require.NoError(c.t, err)

	update, err := c.scanner.Sync(context.Background(), req, testParallel)
	require.NoError(c.t, err)

	return c.apply(update)
}

func (c *testChain) apply(update *chainsource.Update) *UpdateResult {
	c.now += 60
	res, err := c.w.ApplyUpdateAt(update, c.now)
	require.NoError(c.t, err)

	return res
}

func mustFeeRate(t *testing.T, satPerVByte uint64) btcunit.FeeRate {
	rate, err := btcunit.NewFeeRate(satPerVByte)
	require.NoError(t, err)

	return rate
}

// TestCreateWatchOnly checks the first address vector and the initial
// staged changeset of a watch only wallet.
func TestCreateWatchOnly(t *testing.T) {
	t.Parallel()

	w, err := Create(testExternalPub, testInternalPub, netparams.Testnet,
		nil)
	require.NoError(t, err)
	require.True(t, w.IsWatchOnly())
	require.Equal(t, netparams.Testnet, w.Network())

	addr, err := w.PeekAddress(keychain.External, 0)
	require.NoError(t, err)
	require.Equal(t, testFirstAddress, addr.String())
	require.True(t, w.DerivationIndex(keychain.External).IsNone())

	ext := descriptor.MustParse(testExternalPub, netparams.Testnet)
	require.Equal(t, ext.String(), w.PublicDescriptor(keychain.External))

	staged := w.TakeStaged()
	require.NotNil(t, staged)
	require.Equal(t, fn.Some(netparams.Testnet), staged.Network)
	require.Len(t, staged.Descriptors, 2)
	require.Len(t, staged.Chain.Blocks, 1)
	require.Len(t, staged.Indexer.SpkCache[keychain.External],
		DefaultLookahead)
	require.Nil(t, w.TakeStaged())

	require.Equal(t, uint32(0), w.LatestCheckpoint().Height())
}

// TestCreateErrors checks descriptor validation at creation.
func TestCreateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		external string
		internal string
		net      netparams.Network
	}{{
		name:     "malformed",
		external: "wpkh(nonsense)",
		internal: testInternalPub,
		net:      netparams.Testnet,
	}, {
		name:     "wrong network",
		external: testExternalPub,
		internal: testInternalPub,
		net:      netparams.Mainnet,
	}, {
		name:     "same keychains",
		external: testExternalPub,
		internal: testExternalPub,
		net:      netparams.Testnet,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			_, err := Create(test.external, test.internal,
				test.net, nil)
			require.True(t, walleterr.Is(
				err, walleterr.ErrInvalidDescriptor,
			), "unexpected error %v", err)
		})
	}
}

// TestRevealAndNextUnused checks that synced activity moves the next unused
// address past the used index.
func TestRevealAndNextUnused(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, descriptor.BIP84, nil)
	c := newTestChain(t, w)

	addrs, err := w.RevealAddressesTo(keychain.External, 3)
	require.NoError(t, err)
	require.Len(t, addrs, 4)

	// Pay to index 1 only.
	c.backend.Mine(payTx(1, addrs[1].Script, 20_000))
	res := c.sync()
	require.Equal(t, []uint32{1}, res.NewlyUsed[keychain.External])
	require.Equal(t, fn.Some(uint32(1)),
		w.LastUsedIndex(keychain.External))

	next, err := w.NextUnusedAddress(keychain.External)
	require.NoError(t, err)
	require.Equal(t, uint32(2), next.Index)

	unused, err := w.ListUnusedAddresses(keychain.External)
	require.NoError(t, err)
	require.Len(t, unused, 3)

	require.True(t, w.IsMine(addrs[3].Script))
	require.Equal(t, btcutil.Amount(20_000), w.Balance().Confirmed)
}

// TestFullScanDiscovery checks that a full scan reveals up to the last
// active index and reports when the stop gap window moved.
func TestFullScanDiscovery(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, descriptor.BIP86, nil)
	c := newTestChain(t, w)

	for i, index := range []uint32{0, 7} {
		addr, err := w.PeekAddress(keychain.External, index)
		require.NoError(t, err)
		c.backend.Mine(payTx(byte(i), addr.Script, 10_000))
	}
	change, err := w.PeekAddress(keychain.Internal, 2)
	require.NoError(t, err)
	c.backend.Mine(payTx(9, change.Script, 5_000))

	res := c.fullScan()
	require.Equal(t, fn.Some(uint32(7)),
		w.DerivationIndex(keychain.External))
	require.Equal(t, fn.Some(uint32(2)),
		w.DerivationIndex(keychain.Internal))
	require.True(t, res.ExtendScan(keychain.External, testStopGap))
	require.False(t, res.ExtendScan(keychain.External, 0))

	require.Equal(t, btcutil.Amount(25_000), w.Balance().Confirmed)
	require.Len(t, w.ListUnspent(), 3)
	require.Len(t, w.Transactions(), 3)

	// A second scan finds nothing new.
	res = c.fullScan()
	require.Empty(t, res.NewlyUsed)
	require.False(t, res.ExtendScan(keychain.External, testStopGap))
}

// TestReorgUnconfirms checks that transactions confirmed above the common
// ancestor of a reorganization only survive when the new chain reports
// them.
func TestReorgUnconfirms(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, descriptor.BIP84, nil)
	c := newTestChain(t, w)

	c.backend.MineEmpty(1)
	kept := c.fund(1, 40_000)
	dropped := c.fund(2, 30_000)
	c.backend.MineEmpty(1)

	c.fullScan()
	require.Equal(t, btcutil.Amount(70_000), w.Balance().Confirmed)

	// Height 2 and above are replaced. The first payment returns to the
	// mempool, the second disappears.
	c.backend.Rewind(1, false)
	c.backend.AddMempoolTx(kept)
	tip := c.backend.MineEmpty(3)

	// The local chain never recorded height 1, so the last block both
	// chains agree on is the genesis block.
	res := c.sync()
	require.Equal(t, fn.Some(uint32(0)), res.ReorgBelow)
	require.Equal(t, []chainhash.Hash{dropped.TxHash()}, res.Evicted)
	require.Equal(t, tip, w.LatestCheckpoint().BlockID())

	balance := w.Balance()
	require.Zero(t, balance.Confirmed)
	require.Equal(t, btcutil.Amount(40_000), balance.UntrustedPending)

	_, ok := w.GetTx(dropped.TxHash())
	require.False(t, ok)
	canonical, ok := w.GetTx(kept.TxHash())
	require.True(t, ok)
	require.False(t, canonical.Position.IsConfirmed())

	for _, out := range w.ListUnspent() {
		require.False(t, out.Position.IsConfirmed())
	}

	// Nothing is confirmed above the common ancestor.
	for _, tx := range w.Transactions() {
		tx.Position.Block.WhenSome(func(b chainstate.BlockID) {
			require.LessOrEqual(t, b.Height, uint32(1))
		})
	}
}

// TestBalancePolicy checks that unconfirmed receive outputs only count as
// trusted under the permissive policy.
func TestBalancePolicy(t *testing.T) {
	t.Parallel()

	for _, trust := range []bool{false, true} {
		w := newTestWallet(t, descriptor.BIP84, &Config{
			Policy: chainstate.BalancePolicy{
				TrustUnconfirmedExternal: trust,
			},
		})
		c := newTestChain(t, w)

		addr, err := w.RevealNextAddress(keychain.External)
		require.NoError(t, err)
		c.backend.AddMempoolTx(payTx(1, addr.Script, 12_000))
		c.sync()

		balance := w.Balance()
		if trust {
			require.Equal(t, btcutil.Amount(12_000),
				balance.TrustedPending)
		} else {
			require.Equal(t, btcutil.Amount(12_000),
				balance.UntrustedPending)
		}
		require.Equal(t, btcutil.Amount(12_000), balance.Total())
	}
}

// TestApplyUpdateAtomic checks that a failing update leaves the wallet
// unchanged.
func TestApplyUpdateAtomic(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, descriptor.BIP84, nil)
	c := newTestChain(t, w)
	c.fund(1, 10_000)
	c.fullScan()
	w.TakeStaged()

	before := w.Balance()
	tip := w.LatestCheckpoint().BlockID()

	// An update whose blocks conflict with each other.
	addr, err := w.PeekAddress(keychain.External, 5)
	require.NoError(t, err)
	tx := payTx(2, addr.Script, 1_000)
	bad := &chainsource.Update{
		Update: chainstate.Update{
			Txs: []*wire.MsgTx{tx},
			Anchors: []chainstate.Anchor{{
				Txid: tx.TxHash(),
				Block: chainstate.BlockID{
					Height: tip.Height,
					Hash:   chainhash.HashH([]byte("other")),
				},
			}},
		},
		LastActiveIndices: map[keychain.KeychainKind]uint32{
			keychain.External: 5,
		},
	}
	_, err = w.ApplyUpdateAt(bad, 1)
	require.True(t, walleterr.Is(err, walleterr.ErrInconsistentChain))

	require.Equal(t, before, w.Balance())
	require.Equal(t, tip, w.LatestCheckpoint().BlockID())
	require.Equal(t, fn.Some(uint32(0)),
		w.DerivationIndex(keychain.External))
	require.Nil(t, w.TakeStaged())
}

// TestApplyUnconfirmedTxs checks that a broadcast transaction spends its
// inputs right away.
func TestApplyUnconfirmedTxs(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, descriptor.BIP84, nil)
	c := newTestChain(t, w)
	c.fund(1, 80_000)
	c.fullScan()

	recipient, err := w.PeekAddress(keychain.External, 20)
	require.NoError(t, err)
	unsigned, err := w.BuildTx().
		AddRecipient(recipient.Script, 30_000).
		FeeRate(mustFeeRate(t, 2)).
		Finish()
	require.NoError(t, err)
	require.NoError(t, w.Sign(unsigned))

	_, err = w.ApplyUnconfirmedTxs(c.now+1, unsigned.Tx)
	require.NoError(t, err)

	// Both outputs pay to the wallet: the change is trusted, the
	// payment to the receive address is not.
	balance := w.Balance()
	require.Zero(t, balance.Confirmed)
	require.Equal(t, btcutil.Amount(80_000)-unsigned.Fee,
		balance.Total())

	sent, received := w.SentAndReceived(unsigned.Tx)
	require.Equal(t, int64(80_000), sent)
	require.Equal(t, int64(80_000)-int64(unsigned.Fee), received)
}

// TestConcurrentAccess exercises readers and writers together.
func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, descriptor.BIP84, nil)
	c := newTestChain(t, w)
	c.fund(1, 50_000)
	c.fullScan()

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 8)
		dest = externalScript(t)
		rate = mustFeeRate(t, 1)
	)
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, err := w.RevealNextAddress(keychain.External)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := w.BuildTx().FeeRate(rate).
				AddRecipient(dest, 5_000).
				Finish()
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_ = w.Balance()
			_ = w.StartFullScan()
			_ = w.PublicDescriptor(keychain.Internal)
			_ = w.DerivationIndex(keychain.Internal)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Funding revealed external index 0, and every build revealed one
	// change address.
	require.Equal(t, fn.Some(uint32(4)),
		w.DerivationIndex(keychain.External))
	require.Equal(t, fn.Some(uint32(3)),
		w.DerivationIndex(keychain.Internal))
	require.Equal(t, btcutil.Amount(50_000), w.Balance().Confirmed)
}

// TestSourceFailureLeavesWallet checks that a failed scan produces no
// update.
func TestSourceFailureLeavesWallet(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, descriptor.BIP84, nil)
	c := newTestChain(t, w)
	c.fund(1, 10_000)

	errDown := errors.New("connection refused")
	c.backend.SetFailure(errDown)

	_, err := c.scanner.FullScan(
		context.Background(), w.StartFullScan(), testStopGap,
		testParallel,
	)
	require.True(t, walleterr.Is(err, walleterr.ErrChainSource))
	require.ErrorIs(t, err, errDown)
	require.Zero(t, w.Balance().Total())
}
