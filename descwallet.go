// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// commandHandler runs a command with its positional arguments.
type commandHandler func(cfg *config, args []string) error

type command struct {
	usage   string
	handler commandHandler
}

var commands = map[string]command{
	"create": {
		usage:   "create the wallet from --external/--internal or a new seed",
		handler: func(cfg *config, _ []string) error { return createWallet(cfg) },
	},
	"descriptors": {
		usage:   "print the public descriptors",
		handler: withWallet(listDescriptors),
	},
	"newaddress": {
		usage:   "newaddress [keychain] -- reveal the next address",
		handler: withWallet(newAddress),
	},
	"unusedaddress": {
		usage:   "unusedaddress [keychain] -- next address without activity",
		handler: withWallet(unusedAddress),
	},
	"peekaddress": {
		usage:   "peekaddress <index> [keychain] -- derive without revealing",
		handler: withWallet(peekAddress),
	},
	"listunused": {
		usage:   "listunused [keychain] -- revealed addresses without activity",
		handler: withWallet(listUnused),
	},
	"balance": {
		usage:   "print the wallet balance",
		handler: withWallet(printBalance),
	},
	"listunspent": {
		usage:   "print the unspent outputs",
		handler: withWallet(listUnspent),
	},
	"createtx": {
		usage:   "createtx <address> <amount|all> -- fund a payment at --feerate",
		handler: createTx,
	},
	"dumpchangeset": {
		usage:   "print the aggregated wallet changeset as JSON",
		handler: dumpChangeSet,
	},
	"compact": {
		usage:   "rewrite the changeset log as a single record",
		handler: compactDB,
	},
}

func main() {
	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
func walletMain() error {
	cfg, args, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("no command")
	}

	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	if err := cmd.handler(cfg, args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		return err
	}

	return nil
}

func printUsage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(os.Stderr, "Commands:")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-14s %s\n", name, commands[name].usage)
	}
}

// withWallet opens the wallet around a handler and persists whatever the
// handler staged.
func withWallet(f func(*wallet.Wallet, []string) error) commandHandler {
	return func(cfg *config, args []string) error {
		loader, w, err := openWallet(cfg)
		if err != nil {
			return err
		}
		defer unloadWallet(loader)

		return f(w, args)
	}
}

// keychainArg parses an optional keychain argument at position i.
func keychainArg(args []string, i int) (keychain.KeychainKind, error) {
	if len(args) <= i {
		return keychain.External, nil
	}
	return keychain.ParseKeychainKind(args[i])
}

func printDescriptors(w *wallet.Wallet) {
	for _, kc := range keychain.AllKeychains {
		fmt.Printf("%-8s %s\n", kc, w.PublicDescriptor(kc))
	}
}

func listDescriptors(w *wallet.Wallet, _ []string) error {
	printDescriptors(w)
	return nil
}

func newAddress(w *wallet.Wallet, args []string) error {
	kc, err := keychainArg(args, 0)
	if err != nil {
		return err
	}
	addr, err := w.RevealNextAddress(kc)
	if err != nil {
		return err
	}

	fmt.Printf("%d %s\n", addr.Index, addr)
	return nil
}

func unusedAddress(w *wallet.Wallet, args []string) error {
	kc, err := keychainArg(args, 0)
	if err != nil {
		return err
	}
	addr, err := w.NextUnusedAddress(kc)
	if err != nil {
		return err
	}

	fmt.Printf("%d %s\n", addr.Index, addr)
	return nil
}

func peekAddress(w *wallet.Wallet, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing index")
	}
	index, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return err
	}
	kc, err := keychainArg(args, 1)
	if err != nil {
		return err
	}
	addr, err := w.PeekAddress(kc, uint32(index))
	if err != nil {
		return err
	}

	fmt.Printf("%d %s\n", addr.Index, addr)
	return nil
}

func listUnused(w *wallet.Wallet, args []string) error {
	kc, err := keychainArg(args, 0)
	if err != nil {
		return err
	}
	addrs, err := w.ListUnusedAddresses(kc)
	if err != nil {
		return err
	}

	for _, addr := range addrs {
		fmt.Printf("%d %s\n", addr.Index, addr)
	}
	return nil
}

func printBalance(w *wallet.Wallet, _ []string) error {
	bal := w.Balance()
	tip := w.LatestCheckpoint()

	fmt.Printf("tip:               %d %v\n", tip.Height(), tip.Hash())
	fmt.Printf("confirmed:         %v\n", bal.Confirmed)
	fmt.Printf("trusted pending:   %v\n", bal.TrustedPending)
	fmt.Printf("untrusted pending: %v\n", bal.UntrustedPending)
	fmt.Printf("immature:          %v\n", bal.Immature)
	fmt.Printf("total:             %v\n", bal.Total())
	return nil
}

func listUnspent(w *wallet.Wallet, _ []string) error {
	tip := w.LatestCheckpoint().Height()
	for _, out := range w.ListUnspent() {
		fmt.Printf("%v %v %s/%d confs=%d\n", out.OutPoint,
			btcutil.Amount(out.TxOut.Value), out.Keychain, out.Index,
			out.Position.Confirmations(tip))
	}
	return nil
}

// parseSendAmount parses the amount argument of createtx. The word "all"
// sweeps every spendable output to the destination.
func parseSendAmount(text string) (fn.Option[btcutil.Amount], error) {
	if strings.EqualFold(text, "all") {
		return fn.None[btcutil.Amount](), nil
	}

	var amount cfgutil.AmountFlag
	if err := amount.UnmarshalFlag(text); err != nil {
		return fn.None[btcutil.Amount](), err
	}

	return fn.Some(amount.Amount), nil
}

// fundTx builds a payment of amount to dest, or a sweep when amount is
// None, at the configured fee rate.
func fundTx(cfg *config, w *wallet.Wallet, dest []byte,
	amount fn.Option[btcutil.Amount]) (*wallet.UnsignedTx, error) {

	builder := w.BuildTx().FeeRate(cfg.FeeRate.FeeRate)
	amount.WhenSome(func(amt btcutil.Amount) {
		builder.AddRecipient(dest, amt)
	})
	if amount.IsNone() {
		builder.DrainTo(dest)
	}

	unsigned, err := builder.Finish()
	if err != nil {
		return nil, err
	}

	if maxFee := cfg.MaxFee.Amount; maxFee > 0 && unsigned.Fee > maxFee {
		return nil, fmt.Errorf("fee %v exceeds --maxfee %v",
			unsigned.Fee, maxFee)
	}

	return unsigned, nil
}

// createTx funds a transaction from the wallet and prints it as a base64
// PSBT, or as a signed raw transaction with --sign.
func createTx(cfg *config, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected <address> <amount|all>")
	}
	dest, err := descriptor.ParseAddressScript(args[0], cfg.net)
	if err != nil {
		return err
	}
	amount, err := parseSendAmount(args[1])
	if err != nil {
		return err
	}

	return withWallet(func(w *wallet.Wallet, _ []string) error {
		unsigned, err := fundTx(cfg, w, dest, amount)
		if err != nil {
			return err
		}

		log.Infof("Funded %v paying fee %v (%v)",
			unsigned.Tx.TxHash(), unsigned.Fee, unsigned.FeeRate())

		if cfg.Sign {
			if err := w.Sign(unsigned); err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := unsigned.Tx.Serialize(&buf); err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(buf.Bytes()))
			return nil
		}

		packet, err := unsigned.Psbt()
		if err != nil {
			return err
		}
		encoded, err := packet.B64Encode()
		if err != nil {
			return err
		}
		fmt.Println(encoded)
		return nil
	})(cfg, nil)
}

// openDB opens the existing wallet database of the configured network.
func openDB(cfg *config) (*persist.Store, error) {
	path := filepath.Join(networkDir(cfg.AppDataDir.Value, cfg.net),
		persist.DBName)

	exists, err := cfgutil.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, wallet.ErrNotExist
	}

	return persist.Open(path, cfg.DBTimeout)
}

func dumpChangeSet(cfg *config, _ []string) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cs, err := db.Load()
	if err != nil {
		return err
	}
	data, err := cs.MarshalJSON()
	if err != nil {
		return err
	}

	fmt.Println(strings.TrimSpace(string(data)))
	return nil
}

func compactDB(cfg *config, _ []string) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Compact()
}
