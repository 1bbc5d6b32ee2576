// Copyright (c) 2014-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/internal/zero"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// networkDir returns the directory name of a network directory to hold wallet
// files.
func networkDir(dataDir string, net netparams.Network) string {
	return filepath.Join(dataDir, net.String())
}

// newLoader returns a wallet loader for the configured network directory.
func newLoader(cfg *config) *wallet.Loader {
	dbDir := networkDir(cfg.AppDataDir.Value, cfg.net)
	return wallet.NewLoader(dbDir, cfg.DBTimeout, cfg.walletConfig())
}

// parseTemplate maps a template name to a descriptor template.
func parseTemplate(name string) (descriptor.Template, error) {
	switch strings.ToLower(name) {
	case "bip44":
		return descriptor.BIP44, nil
	case "bip49":
		return descriptor.BIP49, nil
	case "bip84":
		return descriptor.BIP84, nil
	case "bip86":
		return descriptor.BIP86, nil
	default:
		return 0, fmt.Errorf("unknown descriptor template %q", name)
	}
}

// generateDescriptors creates the private receiving and change descriptors
// of a template over a freshly generated seed.
func generateDescriptors(tmpl descriptor.Template,
	net netparams.Network) (string, string, error) {

	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return "", "", err
	}
	defer zero.Bytes(seed)

	master, err := descriptor.NewMasterKey(seed, net)
	if err != nil {
		return "", "", err
	}

	external, err := descriptor.NewTemplate(tmpl, master, false, net)
	if err != nil {
		return "", "", err
	}
	internal, err := descriptor.NewTemplate(tmpl, master, true, net)
	if err != nil {
		return "", "", err
	}

	return external.StringWithSecret(), internal.StringWithSecret(), nil
}

// createWallet creates a wallet from the configured descriptors, or from a
// new seed when none are configured.
func createWallet(cfg *config) error {
	external, internal := cfg.External, cfg.Internal
	generated := external == "" && internal == ""

	switch {
	case generated:
		tmpl, err := parseTemplate(cfg.Template)
		if err != nil {
			return err
		}
		external, internal, err = generateDescriptors(tmpl, cfg.net)
		if err != nil {
			return err
		}

	case external == "" || internal == "":
		return fmt.Errorf("both --external and --internal descriptors " +
			"are required")
	}

	loader := newLoader(cfg)
	w, err := loader.CreateNewWallet(external, internal, cfg.net)
	if err != nil {
		return err
	}
	defer unloadWallet(loader)

	// Only public descriptors are stored, so generated private keys are
	// lost unless shown here.
	if generated {
		if cfg.ShowPrivateKey {
			fmt.Println("Private descriptors. Store them safely, " +
				"they are not written to the wallet database:")
			fmt.Println(external)
			fmt.Println(internal)
		} else {
			fmt.Println("Generated a new seed. Its private " +
				"descriptors are discarded unless --showprivate " +
				"is given, so this wallet is watch-only.")
		}
	}

	fmt.Println("Created", cfg.net, "wallet:")
	printDescriptors(w)

	return nil
}

// openWallet opens the wallet of the configured network directory, using
// private descriptors from the config when given.
func openWallet(cfg *config) (*wallet.Loader, *wallet.Wallet, error) {
	loadCfg := &wallet.LoadConfig{
		Network: fn.Some(cfg.net),
	}
	if cfg.External != "" {
		loadCfg.External = fn.Some(cfg.External)
	}
	if cfg.Internal != "" {
		loadCfg.Internal = fn.Some(cfg.Internal)
	}

	loader := newLoader(cfg)
	w, err := loader.OpenExistingWallet(loadCfg)
	if err != nil {
		return nil, nil, err
	}

	return loader, w, nil
}

// unloadWallet persists and closes the loaded wallet.
func unloadWallet(loader *wallet.Loader) {
	if err := loader.UnloadWallet(); err != nil {
		log.Errorf("Unable to close wallet: %v", err)
	}
}
