// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/descwallet/netparams"
)

// Template is one of the standard single-key derivation schemes.
type Template uint8

const (
	// BIP44 derives legacy pkh outputs under m/44'.
	BIP44 Template = iota

	// BIP49 derives nested segwit sh(wpkh) outputs under m/49'.
	BIP49

	// BIP84 derives native segwit wpkh outputs under m/84'.
	BIP84

	// BIP86 derives key-path taproot tr outputs under m/86'.
	BIP86
)

// purpose returns the BIP43 purpose and script template of the scheme.
func (t Template) purpose() (uint32, string, string) {
	switch t {
	case BIP44:
		return 44, "pkh(", ")"
	case BIP49:
		return 49, "sh(wpkh(", "))"
	case BIP86:
		return 86, "tr(", ")"
	default:
		return 84, "wpkh(", ")"
	}
}

// coinType returns the BIP44 coin type of net: 0 for main net, 1 for every
// test network.
func coinType(net netparams.Network) uint32 {
	if net == netparams.Mainnet {
		return 0
	}
	return 1
}

// keychainStep returns the keychain step: 0 for receiving, 1 for change.
func keychainStep(internal bool) uint32 {
	if internal {
		return 1
	}
	return 0
}

// NewMasterKey creates a master extended private key from a seed.
func NewMasterKey(seed []byte, net netparams.Network) (*hdkeychain.ExtendedKey,
	error) {

	return hdkeychain.NewMaster(seed, net.ChainParams())
}

// NewTemplate builds the account 0 descriptor of template t for a master
// extended private key, such as wpkh(xprv/84'/1'/0'/0/*) for the BIP84
// receiving keychain on a test network.
func NewTemplate(t Template, master *hdkeychain.ExtendedKey, internal bool,
	net netparams.Network) (*Descriptor, error) {

	if !master.IsPrivate() {
		return nil, invalid("template requires an extended private key")
	}

	purpose, open, closing := t.purpose()
	text := fmt.Sprintf("%s%s/%d'/%d'/0'/%d/*%s", open, master.String(),
		purpose, coinType(net), keychainStep(internal), closing)

	return Parse(text, net)
}

// NewPublicTemplate builds the watch-only counterpart of NewTemplate from an
// account level extended public key and the fingerprint of its master key.
func NewPublicTemplate(t Template, accountKey *hdkeychain.ExtendedKey,
	fingerprint [4]byte, internal bool,
	net netparams.Network) (*Descriptor, error) {

	if accountKey.IsPrivate() {
		return nil, invalid("public template requires an extended " +
			"public key")
	}

	purpose, open, closing := t.purpose()
	text := fmt.Sprintf("%s[%s/%d'/%d'/0']%s/%d/*%s", open,
		hex.EncodeToString(fingerprint[:]), purpose, coinType(net),
		accountKey.String(), keychainStep(internal), closing)

	return Parse(text, net)
}
