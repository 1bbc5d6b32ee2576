// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/walleterr"
)

// allNetworks lists the networks tried when classifying address text that
// does not decode for the wallet network.
var allNetworks = []netparams.Network{
	netparams.Mainnet, netparams.Testnet, netparams.Signet,
	netparams.Regtest,
}

// hasSegwitPrefix reports whether text starts with a registered segwit
// human readable part followed by the bech32 separator.
func hasSegwitPrefix(text string) bool {
	oneIndex := strings.LastIndexByte(text, '1')
	if oneIndex <= 1 {
		return false
	}

	return chaincfg.IsBech32SegwitPrefix(strings.ToLower(text[:oneIndex+1]))
}

// ParseAddress decodes address text for net. Failures are reported as a
// *walleterr.AddressParseError: Bech32 for malformed text carrying a segwit
// prefix, Base58 for other malformed text and NetworkValidation for valid
// text of a different network.
func ParseAddress(text string, net netparams.Network) (btcutil.Address,
	error) {

	params := net.ChainParams()

	addr, err := btcutil.DecodeAddress(text, params)
	if err != nil {
		// Legacy encodings carry the network in their version byte,
		// so text from another network fails to decode at all.
		for _, other := range allNetworks {
			if other == net {
				continue
			}
			_, otherErr := btcutil.DecodeAddress(
				text, other.ChainParams(),
			)
			if otherErr == nil {
				return nil, &walleterr.AddressParseError{
					Kind:    walleterr.AddrNetworkValidation,
					Address: text,
				}
			}
		}

		kind := walleterr.AddrBase58
		if hasSegwitPrefix(text) {
			kind = walleterr.AddrBech32
		}

		return nil, &walleterr.AddressParseError{
			Kind:    kind,
			Address: text,
			Err:     err,
		}
	}

	if !addr.IsForNet(params) {
		return nil, &walleterr.AddressParseError{
			Kind:    walleterr.AddrNetworkValidation,
			Address: text,
		}
	}

	return addr, nil
}

// ParseAddressScript decodes address text for net and returns the output
// script paying to it.
func ParseAddressScript(text string, net netparams.Network) ([]byte, error) {
	addr, err := ParseAddress(text, net)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}
