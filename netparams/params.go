// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network identifies one of the bitcoin networks a wallet can be bound to.
// A wallet's network is fixed at creation and every descriptor and address it
// handles must belong to it.
type Network uint8

const (
	// Mainnet is the bitcoin main network.
	Mainnet Network = iota

	// Testnet is the public test network (version 3).
	Testnet

	// Signet is the default signet network.
	Signet

	// Regtest is the regression test network.
	Regtest
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params
	Network Network
}

// MainNetParams contains parameters specific to the main network
// (wire.MainNet).
var MainNetParams = Params{
	Params:  &chaincfg.MainNetParams,
	Network: Mainnet,
}

// TestNet3Params contains parameters specific to the test network (version 3)
// (wire.TestNet3).
var TestNet3Params = Params{
	Params:  &chaincfg.TestNet3Params,
	Network: Testnet,
}

// SigNetParams contains parameters specific to the default signet network
// (wire.SigNet).
var SigNetParams = Params{
	Params:  &chaincfg.SigNetParams,
	Network: Signet,
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:  &chaincfg.RegressionNetParams,
	Network: Regtest,
}

// String returns the canonical name of the network.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "bitcoin"
	case Testnet:
		return "testnet"
	case Signet:
		return "signet"
	case Regtest:
		return "regtest"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(n))
	}
}

// Valid reports whether n is one of the known networks.
func (n Network) Valid() bool {
	return n <= Regtest
}

// Params returns the grouped parameters of the network. Unknown networks map
// to the main network parameters; callers are expected to check Valid first.
func (n Network) Params() *Params {
	switch n {
	case Testnet:
		return &TestNet3Params
	case Signet:
		return &SigNetParams
	case Regtest:
		return &RegressionNetParams
	default:
		return &MainNetParams
	}
}

// ChainParams is a shortcut for n.Params().Params.
func (n Network) ChainParams() *chaincfg.Params {
	return n.Params().Params
}

// ParseNetwork maps a network name to a Network. Both the canonical names and
// the usual aliases (main, mainnet, test, testnet3) are accepted.
func ParseNetwork(name string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bitcoin", "main", "mainnet":
		return Mainnet, nil
	case "testnet", "test", "testnet3":
		return Testnet, nil
	case "signet":
		return Signet, nil
	case "regtest":
		return Regtest, nil
	default:
		return 0, fmt.Errorf("unknown network %q", name)
	}
}
