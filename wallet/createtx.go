// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/walleterr"
)

// secretSource is an implementation of txauthor.SecretsSource for the
// wallet's private descriptors. Keys are located through the script index.
type secretSource struct {
	index   *keychain.TxOutIndex
	signers map[keychain.KeychainKind]*descriptor.Descriptor
	params  *chaincfg.Params
}

// A compile-time assertion to ensure secretSource meets the
// txauthor.SecretsSource interface.
var _ txauthor.SecretsSource = (*secretSource)(nil)

// GetKey returns the private key paying to addr. For taproot addresses this
// is the internal key, which the signer tweaks.
func (s *secretSource) GetKey(addr btcutil.Address) (*btcec.PrivateKey, bool,
	error) {

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, false, err
	}

	ref, ok := s.index.Lookup(script)
	if !ok {
		return nil, false, fmt.Errorf("address %v is not a wallet "+
			"address", addr)
	}

	signer, ok := s.signers[ref.Keychain]
	if !ok {
		return nil, false, walleterr.Errorf(
			walleterr.ErrMissingPrivateKey, "%v keychain is "+
				"watch only", ref.Keychain,
		)
	}

	privKey, err := signer.PrivKey(ref.Index)
	if err != nil {
		return nil, false, err
	}

	return privKey, true, nil
}

// GetScript is not supported. Every wallet script is a single key template
// that txauthor signs without a redeem script lookup.
func (s *secretSource) GetScript(addr btcutil.Address) ([]byte, error) {
	return nil, fmt.Errorf("no redeem script for address %v", addr)
}

// ChainParams returns the network parameters of the wallet.
func (s *secretSource) ChainParams() *chaincfg.Params {
	return s.params
}

// Sign adds input scripts for every input of tx and validates them. It
// fails with walleterr.ErrMissingPrivateKey when an input belongs to a
// watch only keychain.
func (w *Wallet) Sign(tx *UnsignedTx) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, in := range tx.Inputs {
		if _, ok := w.signers[in.Keychain]; !ok {
			return walleterr.Errorf(walleterr.ErrMissingPrivateKey,
				"cannot sign input %v: %v keychain is watch "+
					"only", in.OutPoint, in.Keychain)
		}
	}

	secrets := &secretSource{
		index:   w.index,
		signers: w.signers,
		params:  w.params,
	}
	err := txauthor.AddAllInputScripts(
		tx.Tx, tx.PrevScripts, tx.PrevInputValues, secrets,
	)
	if err != nil {
		return err
	}

	if err := validateMsgTx(tx.Tx, tx.PrevScripts,
		tx.PrevInputValues); err != nil {

		return err
	}

	log.Debugf("Signed transaction %v", tx.Tx.TxHash())

	return nil
}

// validateMsgTx verifies every input script of tx against the spent
// outputs.
func validateMsgTx(tx *wire.MsgTx, prevScripts [][]byte,
	inputValues []btcutil.Amount) error {

	inputFetcher, err := txauthor.TXPrevOutFetcher(
		tx, prevScripts, inputValues,
	)
	if err != nil {
		return err
	}

	hashCache := txscript.NewTxSigHashes(tx, inputFetcher)
	for i, prevScript := range prevScripts {
		vm, err := txscript.NewEngine(
			prevScript, tx, i, txscript.StandardVerifyFlags, nil,
			hashCache, int64(inputValues[i]), inputFetcher,
		)
		if err != nil {
			return fmt.Errorf("cannot create script engine: %w", err)
		}
		err = vm.Execute()
		if err != nil {
			return fmt.Errorf("cannot validate transaction: %w", err)
		}
	}

	return nil
}
