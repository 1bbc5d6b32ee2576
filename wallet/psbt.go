// Copyright (c) 2020-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// derivation returns the BIP32 derivation of the key at ref.
func (u *UnsignedTx) derivation(
	ref keychain.ScriptRef) (*psbt.Bip32Derivation, error) {

	desc, ok := u.descriptors[ref.Keychain]
	if !ok {
		return nil, fmt.Errorf("unknown keychain %v", ref.Keychain)
	}

	pubKey, err := desc.PubKey(ref.Index)
	if err != nil {
		return nil, err
	}
	origin, err := desc.KeyOrigin(ref.Index)
	if err != nil {
		return nil, err
	}

	return &psbt.Bip32Derivation{
		PubKey: pubKey.SerializeCompressed(),
		MasterKeyFingerprint: binary.LittleEndian.Uint32(
			origin.Fingerprint[:],
		),
		Bip32Path: origin.Path,
	}, nil
}

// Psbt returns the transaction as a BIP174 packet carrying the spent
// outputs and key derivations an offline signer needs.
func (u *UnsignedTx) Psbt() (*psbt.Packet, error) {
	packet, err := psbt.NewFromUnsignedTx(u.Tx.Copy())
	if err != nil {
		return nil, err
	}

	for i, input := range u.Inputs {
		derivation, err := u.derivation(input.ScriptRef)
		if err != nil {
			return nil, err
		}

		in := &packet.Inputs[i]
		switch u.descriptors[input.Keychain].Type() {
		case descriptor.TR:
			addInputInfoSegWitV1(in, input.TxOut, derivation)

		case descriptor.WPKH, descriptor.ShWPKH:
			err := addInputInfoSegWitV0(
				in, u.PrevTxs[i], input.TxOut, derivation,
			)
			if err != nil {
				return nil, err
			}

		default:
			if u.PrevTxs[i] == nil {
				return nil, fmt.Errorf("previous transaction "+
					"of input %d is unknown", i)
			}
			in.NonWitnessUtxo = u.PrevTxs[i]
			in.SighashType = txscript.SigHashAll
			in.Bip32Derivation = []*psbt.Bip32Derivation{
				derivation,
			}
		}
	}

	err = fn.MapOptionZ(u.Change, func(ref keychain.ScriptRef) error {
		derivation, err := u.derivation(ref)
		if err != nil {
			return err
		}

		out := createOutputInfo(u.Tx.TxOut[u.ChangeIndex], derivation)
		packet.Outputs[u.ChangeIndex] = *out

		return nil
	})
	if err != nil {
		return nil, err
	}

	return packet, nil
}

// addInputInfoSegWitV0 adds the UTXO and BIP32 derivation info for a SegWit v0
// PSBT input (p2wkh, np2wkh) from the given wallet information.
func addInputInfoSegWitV0(in *psbt.PInput, prevTx *wire.MsgTx, utxo *wire.TxOut,
	derivation *psbt.Bip32Derivation) error {

	// As a fix for CVE-2020-14199 we have to always include the full
	// non-witness UTXO in the PSBT for segwit v0.
	in.NonWitnessUtxo = prevTx

	// To make it more obvious that this is actually a witness output being
	// spent, we also add the same information as the witness UTXO.
	in.WitnessUtxo = &wire.TxOut{
		Value:    utxo.Value,
		PkScript: utxo.PkScript,
	}
	in.SighashType = txscript.SigHashAll

	in.Bip32Derivation = []*psbt.Bip32Derivation{
		derivation,
	}

	// For nested P2WKH the signer needs the redeem script, the witness
	// program of the key.
	if txscript.IsPayToScriptHash(utxo.PkScript) {
		witnessProgram, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).
			AddData(btcutil.Hash160(derivation.PubKey)).
			Script()
		if err != nil {
			return err
		}
		in.RedeemScript = witnessProgram
	}

	return nil
}

// addInputInfoSegWitV1 adds the UTXO and BIP32 derivation info for a SegWit v1
// PSBT input (p2tr) from the given wallet information.
func addInputInfoSegWitV1(in *psbt.PInput, utxo *wire.TxOut,
	derivation *psbt.Bip32Derivation) {

	// For SegWit v1 we only need the witness UTXO information.
	in.WitnessUtxo = &wire.TxOut{
		Value:    utxo.Value,
		PkScript: utxo.PkScript,
	}
	in.SighashType = txscript.SigHashDefault

	in.Bip32Derivation = []*psbt.Bip32Derivation{
		derivation,
	}

	xOnly := derivation.PubKey[1:]
	in.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
		XOnlyPubKey:          xOnly,
		MasterKeyFingerprint: derivation.MasterKeyFingerprint,
		Bip32Path:            derivation.Bip32Path,
	}}
	in.TaprootInternalKey = xOnly
}

// createOutputInfo creates the BIP32 derivation info for a change output.
func createOutputInfo(txOut *wire.TxOut,
	derivation *psbt.Bip32Derivation) *psbt.POutput {

	out := &psbt.POutput{
		Bip32Derivation: []*psbt.Bip32Derivation{
			derivation,
		},
	}

	// Include the Taproot derivation path as well if this is a P2TR output.
	if txscript.IsPayToTaproot(txOut.PkScript) {
		schnorrPubKey := derivation.PubKey[1:]
		out.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
			XOnlyPubKey:          schnorrPubKey,
			MasterKeyFingerprint: derivation.MasterKeyFingerprint,
			Bip32Path:            derivation.Bip32Path,
		}}
		out.TaprootInternalKey = schnorrPubKey
	}

	return out
}
