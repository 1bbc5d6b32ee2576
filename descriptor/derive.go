// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Address is a script derived from a descriptor at a given index.
type Address struct {
	// Index is the wildcard index the address was derived at.
	Index uint32

	// Type is the script template that produced the address.
	Type ScriptType

	// Address is the decoded address of the script.
	Address btcutil.Address

	// Script is the output script paying to the address.
	Script []byte
}

// String returns the encoded address text.
func (a *Address) String() string {
	return a.Address.EncodeAddress()
}

// checkIndex rejects indices outside of the non-hardened range.
func checkIndex(index uint32) error {
	if index >= hdkeychain.HardenedKeyStart {
		return walleterr.Errorf(walleterr.ErrOutOfRange,
			"derivation index %d is not below %d", index,
			uint32(hdkeychain.HardenedKeyStart))
	}

	return nil
}

// child derives the extended key at the wildcard position index.
func (d *Descriptor) child(index uint32) (*hdkeychain.ExtendedKey, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}

	return d.base.Derive(index)
}

// Derive returns the address at index. It is a pure function of the
// descriptor and index.
func (d *Descriptor) Derive(index uint32) (*Address, error) {
	child, err := d.child(index)
	if err != nil {
		return nil, err
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return nil, err
	}

	addr, err := d.scriptType.payToPubKey(pub, d.net.ChainParams())
	if err != nil {
		return nil, err
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return &Address{
		Index:   index,
		Type:    d.scriptType,
		Address: addr,
		Script:  script,
	}, nil
}

// payToPubKey builds the address of the template for a single public key.
func (s ScriptType) payToPubKey(pub *btcec.PublicKey,
	params *chaincfg.Params) (btcutil.Address, error) {

	pubKeyHash := btcutil.Hash160(pub.SerializeCompressed())

	switch s {
	case PKH:
		return btcutil.NewAddressPubKeyHash(pubKeyHash, params)

	case WPKH:
		return btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)

	case ShWPKH:
		p2wkh, err := btcutil.NewAddressWitnessPubKeyHash(
			pubKeyHash, params,
		)
		if err != nil {
			return nil, err
		}
		witnessProgram, err := txscript.PayToAddrScript(p2wkh)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressScriptHash(witnessProgram, params)

	case TR:
		outputKey := txscript.ComputeTaprootKeyNoScript(pub)
		return btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(outputKey), params,
		)

	default:
		return nil, invalid("unknown script type %v", s)
	}
}

// PubKey returns the public key derived at index. For taproot descriptors
// this is the internal key, before the output key tweak.
func (d *Descriptor) PubKey(index uint32) (*btcec.PublicKey, error) {
	child, err := d.child(index)
	if err != nil {
		return nil, err
	}

	return child.ECPubKey()
}

// PrivKey returns the private key derived at index. It fails with
// walleterr.ErrMissingPrivateKey for public descriptors.
func (d *Descriptor) PrivKey(index uint32) (*btcec.PrivateKey, error) {
	if !d.HasPrivateKey() {
		return nil, walleterr.Errorf(walleterr.ErrMissingPrivateKey,
			"descriptor %v holds no private key", d.scriptType)
	}

	child, err := d.child(index)
	if err != nil {
		return nil, err
	}

	return child.ECPrivKey()
}

// KeyOrigin returns the full origin of the key derived at index: the master
// fingerprint and the path from the master key. Descriptors without an
// origin treat their own key as the master.
func (d *Descriptor) KeyOrigin(index uint32) (KeyOrigin, error) {
	if err := checkIndex(index); err != nil {
		return KeyOrigin{}, err
	}

	origin, err := fn.ElimOption(
		d.origin,
		func() fn.Result[KeyOrigin] {
			fp, err := keyFingerprint(d.key)
			if err != nil {
				return fn.Err[KeyOrigin](err)
			}
			return fn.Ok(KeyOrigin{Fingerprint: fp})
		},
		fn.Ok[KeyOrigin],
	).Unpack()
	if err != nil {
		return KeyOrigin{}, err
	}

	path := make([]uint32, 0, len(origin.Path)+len(d.steps)+1)
	path = append(path, origin.Path...)
	path = append(path, d.steps...)
	path = append(path, index)

	return KeyOrigin{Fingerprint: origin.Fingerprint, Path: path}, nil
}
