// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/descwallet/changeset"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// LoadConfig holds the options of Load.
type LoadConfig struct {
	Config

	// Network, when set, must match the recorded network.
	Network fn.Option[netparams.Network]

	// External and Internal are descriptor texts that must describe the
	// recorded keychains. Private descriptors enable signing. Keychains
	// without a supplied descriptor use the recorded public one.
	External fn.Option[string]
	Internal fn.Option[string]
}

func (c *LoadConfig) supplied(kc keychain.KeychainKind) fn.Option[string] {
	if c == nil {
		return fn.None[string]()
	}
	if kc == keychain.Internal {
		return c.Internal
	}
	return c.External
}

func (c *LoadConfig) config() *Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load rebuilds a wallet from a persisted changeset. It fails with
// walleterr.ErrInvalidChangeSet when the changeset lacks the network or a
// descriptor, and with walleterr.ErrDescriptorMismatch when cfg supplies a
// network or descriptors that disagree with the recorded ones.
func Load(cs *changeset.ChangeSet, cfg *LoadConfig) (*Wallet, error) {
	if cs.IsEmpty() {
		return nil, walleterr.Errorf(walleterr.ErrInvalidChangeSet,
			"changeset is empty")
	}

	net, err := cs.Network.UnwrapOrErr(walleterr.Errorf(
		walleterr.ErrInvalidChangeSet, "changeset has no network",
	))
	if err != nil {
		return nil, err
	}

	if cfg != nil {
		err := fn.MapOptionZ(cfg.Network,
			func(expected netparams.Network) error {
				if expected == net {
					return nil
				}
				return walleterr.Errorf(
					walleterr.ErrDescriptorMismatch,
					"wallet is for %v, not %v", net,
					expected,
				)
			},
		)
		if err != nil {
			return nil, err
		}
	}

	descs := make(map[keychain.KeychainKind]*descriptor.Descriptor)
	for _, kc := range keychain.AllKeychains {
		desc, err := loadDescriptor(cs, kc, net, cfg.supplied(kc))
		if err != nil {
			return nil, err
		}
		descs[kc] = desc
	}

	w, _, _, err := newWallet(
		descs[keychain.External], descs[keychain.Internal], cfg.config(),
	)
	if err != nil {
		return nil, err
	}

	if cs.Indexer != nil {
		derived, err := w.index.ApplyChangeSet(cs.Indexer)
		if err != nil {
			return nil, err
		}
		w.stage.Indexer.Merge(derived)
	}
	if cs.Chain != nil {
		if err := w.store.ApplyChangeSet(cs.Chain); err != nil {
			return nil, err
		}
	}

	// Usage is not persisted. It follows from the replayed outputs.
	for _, out := range w.store.Outputs(w.index) {
		err := w.index.MarkUsed(out.Keychain, out.Index, w.stage.Indexer)
		if err != nil {
			return nil, err
		}
	}

	log.Infof("Loaded %v wallet at tip %v", net, w.store.Tip().BlockID())

	return w, nil
}

// loadDescriptor returns the descriptor to use for kc: the supplied one
// when it matches the recorded public descriptor, the recorded one
// otherwise.
func loadDescriptor(cs *changeset.ChangeSet, kc keychain.KeychainKind,
	net netparams.Network,
	supplied fn.Option[string]) (*descriptor.Descriptor, error) {

	text, ok := cs.Descriptors[kc]
	if !ok {
		return nil, walleterr.Errorf(walleterr.ErrInvalidChangeSet,
			"changeset has no %v descriptor", kc)
	}
	recorded, err := descriptor.Parse(text, net)
	if err != nil {
		return nil, walleterr.New(walleterr.ErrInvalidChangeSet,
			"recorded "+kc.String()+" descriptor is invalid", err)
	}

	if supplied.IsNone() {
		return recorded, nil
	}

	desc, err := descriptor.Parse(supplied.UnsafeFromSome(), net)
	if err != nil {
		return nil, err
	}
	pub, err := desc.PublicProjection()
	if err != nil {
		return nil, err
	}
	if pub.ID() != recorded.ID() {
		return nil, walleterr.Errorf(walleterr.ErrDescriptorMismatch,
			"supplied %v descriptor %v does not match recorded %v",
			kc, pub, recorded)
	}

	return desc, nil
}
