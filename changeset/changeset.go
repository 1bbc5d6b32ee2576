// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package changeset defines the aggregate delta a wallet stages after every
// mutating operation. Changesets merge associatively and idempotently, so a
// persister can append them in any grouping and a wallet replays their
// merge to restore its state.
package changeset

import (
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChangeSet is the wallet delta.
type ChangeSet struct {
	// Network is set once, when the wallet is created.
	Network fn.Option[netparams.Network]

	// Descriptors are the public descriptor texts per keychain, set once
	// when the wallet is created.
	Descriptors map[keychain.KeychainKind]string

	// Indexer records revealed indices and derived scripts.
	Indexer *keychain.ChangeSet

	// Chain records checkpoints and transaction graph data.
	Chain *chainstate.ChangeSet
}

// New returns an empty changeset.
func New() *ChangeSet {
	return &ChangeSet{
		Descriptors: make(map[keychain.KeychainKind]string),
		Indexer:     keychain.NewChangeSet(),
		Chain:       chainstate.NewChangeSet(),
	}
}

// IsEmpty reports whether the changeset records nothing.
func (c *ChangeSet) IsEmpty() bool {
	return c == nil || c.Network.IsNone() && len(c.Descriptors) == 0 &&
		c.Indexer.IsEmpty() && c.Chain.IsEmpty()
}

// Merge folds other into c.
func (c *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}

	if c.Descriptors == nil {
		c.Descriptors = make(map[keychain.KeychainKind]string)
	}
	if c.Indexer == nil {
		c.Indexer = keychain.NewChangeSet()
	}
	if c.Chain == nil {
		c.Chain = chainstate.NewChangeSet()
	}

	c.Network = other.Network.Alt(c.Network)
	for kc, desc := range other.Descriptors {
		c.Descriptors[kc] = desc
	}
	c.Indexer.Merge(other.Indexer)
	c.Chain.Merge(other.Chain)
}

// Equal reports whether both changesets record the same data.
func (c *ChangeSet) Equal(other *ChangeSet) bool {
	if c.IsEmpty() || other.IsEmpty() {
		return c.IsEmpty() == other.IsEmpty()
	}

	if c.Network != other.Network ||
		len(c.Descriptors) != len(other.Descriptors) {

		return false
	}
	for kc, desc := range c.Descriptors {
		if other.Descriptors[kc] != desc {
			return false
		}
	}

	return c.Indexer.Equal(other.Indexer) && c.Chain.Equal(other.Chain)
}
