// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keychain tracks the revealed and used derivation indices of the two
// keychains of a descriptor wallet and maps output scripts back to the
// keychain and index that derived them.
package keychain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultLookahead is the number of scripts past the last revealed index
// that are derived ahead of time so that incoming payments to addresses not
// yet revealed locally are still recognized.
const DefaultLookahead = 25

// KeychainKind identifies one of the two derivation lineages of a wallet.
type KeychainKind uint8

const (
	// External is the receiving keychain.
	External KeychainKind = iota

	// Internal is the change keychain.
	Internal
)

// AllKeychains lists the keychains in their canonical order.
var AllKeychains = []KeychainKind{External, Internal}

// String returns the name of the keychain.
func (k KeychainKind) String() string {
	switch k {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKeychainKind maps a keychain name to a KeychainKind.
func ParseKeychainKind(name string) (KeychainKind, error) {
	switch strings.ToLower(name) {
	case "external", "receive":
		return External, nil
	case "internal", "change":
		return Internal, nil
	default:
		return 0, fmt.Errorf("unknown keychain %q", name)
	}
}

// Index is the derivation state of a single keychain.
type Index struct {
	// LastRevealed is the highest index handed out to a caller.
	LastRevealed fn.Option[uint32]

	// LastUsed is the highest index with observed on-chain activity.
	LastUsed fn.Option[uint32]
}

// ScriptRef locates a derived script.
type ScriptRef struct {
	Keychain KeychainKind
	Index    uint32
}

// IndexedScript is a derived script together with its location.
type IndexedScript struct {
	ScriptRef
	Script []byte
}

// TxOutIndex holds the descriptors of both keychains, their derivation
// indices and a cache of derived scripts covering every revealed index plus
// the lookahead window.
//
// TxOutIndex is not safe for concurrent mutation. The wallet serializes
// access to it.
type TxOutIndex struct {
	descriptors map[KeychainKind]*descriptor.Descriptor
	lookahead   uint32

	indices  map[KeychainKind]*Index
	scripts  map[KeychainKind]map[uint32][]byte
	byScript map[string]ScriptRef
	used     map[KeychainKind]map[uint32]struct{}

	// cachedNext is the lowest index of each keychain from which the
	// script cache is not known to be contiguous.
	cachedNext map[KeychainKind]uint32
}

// NewTxOutIndex creates an index over the external and internal descriptors.
// Both must be bound to the same network and derive different scripts.
func NewTxOutIndex(external, internal *descriptor.Descriptor,
	lookahead uint32) (*TxOutIndex, *ChangeSet, error) {

	if external.Network() != internal.Network() {
		return nil, nil, walleterr.Errorf(
			walleterr.ErrInvalidDescriptor, "external descriptor "+
				"is for %v but internal descriptor is for %v",
			external.Network(), internal.Network(),
		)
	}
	if external.ID() == internal.ID() {
		return nil, nil, walleterr.Errorf(
			walleterr.ErrInvalidDescriptor, "external and "+
				"internal descriptors must differ",
		)
	}

	idx := &TxOutIndex{
		descriptors: map[KeychainKind]*descriptor.Descriptor{
			External: external,
			Internal: internal,
		},
		lookahead:  lookahead,
		indices:    make(map[KeychainKind]*Index),
		scripts:    make(map[KeychainKind]map[uint32][]byte),
		byScript:   make(map[string]ScriptRef),
		used:       make(map[KeychainKind]map[uint32]struct{}),
		cachedNext: make(map[KeychainKind]uint32),
	}
	for _, kc := range AllKeychains {
		idx.indices[kc] = &Index{}
		idx.scripts[kc] = make(map[uint32][]byte)
		idx.used[kc] = make(map[uint32]struct{})
	}

	cs := NewChangeSet()
	for _, kc := range AllKeychains {
		if err := idx.fillLookahead(kc, cs); err != nil {
			return nil, nil, err
		}
	}

	return idx, cs, nil
}

// Clone returns a deep copy of the index state. Descriptors and script byte
// slices are immutable and shared.
func (t *TxOutIndex) Clone() *TxOutIndex {
	c := &TxOutIndex{
		descriptors: t.descriptors,
		lookahead:   t.lookahead,
		indices:     make(map[KeychainKind]*Index, len(t.indices)),
		scripts:     make(map[KeychainKind]map[uint32][]byte),
		byScript:    make(map[string]ScriptRef, len(t.byScript)),
		used:        make(map[KeychainKind]map[uint32]struct{}),
		cachedNext:  make(map[KeychainKind]uint32, len(t.cachedNext)),
	}
	for kc, index := range t.indices {
		cp := *index
		c.indices[kc] = &cp
	}
	for kc, scripts := range t.scripts {
		m := make(map[uint32][]byte, len(scripts))
		for i, s := range scripts {
			m[i] = s
		}
		c.scripts[kc] = m
	}
	for s, ref := range t.byScript {
		c.byScript[s] = ref
	}
	for kc, used := range t.used {
		m := make(map[uint32]struct{}, len(used))
		for i := range used {
			m[i] = struct{}{}
		}
		c.used[kc] = m
	}
	for kc, next := range t.cachedNext {
		c.cachedNext[kc] = next
	}

	return c
}

// Descriptor returns the descriptor of kc.
func (t *TxOutIndex) Descriptor(kc KeychainKind) *descriptor.Descriptor {
	return t.descriptors[kc]
}

// LastRevealed returns the highest revealed index of kc.
func (t *TxOutIndex) LastRevealed(kc KeychainKind) fn.Option[uint32] {
	return t.indices[kc].LastRevealed
}

// LastUsed returns the highest index of kc with observed activity.
func (t *TxOutIndex) LastUsed(kc KeychainKind) fn.Option[uint32] {
	return t.indices[kc].LastUsed
}

// IsUsed reports whether the script at index of kc has observed activity.
func (t *TxOutIndex) IsUsed(kc KeychainKind, index uint32) bool {
	_, ok := t.used[kc][index]
	return ok
}

// Lookup returns the keychain and index that derived script.
func (t *TxOutIndex) Lookup(script []byte) (ScriptRef, bool) {
	ref, ok := t.byScript[string(script)]
	return ref, ok
}

// Peek derives the address at index of kc without revealing it.
func (t *TxOutIndex) Peek(kc KeychainKind,
	index uint32) (*descriptor.Address, error) {

	desc, ok := t.descriptors[kc]
	if !ok {
		return nil, fmt.Errorf("unknown keychain %v", kc)
	}

	return desc.Derive(index)
}

// nextIndex returns the index following opt, or zero when opt is None.
func nextIndex(opt fn.Option[uint32]) uint32 {
	return fn.ElimOption(opt, func() uint32 { return 0 },
		func(i uint32) uint32 { return i + 1 },
	)
}

// RevealNext reveals and returns the address following the last revealed
// one of kc. An index is never returned twice by RevealNext.
func (t *TxOutIndex) RevealNext(kc KeychainKind) (*descriptor.Address,
	*ChangeSet, error) {

	next := nextIndex(t.indices[kc].LastRevealed)
	addr, err := t.Peek(kc, next)
	if err != nil {
		return nil, nil, err
	}

	cs := NewChangeSet()
	if err := t.reveal(kc, next, cs); err != nil {
		return nil, nil, err
	}

	log.Debugf("Revealed %v address %v at index %d", kc, addr, next)

	return addr, cs, nil
}

// RevealTo reveals every index of kc up to and including target and returns
// the newly revealed addresses, which is empty if target was already
// revealed.
func (t *TxOutIndex) RevealTo(kc KeychainKind,
	target uint32) ([]*descriptor.Address, *ChangeSet, error) {

	if target >= hdkeychain.HardenedKeyStart {
		return nil, nil, walleterr.Errorf(walleterr.ErrOutOfRange,
			"derivation index %d is not below %d", target,
			uint32(hdkeychain.HardenedKeyStart))
	}

	var (
		addrs []*descriptor.Address
		cs    = NewChangeSet()
	)
	for i := nextIndex(t.indices[kc].LastRevealed); i <= target; i++ {
		addr, err := t.Peek(kc, i)
		if err != nil {
			return nil, nil, err
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) > 0 {
		if err := t.reveal(kc, target, cs); err != nil {
			return nil, nil, err
		}
	}

	return addrs, cs, nil
}

// NextUnused returns the lowest index of kc above the last used one,
// revealing it only if it lies past the last revealed index.
func (t *TxOutIndex) NextUnused(kc KeychainKind) (*descriptor.Address,
	*ChangeSet, error) {

	index := t.indices[kc]
	candidate := nextIndex(index.LastUsed)

	revealed := fn.ElimOption(index.LastRevealed,
		func() bool { return false },
		func(last uint32) bool { return candidate <= last },
	)
	if !revealed {
		return t.RevealNext(kc)
	}

	addr, err := t.Peek(kc, candidate)
	if err != nil {
		return nil, nil, err
	}

	return addr, NewChangeSet(), nil
}

// ListUnused returns the revealed addresses of kc without observed activity,
// in ascending index order.
func (t *TxOutIndex) ListUnused(kc KeychainKind) ([]*descriptor.Address,
	error) {

	var addrs []*descriptor.Address
	err := fn.MapOptionZ(t.indices[kc].LastRevealed,
		func(last uint32) error {
			for i := uint32(0); i <= last; i++ {
				if t.IsUsed(kc, i) {
					continue
				}
				addr, err := t.Peek(kc, i)
				if err != nil {
					return err
				}
				addrs = append(addrs, addr)
			}
			return nil
		},
	)

	return addrs, err
}

// MarkUsed records activity on index of kc. Indices past the last revealed
// one are revealed so that last used never exceeds last revealed. It is only
// called when applying chain data.
func (t *TxOutIndex) MarkUsed(kc KeychainKind, index uint32,
	cs *ChangeSet) error {

	state := t.indices[kc]
	if err := t.reveal(kc, index, cs); err != nil {
		return err
	}

	t.used[kc][index] = struct{}{}
	if state.LastUsed.IsNone() || state.LastUsed.UnsafeFromSome() < index {
		state.LastUsed = fn.Some(index)
	}

	return nil
}

// reveal advances the last revealed index of kc to index if it is higher and
// extends the script cache accordingly.
func (t *TxOutIndex) reveal(kc KeychainKind, index uint32,
	cs *ChangeSet) error {

	state := t.indices[kc]
	if state.LastRevealed.IsSome() &&
		state.LastRevealed.UnsafeFromSome() >= index {

		return nil
	}

	state.LastRevealed = fn.Some(index)
	cs.setRevealed(kc, index)

	return t.fillLookahead(kc, cs)
}

// fillLookahead derives every missing script of kc up to the last revealed
// index plus the lookahead.
func (t *TxOutIndex) fillLookahead(kc KeychainKind, cs *ChangeSet) error {
	end := uint64(nextIndex(t.indices[kc].LastRevealed)) +
		uint64(t.lookahead)
	if end > hdkeychain.HardenedKeyStart {
		end = hdkeychain.HardenedKeyStart
	}

	scripts := t.scripts[kc]
	for i := uint64(t.cachedNext[kc]); i < end; i++ {
		index := uint32(i)
		if _, ok := scripts[index]; ok {
			continue
		}

		addr, err := t.descriptors[kc].Derive(index)
		if err != nil {
			return err
		}
		t.insertScript(kc, index, addr.Script)
		cs.addScript(kc, index, addr.Script)
	}
	if uint32(end) > t.cachedNext[kc] {
		t.cachedNext[kc] = uint32(end)
	}

	return nil
}

// insertScript adds a script to the cache.
func (t *TxOutIndex) insertScript(kc KeychainKind, index uint32,
	script []byte) {

	t.scripts[kc][index] = script
	t.byScript[string(script)] = ScriptRef{Keychain: kc, Index: index}
}

// ApplyChangeSet replays a keychain changeset: cached scripts are inserted
// without derivation and revealed indices advance to the recorded values.
// The returned changeset holds scripts that had to be derived to complete
// the lookahead window.
func (t *TxOutIndex) ApplyChangeSet(cs *ChangeSet) (*ChangeSet, error) {
	derived := NewChangeSet()
	if cs == nil {
		return derived, nil
	}

	for kc, scripts := range cs.SpkCache {
		if _, ok := t.descriptors[kc]; !ok {
			continue
		}
		for index, script := range scripts {
			t.insertScript(kc, index, script)
		}
	}

	for _, kc := range AllKeychains {
		last, ok := cs.LastRevealed[kc]
		if !ok {
			continue
		}

		state := t.indices[kc]
		if state.LastRevealed.IsNone() ||
			state.LastRevealed.UnsafeFromSome() < last {

			state.LastRevealed = fn.Some(last)
		}
	}

	for _, kc := range AllKeychains {
		if err := t.fillLookahead(kc, derived); err != nil {
			return nil, err
		}
	}

	return derived, nil
}

// ScriptAt returns the script at index of kc from the cache, deriving it if
// it is not cached. It never mutates the index.
func (t *TxOutIndex) ScriptAt(kc KeychainKind, index uint32) ([]byte, error) {
	if script, ok := t.scripts[kc][index]; ok {
		return script, nil
	}

	addr, err := t.Peek(kc, index)
	if err != nil {
		return nil, err
	}

	return addr.Script, nil
}

// RevealedScripts returns every revealed script of both keychains, ordered
// by keychain and index.
func (t *TxOutIndex) RevealedScripts() ([]IndexedScript, error) {
	var out []IndexedScript
	for _, kc := range AllKeychains {
		last := t.indices[kc].LastRevealed
		if last.IsNone() {
			continue
		}

		for i := uint32(0); i <= last.UnsafeFromSome(); i++ {
			script, err := t.ScriptAt(kc, i)
			if err != nil {
				return nil, err
			}
			out = append(out, IndexedScript{
				ScriptRef: ScriptRef{Keychain: kc, Index: i},
				Script:    script,
			})
		}
	}

	return out, nil
}

// CachedScripts returns every cached script of kc in ascending index order.
func (t *TxOutIndex) CachedScripts(kc KeychainKind) []IndexedScript {
	out := make([]IndexedScript, 0, len(t.scripts[kc]))
	for index, script := range t.scripts[kc] {
		out = append(out, IndexedScript{
			ScriptRef: ScriptRef{Keychain: kc, Index: index},
			Script:    script,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Index < out[j].Index
	})

	return out
}
