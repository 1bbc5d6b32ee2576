package keychain

import (
	"testing"

	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	testExternalPub = "wpkh([27f9035f/84'/1'/0']tpubDCkv2fHDfPg5hB6bFqJ4f" +
		"Niins2Z8r5vKtD4xq5irCG2HsUXkgHYsj3gfGTdvAv41hoJeXjfxu7EBQqZMm6" +
		"SVkxztKFtaaE7HuLdkuL7KNq/0/*)#wle7e0wp"
	testInternalPub = "wpkh([27f9035f/84'/1'/0']tpubDCkv2fHDfPg5hB6bFqJ4f" +
		"Niins2Z8r5vKtD4xq5irCG2HsUXkgHYsj3gfGTdvAv41hoJeXjfxu7EBQqZMm6" +
		"SVkxztKFtaaE7HuLdkuL7KNq/1/*)#ltuly67e"

	testFirstAddress = "tb1qjtgffm20l9vu6a7gacxvpu2ej4kdcsgc26xfdz"
)

// newTestIndex returns an index over the test wallet descriptors.
func newTestIndex(t require.TestingT, lookahead uint32) (*TxOutIndex,
	*ChangeSet) {

	ext, err := descriptor.Parse(testExternalPub, netparams.Testnet)
	require.NoError(t, err)
	internal, err := descriptor.Parse(testInternalPub, netparams.Testnet)
	require.NoError(t, err)

	idx, cs, err := NewTxOutIndex(ext, internal, lookahead)
	require.NoError(t, err)

	return idx, cs
}

// TestNewTxOutIndex checks the initial lookahead and descriptor checks.
func TestNewTxOutIndex(t *testing.T) {
	t.Parallel()

	idx, cs := newTestIndex(t, 5)
	require.True(t, idx.LastRevealed(External).IsNone())
	require.True(t, idx.LastUsed(Internal).IsNone())
	require.Len(t, cs.SpkCache[External], 5)
	require.Len(t, cs.SpkCache[Internal], 5)
	require.Empty(t, cs.LastRevealed)

	// Unrevealed lookahead scripts are still recognized.
	addr, err := idx.Peek(Internal, 4)
	require.NoError(t, err)
	ref, ok := idx.Lookup(addr.Script)
	require.True(t, ok)
	require.Equal(t, ScriptRef{Keychain: Internal, Index: 4}, ref)

	ext := idx.Descriptor(External)
	_, _, err = NewTxOutIndex(ext, ext, 5)
	require.True(t, walleterr.Is(err, walleterr.ErrInvalidDescriptor))
}

// TestPeekDoesNotReveal checks that peeking is read only.
func TestPeekDoesNotReveal(t *testing.T) {
	t.Parallel()

	idx, _ := newTestIndex(t, 0)

	a, err := idx.Peek(External, 0)
	require.NoError(t, err)
	b, err := idx.Peek(External, 0)
	require.NoError(t, err)

	require.Equal(t, testFirstAddress, a.String())
	require.Equal(t, a.String(), b.String())
	require.True(t, idx.LastRevealed(External).IsNone())
}

// TestRevealNextMonotonic checks that the n-th reveal returns index n-1.
func TestRevealNextMonotonic(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		idx, _ := newTestIndex(t, 2)
		n := rapid.IntRange(1, 30).Draw(t, "n")

		seen := make(map[string]struct{})
		for i := 0; i < n; i++ {
			kc := rapid.SampledFrom(AllKeychains).Draw(t, "kc")
			before := nextIndex(idx.LastRevealed(kc))

			addr, cs, err := idx.RevealNext(kc)
			require.NoError(t, err)
			require.Equal(t, before, addr.Index)
			require.Equal(t, addr.Index, cs.LastRevealed[kc])

			_, dup := seen[addr.String()]
			require.False(t, dup)
			seen[addr.String()] = struct{}{}
		}
	})
}

// TestNextUnused checks that next unused skips used indices and only
// reveals when needed.
func TestNextUnused(t *testing.T) {
	t.Parallel()

	idx, _ := newTestIndex(t, 10)

	// Nothing revealed: the first call reveals index 0, the second
	// returns it again without revealing more.
	addr, cs, err := idx.NextUnused(External)
	require.NoError(t, err)
	require.Equal(t, uint32(0), addr.Index)
	require.Equal(t, uint32(0), cs.LastRevealed[External])

	addr, cs, err = idx.NextUnused(External)
	require.NoError(t, err)
	require.Equal(t, uint32(0), addr.Index)
	require.True(t, cs.IsEmpty())

	// Reveal a few more, then observe activity on index 1.
	_, _, err = idx.RevealTo(External, 3)
	require.NoError(t, err)

	require.NoError(t, idx.MarkUsed(External, 1, NewChangeSet()))
	require.Equal(t, fn.Some(uint32(1)), idx.LastUsed(External))

	addr, cs, err = idx.NextUnused(External)
	require.NoError(t, err)
	require.Equal(t, uint32(2), addr.Index)
	require.True(t, cs.IsEmpty())

	// Activity beyond the revealed range reveals up to it.
	markCS := NewChangeSet()
	require.NoError(t, idx.MarkUsed(External, 7, markCS))
	require.Equal(t, uint32(7), markCS.LastRevealed[External])
	require.Equal(t, fn.Some(uint32(7)), idx.LastRevealed(External))

	addr, cs, err = idx.NextUnused(External)
	require.NoError(t, err)
	require.Equal(t, uint32(8), addr.Index)
	require.Equal(t, uint32(8), cs.LastRevealed[External])

	unused, err := idx.ListUnused(External)
	require.NoError(t, err)

	var indices []uint32
	for _, a := range unused {
		indices = append(indices, a.Index)
	}
	require.Equal(t, []uint32{0, 2, 3, 4, 5, 6, 8}, indices)
}

// TestRevealTo checks bulk reveal.
func TestRevealTo(t *testing.T) {
	t.Parallel()

	idx, _ := newTestIndex(t, 1)

	addrs, cs, err := idx.RevealTo(Internal, 4)
	require.NoError(t, err)
	require.Len(t, addrs, 5)
	require.Equal(t, uint32(4), cs.LastRevealed[Internal])

	// The lookahead moved with the revealed index.
	require.Contains(t, cs.SpkCache[Internal], uint32(5))

	addrs, cs, err = idx.RevealTo(Internal, 2)
	require.NoError(t, err)
	require.Empty(t, addrs)
	require.True(t, cs.IsEmpty())

	scripts, err := idx.RevealedScripts()
	require.NoError(t, err)
	require.Len(t, scripts, 5)

	_, _, err = idx.RevealTo(Internal, 1<<31)
	require.True(t, walleterr.Is(err, walleterr.ErrOutOfRange))
}

// TestApplyChangeSet checks that replaying a changeset restores the index
// and uses cached scripts.
func TestApplyChangeSet(t *testing.T) {
	t.Parallel()

	idx, staged := newTestIndex(t, 3)
	_, cs, err := idx.RevealTo(External, 6)
	require.NoError(t, err)
	staged.Merge(cs)

	fresh, _ := newTestIndex(t, 3)
	derived, err := fresh.ApplyChangeSet(staged)
	require.NoError(t, err)
	require.True(t, derived.IsEmpty())

	require.Equal(t, idx.LastRevealed(External),
		fresh.LastRevealed(External))
	require.Equal(t, idx.CachedScripts(External),
		fresh.CachedScripts(External))

	clone := fresh.Clone()
	_, _, err = clone.RevealNext(External)
	require.NoError(t, err)
	require.Equal(t, fn.Some(uint32(6)), fresh.LastRevealed(External))
	require.Equal(t, fn.Some(uint32(7)), clone.LastRevealed(External))
}

// TestChangeSetMergeLaws checks associativity and idempotence of merges.
func TestChangeSetMergeLaws(t *testing.T) {
	t.Parallel()

	genCS := rapid.Custom(func(t *rapid.T) *ChangeSet {
		cs := NewChangeSet()
		for _, kc := range AllKeychains {
			if rapid.Bool().Draw(t, "has") {
				cs.setRevealed(kc, rapid.Uint32Range(
					0, 50).Draw(t, "idx"))
			}
			n := rapid.IntRange(0, 3).Draw(t, "n")
			for i := 0; i < n; i++ {
				index := rapid.Uint32Range(0, 50).Draw(t, "s")
				cs.addScript(kc, index, []byte{
					byte(kc), byte(index),
				})
			}
		}
		return cs
	})

	rapid.Check(t, func(t *rapid.T) {
		a := genCS.Draw(t, "a")
		b := genCS.Draw(t, "b")
		c := genCS.Draw(t, "c")

		left := NewChangeSet()
		left.Merge(a)
		left.Merge(b)
		left.Merge(c)

		bc := NewChangeSet()
		bc.Merge(b)
		bc.Merge(c)
		right := NewChangeSet()
		right.Merge(a)
		right.Merge(bc)

		require.True(t, left.Equal(right))

		// Re-applying an applied prefix changes nothing.
		again := NewChangeSet()
		again.Merge(left)
		again.Merge(a)
		require.True(t, again.Equal(left))
	})
}

// TestParseKeychainKind checks name parsing.
func TestParseKeychainKind(t *testing.T) {
	t.Parallel()

	for _, kc := range AllKeychains {
		parsed, err := ParseKeychainKind(kc.String())
		require.NoError(t, err)
		require.Equal(t, kc, parsed)
	}

	_, err := ParseKeychainKind("savings")
	require.Error(t, err)
}
