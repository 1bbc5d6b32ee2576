// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"fmt"
	"math"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BlockID identifies a block by height and hash.
type BlockID struct {
	Height uint32
	Hash   chainhash.Hash
}

// String returns the block as height:hash.
func (b BlockID) String() string {
	return fmt.Sprintf("%d:%v", b.Height, b.Hash)
}

// CheckPoint is a node of an immutable, singly linked chain of blocks
// ordered by strictly increasing height from the genesis end to the tip.
// Blocks between two checkpoints need not be present.
type CheckPoint struct {
	block BlockID
	prev  *CheckPoint
}

// NewCheckPoint returns a single node chain.
func NewCheckPoint(block BlockID) *CheckPoint {
	return &CheckPoint{block: block}
}

// CheckPointFromBlocks builds a chain from blocks sorted by ascending
// height.
func CheckPointFromBlocks(blocks []BlockID) (*CheckPoint, error) {
	if len(blocks) == 0 {
		return nil, walleterr.Errorf(walleterr.ErrInconsistentChain,
			"checkpoint chain needs at least one block")
	}

	cp := NewCheckPoint(blocks[0])
	return cp.Extend(blocks[1:]...)
}

// BlockID returns the block of the checkpoint.
func (cp *CheckPoint) BlockID() BlockID {
	return cp.block
}

// Height returns the height of the checkpoint.
func (cp *CheckPoint) Height() uint32 {
	return cp.block.Height
}

// Hash returns the block hash of the checkpoint.
func (cp *CheckPoint) Hash() chainhash.Hash {
	return cp.block.Hash
}

// Prev returns the previous checkpoint, or nil at the start of the chain.
func (cp *CheckPoint) Prev() *CheckPoint {
	return cp.prev
}

// Push returns a new tip on top of cp. The height must be greater than the
// height of cp.
func (cp *CheckPoint) Push(block BlockID) (*CheckPoint, error) {
	if block.Height <= cp.block.Height {
		return nil, walleterr.Errorf(walleterr.ErrInconsistentChain,
			"checkpoint %v does not extend tip %v", block,
			cp.block)
	}

	return &CheckPoint{block: block, prev: cp}, nil
}

// Extend pushes every block in order.
func (cp *CheckPoint) Extend(blocks ...BlockID) (*CheckPoint, error) {
	tip := cp
	for _, block := range blocks {
		var err error
		tip, err = tip.Push(block)
		if err != nil {
			return nil, err
		}
	}

	return tip, nil
}

// Get returns the checkpoint at height, or nil if the chain has none.
func (cp *CheckPoint) Get(height uint32) *CheckPoint {
	for node := cp; node != nil; node = node.prev {
		switch {
		case node.block.Height == height:
			return node
		case node.block.Height < height:
			return nil
		}
	}

	return nil
}

// Blocks returns the blocks of the chain in ascending height order.
func (cp *CheckPoint) Blocks() []BlockID {
	var blocks []BlockID
	for node := cp; node != nil; node = node.prev {
		blocks = append(blocks, node.block)
	}
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}

	return blocks
}

// LocalChain is the wallet's view of the best chain: a sparse set of blocks
// keyed by height.
type LocalChain struct {
	blocks map[uint32]chainhash.Hash
	tip    *CheckPoint
}

// newLocalChain returns a chain holding only the genesis block.
func newLocalChain(genesis chainhash.Hash) *LocalChain {
	c := &LocalChain{
		blocks: map[uint32]chainhash.Hash{0: genesis},
	}
	c.rebuildTip()

	return c
}

// clone returns a copy of the chain. Checkpoints are immutable and shared.
func (c *LocalChain) clone() *LocalChain {
	blocks := make(map[uint32]chainhash.Hash, len(c.blocks))
	for h, hash := range c.blocks {
		blocks[h] = hash
	}

	return &LocalChain{blocks: blocks, tip: c.tip}
}

// rebuildTip recreates the checkpoint list from the block map.
func (c *LocalChain) rebuildTip() {
	heights := make([]uint32, 0, len(c.blocks))
	for h := range c.blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool {
		return heights[i] < heights[j]
	})

	var tip *CheckPoint
	for _, h := range heights {
		tip = &CheckPoint{
			block: BlockID{Height: h, Hash: c.blocks[h]},
			prev:  tip,
		}
	}
	c.tip = tip
}

// Tip returns the highest checkpoint.
func (c *LocalChain) Tip() *CheckPoint {
	return c.tip
}

// Contains reports whether block is part of the chain.
func (c *LocalChain) Contains(block BlockID) bool {
	hash, ok := c.blocks[block.Height]
	return ok && hash == block.Hash
}

// Hash returns the hash of the block at height, if the chain has one.
func (c *LocalChain) Hash(height uint32) (chainhash.Hash, bool) {
	hash, ok := c.blocks[height]
	return hash, ok
}

// applyBlocks applies a block changeset: Some inserts or replaces, None
// evicts.
func (c *LocalChain) applyBlocks(blocks map[uint32]fn.Option[chainhash.Hash]) {
	if len(blocks) == 0 {
		return
	}

	for h, entry := range blocks {
		entry.WhenSome(func(hash chainhash.Hash) {
			c.blocks[h] = hash
		})
		if entry.IsNone() {
			delete(c.blocks, h)
		}
	}
	c.rebuildTip()
}

// chainMerge is the outcome of merging an update into the local chain.
type chainMerge struct {
	// blocks are the checkpoint inserts and evictions.
	blocks map[uint32]fn.Option[chainhash.Hash]

	// reorgBelow is the height of the common ancestor when the update
	// forked the local chain. Local blocks above it were unwound.
	reorgBelow fn.Option[uint32]
}

// merge computes the transition that takes the local chain to the chain
// described by update, without modifying c. The transition finds the highest
// block both chains agree on and, if any height conflicts, unwinds every
// local block above that common ancestor before inserting the update's
// blocks. A conflict without a common ancestor below it, agreement above a
// conflict, or an update sharing no block that reaches below the local tip
// cannot be resolved and is reported as ErrInconsistentChain.
func (c *LocalChain) merge(update map[uint32]chainhash.Hash) (*chainMerge,
	error) {

	var agreement, conflict fn.Option[uint32]
	for h, hash := range update {
		local, ok := c.blocks[h]
		if !ok {
			continue
		}

		if local == hash {
			if agreement.IsNone() || agreement.UnsafeFromSome() < h {
				agreement = fn.Some(h)
			}
			continue
		}

		if conflict.IsNone() || conflict.UnsafeFromSome() > h {
			conflict = fn.Some(h)
		}
	}

	// An update sharing no block with the local chain can only extend it.
	// Anything reaching below the local tip cannot be shown to connect.
	if agreement.IsNone() && conflict.IsNone() && len(update) > 0 {
		lowest := uint32(math.MaxUint32)
		for h := range update {
			if h < lowest {
				lowest = h
			}
		}
		if tip := c.Tip().Height(); tip > lowest {
			return nil, walleterr.Errorf(
				walleterr.ErrInconsistentChain, "update from "+
					"height %d does not connect to local "+
					"tip at height %d", lowest, tip,
			)
		}
	}

	result := &chainMerge{
		blocks: make(map[uint32]fn.Option[chainhash.Hash]),
	}

	if conflict.IsSome() {
		lowest := conflict.UnsafeFromSome()
		ancestor, err := agreement.UnwrapOrErr(walleterr.Errorf(
			walleterr.ErrInconsistentChain, "update conflicts "+
				"at height %d and shares no block with the "+
				"local chain", lowest,
		))
		if err != nil {
			return nil, err
		}
		if ancestor > lowest {
			return nil, walleterr.Errorf(
				walleterr.ErrInconsistentChain, "update "+
					"agrees at height %d above conflicting "+
					"height %d", ancestor, lowest,
			)
		}

		for h := range c.blocks {
			if h > ancestor {
				result.blocks[h] = fn.None[chainhash.Hash]()
			}
		}
		result.reorgBelow = fn.Some(ancestor)

		log.Infof("Chain reorganization: unwinding %d blocks above "+
			"height %d", len(result.blocks), ancestor)
	}

	for h, hash := range update {
		if local, ok := c.blocks[h]; ok && local == hash {
			continue
		}
		result.blocks[h] = fn.Some(hash)
	}

	return result, nil
}
