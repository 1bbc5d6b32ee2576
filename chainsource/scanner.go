// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainsource

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

func sourceError(desc string, err error) error {
	return walleterr.New(walleterr.ErrChainSource, desc, err)
}

// collector gathers transaction statuses from concurrent queries.
type collector struct {
	mu       sync.Mutex
	statuses map[chainhash.Hash]TxStatus
	evicted  map[chainhash.Hash]struct{}
}

func newCollector() *collector {
	return &collector{
		statuses: make(map[chainhash.Hash]TxStatus),
		evicted:  make(map[chainhash.Hash]struct{}),
	}
}

func (c *collector) add(statuses ...TxStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, status := range statuses {
		c.statuses[status.Txid] = status
	}
}

func (c *collector) evict(txid chainhash.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evicted[txid] = struct{}{}
}

func hashLess(a, b chainhash.Hash) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// Scanner implements Source on top of a Backend.
type Scanner struct {
	backend Backend
}

// A compile-time assertion to ensure Scanner meets the Source interface.
var _ Source = (*Scanner)(nil)

// NewScanner returns a scanner querying backend.
func NewScanner(backend Backend) *Scanner {
	return &Scanner{backend: backend}
}

// FullScan implements Source.
func (s *Scanner) FullScan(ctx context.Context, req *FullScanRequest,
	stopGap uint32, parallel int) (*Update, error) {

	if parallel < 1 {
		parallel = 1
	}
	if stopGap == 0 {
		stopGap = 1
	}

	col := newCollector()
	lastActive := make(map[keychain.KeychainKind]uint32)
	for _, kc := range keychain.AllKeychains {
		source, ok := req.Keychains[kc]
		if !ok {
			continue
		}

		last, err := s.scanKeychain(ctx, source, stopGap, parallel, col)
		if err != nil {
			return nil, err
		}
		last.WhenSome(func(index uint32) {
			lastActive[kc] = index
		})

		log.Debugf("Full scan of %v keychain: last active %v", kc,
			last)
	}

	update, err := s.finish(ctx, req.Tip, col, parallel)
	if err != nil {
		return nil, err
	}
	update.LastActiveIndices = lastActive

	return update, nil
}

// scanKeychain queries scripts in batches of parallel until stopGap
// consecutive scripts have no history. Results are consumed in index order,
// so the outcome does not depend on parallel.
func (s *Scanner) scanKeychain(ctx context.Context, source ScriptSource,
	stopGap uint32, parallel int, col *collector) (fn.Option[uint32],
	error) {

	var (
		lastActive fn.Option[uint32]
		gap        uint32
		next       uint32
	)
	for gap < stopGap && next < hdkeychain.HardenedKeyStart {
		batch := uint32(parallel)
		if remaining := hdkeychain.HardenedKeyStart - next; batch > remaining {
			batch = remaining
		}

		histories := make([][]TxStatus, batch)
		g, gctx := errgroup.WithContext(ctx)
		for i := uint32(0); i < batch; i++ {
			script, err := source(next + i)
			if err != nil {
				return fn.None[uint32](), err
			}

			g.Go(func() error {
				history, err := s.backend.ScriptHistory(
					gctx, script,
				)
				histories[i] = history
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return fn.None[uint32](), sourceError(
				"unable to fetch script history", err,
			)
		}

		for i, history := range histories {
			if gap >= stopGap {
				break
			}
			if len(history) == 0 {
				gap++
				continue
			}

			lastActive = fn.Some(next + uint32(i))
			gap = 0
			col.add(history...)
		}
		next += batch
	}

	return lastActive, nil
}

// Sync implements Source.
func (s *Scanner) Sync(ctx context.Context, req *SyncRequest,
	parallel int) (*Update, error) {

	if parallel < 1 {
		parallel = 1
	}

	col := newCollector()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for _, script := range req.Scripts {
		g.Go(func() error {
			history, err := s.backend.ScriptHistory(gctx, script)
			if err != nil {
				return err
			}
			col.add(history...)

			return nil
		})
	}
	for _, txid := range req.Txids {
		g.Go(func() error {
			status, err := s.backend.TxStatus(gctx, txid)
			if err != nil {
				return err
			}
			if status.Known() {
				col.add(status)
			} else {
				col.evict(txid)
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, sourceError("unable to sync", err)
	}

	update, err := s.finish(ctx, req.Tip, col, parallel)
	if err != nil {
		return nil, err
	}

	for txid := range col.evicted {
		if _, ok := col.statuses[txid]; ok {
			continue
		}
		update.Evicted = append(update.Evicted, txid)
	}
	sort.Slice(update.Evicted, func(i, j int) bool {
		return hashLess(update.Evicted[i], update.Evicted[j])
	})

	log.Debugf("Sync: scripts=%d txids=%d found=%d evicted=%d",
		len(req.Scripts), len(req.Txids), len(update.Txs),
		len(update.Evicted))

	return update, nil
}

// finish fetches the collected transactions and builds the chain update.
func (s *Scanner) finish(ctx context.Context, local *chainstate.CheckPoint,
	col *collector, parallel int) (*Update, error) {

	statuses := make([]TxStatus, 0, len(col.statuses))
	for _, status := range col.statuses {
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return hashLess(statuses[i].Txid, statuses[j].Txid)
	})

	txs := make([]*wire.MsgTx, len(statuses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, status := range statuses {
		g.Go(func() error {
			tx, err := s.backend.Tx(gctx, status.Txid)
			txs[i] = tx
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, sourceError("unable to fetch transaction", err)
	}

	var (
		anchors      []chainstate.Anchor
		anchorBlocks []chainstate.BlockID
	)
	for _, status := range statuses {
		status.Block.WhenSome(func(block chainstate.BlockID) {
			anchors = append(anchors, chainstate.Anchor{
				Txid: status.Txid, Block: block,
			})
			anchorBlocks = append(anchorBlocks, block)
		})
	}

	tip, err := s.chainUpdate(ctx, local, anchorBlocks)
	if err != nil {
		return nil, err
	}

	return &Update{
		Update: chainstate.Update{
			Tip:     tip,
			Txs:     txs,
			Anchors: anchors,
		},
	}, nil
}

// chainUpdate returns the backend's chain from the highest local block it
// agrees with up to its tip. Local blocks the backend disagrees with are
// included with the backend's hash so the update unwinds them.
func (s *Scanner) chainUpdate(ctx context.Context, local *chainstate.CheckPoint,
	anchors []chainstate.BlockID) (*chainstate.CheckPoint, error) {

	tip, err := s.backend.TipBlock(ctx)
	if err != nil {
		return nil, sourceError("unable to fetch tip", err)
	}

	blocks := map[uint32]chainhash.Hash{tip.Height: tip.Hash}

	agreed := local == nil
	for cp := local; cp != nil; cp = cp.Prev() {
		if cp.Height() > tip.Height {
			continue
		}

		hash, err := s.backend.BlockHash(ctx, cp.Height())
		if err != nil {
			return nil, sourceError("unable to fetch block hash",
				err)
		}
		blocks[cp.Height()] = hash

		if hash == cp.Hash() {
			agreed = true
			break
		}

		log.Infof("Backend disagrees with local block %v",
			cp.BlockID())
	}
	if !agreed {
		return nil, walleterr.Errorf(walleterr.ErrChainSource,
			"backend shares no block with the local chain")
	}

	for _, block := range anchors {
		if _, ok := blocks[block.Height]; !ok {
			blocks[block.Height] = block.Hash
		}
	}

	heights := make([]uint32, 0, len(blocks))
	for h := range blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool {
		return heights[i] < heights[j]
	})

	ids := make([]chainstate.BlockID, 0, len(heights))
	for _, h := range heights {
		ids = append(ids, chainstate.BlockID{Height: h, Hash: blocks[h]})
	}

	return chainstate.CheckPointFromBlocks(ids)
}

// Broadcast submits tx through the backend.
func (s *Scanner) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	if err := s.backend.Broadcast(ctx, tx); err != nil {
		return sourceError("unable to broadcast transaction", err)
	}

	log.Infof("Broadcast transaction %v", tx.TxHash())

	return nil
}

// EstimateFee returns the backend's fee estimate for target blocks.
func (s *Scanner) EstimateFee(ctx context.Context,
	target uint32) (btcunit.FeeRate, error) {

	rate, err := s.backend.EstimateFee(ctx, target)
	if err != nil {
		return btcunit.FeeRate{}, sourceError(
			"unable to estimate fee", err,
		)
	}

	return rate, nil
}

// FeeEstimates returns the backend's fee estimate for each confirmation
// target.
func (s *Scanner) FeeEstimates(ctx context.Context,
	targets ...uint32) (map[uint32]btcunit.FeeRate, error) {

	estimates := make(map[uint32]btcunit.FeeRate, len(targets))
	for _, target := range targets {
		rate, err := s.EstimateFee(ctx, target)
		if err != nil {
			return nil, err
		}
		estimates[target] = rate
	}

	return estimates, nil
}
