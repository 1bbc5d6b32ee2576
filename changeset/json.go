// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package changeset

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/walleterr"
	jsoniter "github.com/json-iterator/go"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonAnchor is the JSON form of a chainstate.Anchor.
type jsonAnchor struct {
	Txid   string `json:"txid"`
	Height uint32 `json:"height"`
	Block  string `json:"block"`
}

// jsonChangeSet is the JSON form of a ChangeSet. Hashes are in their usual
// reversed hex form and scripts and transactions in plain hex.
type jsonChangeSet struct {
	Network      string                       `json:"network,omitempty"`
	Descriptors  map[string]string            `json:"descriptors,omitempty"`
	LastRevealed map[string]uint32            `json:"last_revealed,omitempty"`
	SpkCache     map[string]map[uint32]string `json:"spk_cache,omitempty"`
	Blocks       map[uint32]*string           `json:"blocks,omitempty"`
	Txs          map[string]string            `json:"txs,omitempty"`
	Anchors      []jsonAnchor                 `json:"anchors,omitempty"`
	LastSeen     map[string]int64             `json:"last_seen,omitempty"`
	Evicted      map[string]int64             `json:"evicted,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *ChangeSet) MarshalJSON() ([]byte, error) {
	j := jsonChangeSet{
		Network: fn.MapOptionZ(c.Network, netparams.Network.String),
	}

	if len(c.Descriptors) > 0 {
		j.Descriptors = make(map[string]string, len(c.Descriptors))
		for kc, desc := range c.Descriptors {
			j.Descriptors[kc.String()] = desc
		}
	}

	if !c.Indexer.IsEmpty() {
		j.LastRevealed = make(map[string]uint32)
		for kc, index := range c.Indexer.LastRevealed {
			j.LastRevealed[kc.String()] = index
		}
		j.SpkCache = make(map[string]map[uint32]string)
		for kc, scripts := range c.Indexer.SpkCache {
			m := make(map[uint32]string, len(scripts))
			for index, script := range scripts {
				m[index] = hex.EncodeToString(script)
			}
			j.SpkCache[kc.String()] = m
		}
	}

	if !c.Chain.IsEmpty() {
		j.Blocks = make(map[uint32]*string, len(c.Chain.Blocks))
		for h, entry := range c.Chain.Blocks {
			j.Blocks[h] = fn.MapOptionZ(
				entry, func(hash chainhash.Hash) *string {
					s := hash.String()
					return &s
				},
			)
		}

		j.Txs = make(map[string]string, len(c.Chain.Txs))
		for txid, tx := range c.Chain.Txs {
			var b bytes.Buffer
			if err := tx.Serialize(&b); err != nil {
				return nil, err
			}
			j.Txs[txid.String()] = hex.EncodeToString(b.Bytes())
		}

		for anchor := range c.Chain.Anchors {
			j.Anchors = append(j.Anchors, jsonAnchor{
				Txid:   anchor.Txid.String(),
				Height: anchor.Block.Height,
				Block:  anchor.Block.Hash.String(),
			})
		}

		j.LastSeen = stringKeys(c.Chain.LastSeen)
		j.Evicted = stringKeys(c.Chain.Evicted)
	}

	return json.Marshal(&j)
}

func stringKeys(m map[chainhash.Hash]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for txid, ts := range m {
		out[txid.String()] = ts
	}

	return out
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ChangeSet) UnmarshalJSON(data []byte) error {
	var j jsonChangeSet
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	cs, err := j.changeSet()
	if err != nil {
		return walleterr.New(walleterr.ErrInvalidChangeSet,
			"malformed changeset json", err)
	}
	*c = *cs

	return nil
}

func (j *jsonChangeSet) changeSet() (*ChangeSet, error) {
	cs := New()

	if j.Network != "" {
		net, err := netparams.ParseNetwork(j.Network)
		if err != nil {
			return nil, err
		}
		cs.Network = fn.Some(net)
	}

	for name, desc := range j.Descriptors {
		kc, err := keychain.ParseKeychainKind(name)
		if err != nil {
			return nil, err
		}
		cs.Descriptors[kc] = desc
	}

	for name, index := range j.LastRevealed {
		kc, err := keychain.ParseKeychainKind(name)
		if err != nil {
			return nil, err
		}
		cs.Indexer.LastRevealed[kc] = index
	}
	for name, scripts := range j.SpkCache {
		kc, err := keychain.ParseKeychainKind(name)
		if err != nil {
			return nil, err
		}
		m := make(map[uint32][]byte, len(scripts))
		for index, text := range scripts {
			script, err := hex.DecodeString(text)
			if err != nil {
				return nil, err
			}
			m[index] = script
		}
		cs.Indexer.SpkCache[kc] = m
	}

	for h, text := range j.Blocks {
		if text == nil {
			cs.Chain.Blocks[h] = fn.None[chainhash.Hash]()
			continue
		}
		hash, err := chainhash.NewHashFromStr(*text)
		if err != nil {
			return nil, err
		}
		cs.Chain.Blocks[h] = fn.Some(*hash)
	}

	for _, text := range j.Txs {
		raw, err := hex.DecodeString(text)
		if err != nil {
			return nil, err
		}
		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			return nil, err
		}
		cs.Chain.Txs[tx.TxHash()] = tx
	}

	for _, a := range j.Anchors {
		txid, err := chainhash.NewHashFromStr(a.Txid)
		if err != nil {
			return nil, err
		}
		block, err := chainhash.NewHashFromStr(a.Block)
		if err != nil {
			return nil, err
		}
		cs.Chain.Anchors[chainstate.Anchor{
			Txid:  *txid,
			Block: chainstate.BlockID{Height: a.Height, Hash: *block},
		}] = struct{}{}
	}

	if err := parseTimestamps(j.LastSeen, cs.Chain.LastSeen); err != nil {
		return nil, err
	}
	if err := parseTimestamps(j.Evicted, cs.Chain.Evicted); err != nil {
		return nil, err
	}

	return cs, nil
}

func parseTimestamps(src map[string]int64,
	dst map[chainhash.Hash]int64) error {

	for text, ts := range src {
		txid, err := chainhash.NewHashFromStr(text)
		if err != nil {
			return err
		}
		dst[*txid] = ts
	}

	return nil
}
