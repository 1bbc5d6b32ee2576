// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package changeset

import (
	"bytes"
	"errors"
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// recordKind identifies the record that follows in an encoded changeset.
// Readers skip kinds they do not know, so new kinds can be added without
// breaking older readers.
type recordKind uint8

const (
	kindNetwork      recordKind = 1
	kindDescriptor   recordKind = 2
	kindLastRevealed recordKind = 3
	kindSpkCache     recordKind = 4
	kindCheckpoint   recordKind = 5
	kindTx           recordKind = 6
	kindAnchor       recordKind = 7
	kindLastSeen     recordKind = 8
	kindEvicted      recordKind = 9
)

// maxRecordSize bounds the body of a single record.
const maxRecordSize = wire.MaxMessagePayload

// record is a kind tagged tlv stream.
type record struct {
	kind recordKind
	body []byte
}

// encodeStream serializes records as a tlv stream.
func encodeStream(records ...tlv.Record) ([]byte, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeStream parses body into records and fails unless every record in
// required was present.
func decodeStream(body []byte, required []tlv.Type,
	records ...tlv.Record) (tlv.TypeMap, error) {

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for _, typ := range required {
		if !isParsed(parsed, typ) {
			return nil, errors.New("missing required tlv type")
		}
	}

	return parsed, nil
}

// isParsed reports whether typ was decoded into its record.
func isParsed(parsed tlv.TypeMap, typ tlv.Type) bool {
	val, ok := parsed[typ]
	return ok && val == nil
}

func sortedHashes(m map[chainhash.Hash]int64) []chainhash.Hash {
	hashes := make([]chainhash.Hash, 0, len(m))
	for hash := range m {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})

	return hashes
}

// records flattens the changeset into records in a deterministic order.
func (c *ChangeSet) records() ([]record, error) {
	var (
		records []record
		err     error
	)
	add := func(kind recordKind, tlvRecords ...tlv.Record) {
		if err != nil {
			return
		}

		var body []byte
		body, err = encodeStream(tlvRecords...)
		records = append(records, record{kind: kind, body: body})
	}

	c.Network.WhenSome(func(net netparams.Network) {
		n := uint8(net)
		add(kindNetwork, tlv.MakePrimitiveRecord(0, &n))
	})

	for _, kc := range keychain.AllKeychains {
		desc, ok := c.Descriptors[kc]
		if !ok {
			continue
		}
		k, text := uint8(kc), []byte(desc)
		add(kindDescriptor,
			tlv.MakePrimitiveRecord(0, &k),
			tlv.MakePrimitiveRecord(1, &text),
		)
	}

	if c.Indexer != nil {
		for _, kc := range keychain.AllKeychains {
			index, ok := c.Indexer.LastRevealed[kc]
			if !ok {
				continue
			}
			k := uint8(kc)
			add(kindLastRevealed,
				tlv.MakePrimitiveRecord(0, &k),
				tlv.MakePrimitiveRecord(1, &index),
			)
		}

		for _, kc := range keychain.AllKeychains {
			scripts := c.Indexer.SpkCache[kc]
			indices := make([]uint32, 0, len(scripts))
			for index := range scripts {
				indices = append(indices, index)
			}
			sort.Slice(indices, func(i, j int) bool {
				return indices[i] < indices[j]
			})

			for _, index := range indices {
				k, script := uint8(kc), scripts[index]
				add(kindSpkCache,
					tlv.MakePrimitiveRecord(0, &k),
					tlv.MakePrimitiveRecord(1, &index),
					tlv.MakePrimitiveRecord(2, &script),
				)
			}
		}
	}

	if c.Chain != nil {
		if chainErr := c.chainRecords(add); chainErr != nil && err == nil {
			err = chainErr
		}
	}

	if err != nil {
		return nil, err
	}

	return records, nil
}

// chainRecords adds the chain state records.
func (c *ChangeSet) chainRecords(add func(recordKind, ...tlv.Record)) error {
	heights := make([]uint32, 0, len(c.Chain.Blocks))
	for h := range c.Chain.Blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool {
		return heights[i] < heights[j]
	})
	for _, h := range heights {
		height := h
		tlvRecords := []tlv.Record{tlv.MakePrimitiveRecord(0, &height)}
		c.Chain.Blocks[h].WhenSome(func(hash chainhash.Hash) {
			raw := [32]byte(hash)
			tlvRecords = append(
				tlvRecords, tlv.MakePrimitiveRecord(1, &raw),
			)
		})
		add(kindCheckpoint, tlvRecords...)
	}

	txids := make([]chainhash.Hash, 0, len(c.Chain.Txs))
	for txid := range c.Chain.Txs {
		txids = append(txids, txid)
	}
	sort.Slice(txids, func(i, j int) bool {
		return bytes.Compare(txids[i][:], txids[j][:]) < 0
	})
	for _, txid := range txids {
		var b bytes.Buffer
		if err := c.Chain.Txs[txid].Serialize(&b); err != nil {
			return err
		}
		raw := b.Bytes()
		add(kindTx, tlv.MakePrimitiveRecord(0, &raw))
	}

	anchors := make([]chainstate.Anchor, 0, len(c.Chain.Anchors))
	for anchor := range c.Chain.Anchors {
		anchors = append(anchors, anchor)
	}
	sort.Slice(anchors, func(i, j int) bool {
		a, b := anchors[i], anchors[j]
		if cmp := bytes.Compare(a.Txid[:], b.Txid[:]); cmp != 0 {
			return cmp < 0
		}
		if a.Block.Height != b.Block.Height {
			return a.Block.Height < b.Block.Height
		}
		return bytes.Compare(a.Block.Hash[:], b.Block.Hash[:]) < 0
	})
	for _, anchor := range anchors {
		txid := [32]byte(anchor.Txid)
		height := anchor.Block.Height
		hash := [32]byte(anchor.Block.Hash)
		add(kindAnchor,
			tlv.MakePrimitiveRecord(0, &txid),
			tlv.MakePrimitiveRecord(1, &height),
			tlv.MakePrimitiveRecord(2, &hash),
		)
	}

	timestamps := func(kind recordKind, m map[chainhash.Hash]int64) {
		for _, txid := range sortedHashes(m) {
			raw := [32]byte(txid)
			ts := uint64(m[txid])
			add(kind,
				tlv.MakePrimitiveRecord(0, &raw),
				tlv.MakePrimitiveRecord(1, &ts),
			)
		}
	}
	timestamps(kindLastSeen, c.Chain.LastSeen)
	timestamps(kindEvicted, c.Chain.Evicted)

	return nil
}

// Encode writes the changeset as a sequence of kind tagged records.
func (c *ChangeSet) Encode(w io.Writer) error {
	records, err := c.records()
	if err != nil {
		return err
	}

	for _, r := range records {
		if _, err := w.Write([]byte{byte(r.kind)}); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, 0, r.body); err != nil {
			return err
		}
	}

	return nil
}

// Bytes returns the encoded changeset.
func (c *ChangeSet) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := c.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Decode reads a changeset written by Encode. Records of unknown kinds are
// skipped.
func Decode(r io.Reader) (*ChangeSet, error) {
	cs := New()

	var kindBuf [1]byte
	for {
		_, err := io.ReadFull(r, kindBuf[:])
		if err == io.EOF {
			return cs, nil
		}
		if err != nil {
			return nil, invalidRecord(err)
		}

		body, err := wire.ReadVarBytes(r, 0, maxRecordSize, "record")
		if err != nil {
			return nil, invalidRecord(err)
		}

		err = cs.decodeRecord(recordKind(kindBuf[0]), body)
		if err != nil {
			return nil, invalidRecord(err)
		}
	}
}

func invalidRecord(err error) error {
	return walleterr.New(walleterr.ErrInvalidChangeSet,
		"malformed changeset record", err)
}

// decodeRecord merges a single record into c.
func (c *ChangeSet) decodeRecord(kind recordKind, body []byte) error {
	switch kind {
	case kindNetwork:
		var n uint8
		_, err := decodeStream(body, []tlv.Type{0},
			tlv.MakePrimitiveRecord(0, &n))
		if err != nil {
			return err
		}
		net := netparams.Network(n)
		if !net.Valid() {
			return errors.New("unknown network")
		}
		c.Network = fn.Some(net)

	case kindDescriptor:
		var (
			k    uint8
			text []byte
		)
		_, err := decodeStream(body, []tlv.Type{0, 1},
			tlv.MakePrimitiveRecord(0, &k),
			tlv.MakePrimitiveRecord(1, &text))
		if err != nil {
			return err
		}
		c.Descriptors[keychain.KeychainKind(k)] = string(text)

	case kindLastRevealed:
		var (
			k     uint8
			index uint32
		)
		_, err := decodeStream(body, []tlv.Type{0, 1},
			tlv.MakePrimitiveRecord(0, &k),
			tlv.MakePrimitiveRecord(1, &index))
		if err != nil {
			return err
		}
		delta := keychain.NewChangeSet()
		delta.LastRevealed[keychain.KeychainKind(k)] = index
		c.Indexer.Merge(delta)

	case kindSpkCache:
		var (
			k      uint8
			index  uint32
			script []byte
		)
		_, err := decodeStream(body, []tlv.Type{0, 1, 2},
			tlv.MakePrimitiveRecord(0, &k),
			tlv.MakePrimitiveRecord(1, &index),
			tlv.MakePrimitiveRecord(2, &script))
		if err != nil {
			return err
		}
		delta := keychain.NewChangeSet()
		delta.SpkCache[keychain.KeychainKind(k)] = map[uint32][]byte{
			index: script,
		}
		c.Indexer.Merge(delta)

	case kindCheckpoint:
		var (
			height uint32
			hash   [32]byte
		)
		parsed, err := decodeStream(body, []tlv.Type{0},
			tlv.MakePrimitiveRecord(0, &height),
			tlv.MakePrimitiveRecord(1, &hash))
		if err != nil {
			return err
		}
		if isParsed(parsed, 1) {
			c.Chain.Blocks[height] = fn.Some(chainhash.Hash(hash))
		} else {
			c.Chain.Blocks[height] = fn.None[chainhash.Hash]()
		}

	case kindTx:
		var raw []byte
		_, err := decodeStream(body, []tlv.Type{0},
			tlv.MakePrimitiveRecord(0, &raw))
		if err != nil {
			return err
		}
		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			return err
		}
		c.Chain.Txs[tx.TxHash()] = tx

	case kindAnchor:
		var (
			txid, hash [32]byte
			height     uint32
		)
		_, err := decodeStream(body, []tlv.Type{0, 1, 2},
			tlv.MakePrimitiveRecord(0, &txid),
			tlv.MakePrimitiveRecord(1, &height),
			tlv.MakePrimitiveRecord(2, &hash))
		if err != nil {
			return err
		}
		c.Chain.Anchors[chainstate.Anchor{
			Txid: chainhash.Hash(txid),
			Block: chainstate.BlockID{
				Height: height,
				Hash:   chainhash.Hash(hash),
			},
		}] = struct{}{}

	case kindLastSeen, kindEvicted:
		var (
			txid [32]byte
			ts   uint64
		)
		_, err := decodeStream(body, []tlv.Type{0, 1},
			tlv.MakePrimitiveRecord(0, &txid),
			tlv.MakePrimitiveRecord(1, &ts))
		if err != nil {
			return err
		}

		delta := chainstate.NewChangeSet()
		if kind == kindLastSeen {
			delta.LastSeen[chainhash.Hash(txid)] = int64(ts)
		} else {
			delta.Evicted[chainhash.Hash(txid)] = int64(ts)
		}
		c.Chain.Merge(delta)

	default:
		log.Debugf("Skipping changeset record of unknown kind %d "+
			"(%d bytes)", kind, len(body))
	}

	return nil
}
