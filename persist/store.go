// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package persist stores wallet changesets in an append only log inside a
// walletdb database. Loading merges every stored changeset in append order.
package persist

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // bolt driver
	"github.com/btcsuite/descwallet/changeset"
	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/walleterr"
)

const (
	// DBName is the default file name of the wallet database.
	DBName = "descwallet.db"

	// DefaultDBTimeout is how long opening waits for the file lock.
	DefaultDBTimeout = 60 * time.Second

	// dbVersion is the current layout version.
	dbVersion uint32 = 1
)

var (
	// metaBucket holds database metadata.
	metaBucket = []byte("meta")

	// versionKey maps to the layout version.
	versionKey = []byte("version")

	// changesetsBucket maps big endian sequence numbers to encoded
	// changesets.
	changesetsBucket = []byte("changesets")
)

func dbError(desc string, err error) error {
	return walleterr.New(walleterr.ErrDatabase, desc, err)
}

// Store is an append only changeset log.
type Store struct {
	db walletdb.DB
}

// Open opens the database at path, creating it if it does not exist.
func Open(path string, timeout time.Duration) (*Store, error) {
	exists, err := cfgutil.FileExists(path)
	if err != nil {
		return nil, dbError("unable to stat database", err)
	}

	var db walletdb.DB
	if exists {
		db, err = walletdb.Open("bdb", path, true, timeout, false)
	} else {
		log.Infof("Creating wallet database %v", path)
		db, err = walletdb.Create("bdb", path, true, timeout, false)
	}
	if err != nil {
		return nil, dbError("unable to open database", err)
	}

	if err := initialize(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// initialize creates the buckets and checks the layout version.
func initialize(db walletdb.DB) error {
	return walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		meta, err := tx.CreateTopLevelBucket(metaBucket)
		if err != nil {
			return dbError("unable to create meta bucket", err)
		}
		if _, err := tx.CreateTopLevelBucket(changesetsBucket); err != nil {
			return dbError("unable to create changeset bucket", err)
		}

		raw := meta.Get(versionKey)
		if raw == nil {
			var v [4]byte
			binary.BigEndian.PutUint32(v[:], dbVersion)
			return meta.Put(versionKey, v[:])
		}

		if len(raw) != 4 {
			return walleterr.Errorf(walleterr.ErrDatabase,
				"malformed database version")
		}
		if version := binary.BigEndian.Uint32(raw); version > dbVersion {
			return walleterr.Errorf(walleterr.ErrDatabase,
				"database version %d is newer than supported "+
					"version %d", version, dbVersion)
		}

		return nil
	})
}

// Append adds cs to the log. Empty changesets are not stored.
func (s *Store) Append(cs *changeset.ChangeSet) error {
	if cs.IsEmpty() {
		return nil
	}

	raw, err := cs.Bytes()
	if err != nil {
		return err
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(changesetsBucket)

		seq, err := bucket.NextSequence()
		if err != nil {
			return dbError("unable to allocate sequence", err)
		}

		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		if err := bucket.Put(key[:], raw); err != nil {
			return dbError("unable to store changeset", err)
		}

		log.Debugf("Stored changeset %d (%d bytes)", seq, len(raw))

		return nil
	})
}

// Load returns the merge of every stored changeset. A new database loads
// as an empty changeset.
func (s *Store) Load() (*changeset.ChangeSet, error) {
	var merged *changeset.ChangeSet
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		var err error
		merged, _, err = mergeLog(tx.ReadBucket(changesetsBucket))
		return err
	})
	if err != nil {
		return nil, err
	}

	return merged, nil
}

// mergeLog merges the changesets of bucket in sequence order and returns
// their keys.
func mergeLog(bucket walletdb.ReadBucket) (*changeset.ChangeSet, [][]byte,
	error) {

	var (
		merged = changeset.New()
		keys   [][]byte
	)
	err := bucket.ForEach(func(k, v []byte) error {
		cs, err := changeset.Decode(bytes.NewReader(v))
		if err != nil {
			return err
		}
		merged.Merge(cs)
		keys = append(keys, append([]byte(nil), k...))

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return merged, keys, nil
}

// Compact replaces the log with a single record holding its merge. The
// merge and the rewrite happen in one transaction, so no concurrent append
// is lost.
func (s *Store) Compact() error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(changesetsBucket)

		merged, keys, err := mergeLog(bucket)
		if err != nil {
			return err
		}
		if len(keys) <= 1 {
			return nil
		}

		raw, err := merged.Bytes()
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return dbError("unable to delete changeset", err)
			}
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return dbError("unable to allocate sequence", err)
		}

		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		if err := bucket.Put(key[:], raw); err != nil {
			return dbError("unable to store changeset", err)
		}

		log.Infof("Compacted %d changesets", len(keys))

		return nil
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
