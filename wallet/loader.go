// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/persist"
)

var (
	// ErrLoaded describes the error condition of attempting to load or
	// create a wallet when the loader has already done so.
	ErrLoaded = errors.New("wallet already loaded")

	// ErrNotLoaded describes the error condition of attempting to close a
	// loaded wallet when a wallet has not been loaded.
	ErrNotLoaded = errors.New("wallet is not loaded")

	// ErrExists describes the error condition of attempting to create a new
	// wallet when one exists already.
	ErrExists = errors.New("wallet already exists")

	// ErrNotExist describes the error condition of attempting to open a
	// wallet that was never created.
	ErrNotExist = errors.New("wallet does not exist")
)

// Loader creates and opens wallets backed by a changeset database in a
// directory, and persists their staged changes.
//
// Loader is safe for concurrent access.
type Loader struct {
	callbacks []func(*Wallet)
	dbDirPath string
	timeout   time.Duration
	cfg       *Config
	db        *persist.Store
	wallet    *Wallet
	mu        sync.Mutex
}

// NewLoader constructs a Loader for the database directory dbDirPath.
func NewLoader(dbDirPath string, timeout time.Duration, cfg *Config) *Loader {
	return &Loader{
		dbDirPath: dbDirPath,
		timeout:   timeout,
		cfg:       cfg,
	}
}

func (l *Loader) dbPath() string {
	return filepath.Join(l.dbDirPath, persist.DBName)
}

// onLoaded executes each added callback and prevents loader from loading
// any additional wallets.  Requires mutex to be locked.
func (l *Loader) onLoaded(w *Wallet, db *persist.Store) {
	for _, fn := range l.callbacks {
		fn(w)
	}

	l.wallet = w
	l.db = db
	l.callbacks = nil
}

// RunAfterLoad adds a function to be executed when the loader creates or
// opens a wallet.  Functions are executed in a single goroutine in the order
// they are added.
func (l *Loader) RunAfterLoad(fn func(*Wallet)) {
	l.mu.Lock()
	if l.wallet != nil {
		w := l.wallet
		l.mu.Unlock()
		fn(w)
	} else {
		l.callbacks = append(l.callbacks, fn)
		l.mu.Unlock()
	}
}

// CreateNewWallet creates a wallet from two descriptor texts and persists
// its initial changeset.
func (l *Loader) CreateNewWallet(external, internal string,
	net netparams.Network) (*Wallet, error) {

	defer l.mu.Unlock()
	l.mu.Lock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	exists, err := cfgutil.FileExists(l.dbPath())
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrExists
	}

	w, err := Create(external, internal, net, l.cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(l.dbDirPath, 0700); err != nil {
		return nil, err
	}
	db, err := persist.Open(l.dbPath(), l.timeout)
	if err != nil {
		return nil, err
	}
	if err := db.Append(w.TakeStaged()); err != nil {
		if e := db.Close(); e != nil {
			log.Warnf("Error closing database: %v", e)
		}
		return nil, err
	}

	l.onLoaded(w, db)
	return w, nil
}

// OpenExistingWallet loads the wallet recorded in the database.
func (l *Loader) OpenExistingWallet(cfg *LoadConfig) (*Wallet, error) {
	defer l.mu.Unlock()
	l.mu.Lock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	exists, err := cfgutil.FileExists(l.dbPath())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotExist
	}

	db, err := persist.Open(l.dbPath(), l.timeout)
	if err != nil {
		return nil, err
	}

	var loadCfg LoadConfig
	if cfg != nil {
		loadCfg = *cfg
	}
	if l.cfg != nil {
		loadCfg.Config = *l.cfg
	}

	w, err := l.load(db, &loadCfg)
	if err != nil {
		// The database must be closed to allow future attempts to
		// open it.
		if e := db.Close(); e != nil {
			log.Warnf("Error closing database: %v", e)
		}
		return nil, err
	}

	l.onLoaded(w, db)
	return w, nil
}

func (l *Loader) load(db *persist.Store, cfg *LoadConfig) (*Wallet, error) {
	cs, err := db.Load()
	if err != nil {
		return nil, err
	}

	w, err := Load(cs, cfg)
	if err != nil {
		return nil, err
	}

	// Loading may record derived scripts that were not persisted yet.
	if err := db.Append(w.TakeStaged()); err != nil {
		return nil, err
	}

	return w, nil
}

// WalletExists returns whether a file exists at the loader's database path.
// This may return an error for unexpected I/O failures.
func (l *Loader) WalletExists() (bool, error) {
	return cfgutil.FileExists(l.dbPath())
}

// LoadedWallet returns the loaded wallet, if any, and a bool for whether the
// wallet has been loaded or not.  If true, the wallet pointer should be safe to
// dereference.
func (l *Loader) LoadedWallet() (*Wallet, bool) {
	l.mu.Lock()
	w := l.wallet
	l.mu.Unlock()
	return w, w != nil
}

// Persist appends the staged changes of the loaded wallet to the database.
func (l *Loader) Persist() error {
	defer l.mu.Unlock()
	l.mu.Lock()

	if l.wallet == nil {
		return ErrNotLoaded
	}

	return l.db.Append(l.wallet.TakeStaged())
}

// UnloadWallet persists the loaded wallet, if any, and closes the wallet
// database.  This returns ErrNotLoaded if the wallet has not been loaded
// with CreateNewWallet or OpenExistingWallet.  The Loader may be reused if
// this function returns without error.
func (l *Loader) UnloadWallet() error {
	defer l.mu.Unlock()
	l.mu.Lock()

	if l.wallet == nil {
		return ErrNotLoaded
	}

	if err := l.db.Append(l.wallet.TakeStaged()); err != nil {
		return err
	}
	if err := l.db.Close(); err != nil {
		return err
	}

	l.wallet = nil
	l.db = nil
	return nil
}
