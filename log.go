// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/descwallet/chainsource"
	"github.com/btcsuite/descwallet/chainstate"
	"github.com/btcsuite/descwallet/changeset"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/keychain"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/txbuilder"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard error and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stderr.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all subsytem
// loggers created from it will write to the backend.  When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file.  This must be performed early during application startup by
// calling initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.  The backend must not be used before the log rotator has
	// been initialized, or data races and/or nil pointer dereferences will
	// occur.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log       = backendLog.Logger("DWLT")
	descLog   = backendLog.Logger("DESC")
	kchnLog   = backendLog.Logger("KCHN")
	chstLog   = backendLog.Logger("CHST")
	txblLog   = backendLog.Logger("TXBL")
	csetLog   = backendLog.Logger("CSET")
	prstLog   = backendLog.Logger("PRST")
	srceLog   = backendLog.Logger("SRCE")
	walletLog = backendLog.Logger("WLLT")
)

// Initialize package-global logger variables.
func init() {
	descriptor.UseLogger(descLog)
	keychain.UseLogger(kchnLog)
	chainstate.UseLogger(chstLog)
	txbuilder.UseLogger(txblLog)
	changeset.UseLogger(csetLog)
	persist.UseLogger(prstLog)
	chainsource.UseLogger(srceLog)
	wallet.UseLogger(walletLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"DWLT": log,
	"DESC": descLog,
	"KCHN": kchnLog,
	"CHST": chstLog,
	"TXBL": txblLog,
	"CSET": csetLog,
	"PRST": prstLog,
	"SRCE": srceLog,
	"WLLT": walletLog,
}

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string, maxFileKB int64, maxFiles int) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, maxFileKB, false, maxFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	logRotator = r
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
