// Copyright (c) 2014-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walleterr defines the error kinds shared by every wallet component.
// Callers branch on the stable ErrorCode returned by Code rather than on
// message text.
package walleterr

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific wallet error.
const (
	// ErrInvalidDescriptor indicates a descriptor expression that is
	// malformed, uses an unsupported script template, or has a missing or
	// duplicated wildcard.
	ErrInvalidDescriptor ErrorCode = iota

	// ErrDescriptorMismatch indicates that the descriptors (or network)
	// supplied when loading a wallet disagree with the ones recorded in
	// its changeset.
	ErrDescriptorMismatch

	// ErrAddressParse indicates malformed or wrong-network address text.
	// Errors of this kind are always an AddressParseError.
	ErrAddressParse

	// ErrOutOfRange indicates an amount, fee rate or derivation index
	// outside of its representable bounds.
	ErrOutOfRange

	// ErrNoRecipients indicates that a transaction was finished without
	// any recipient and without a drain destination.
	ErrNoRecipients

	// ErrNoFeeRate indicates that a transaction was finished without a
	// fee rate.
	ErrNoFeeRate

	// ErrInsufficientFunds indicates that the eligible outputs cannot pay
	// for the requested outputs and fee. Errors of this kind are always an
	// InsufficientFundsError.
	ErrInsufficientFunds

	// ErrOutputBelowDustLimit indicates a recipient output whose value is
	// below the dust threshold for its script.
	ErrOutputBelowDustLimit

	// ErrUnknownUtxo indicates a must-spend outpoint that is not an
	// unspent output owned by the wallet.
	ErrUnknownUtxo

	// ErrInconsistentChain indicates a sync update that contradicts itself
	// or the local chain in a way the reorg transition cannot resolve.
	ErrInconsistentChain

	// ErrChainSource indicates a failure of the external chain source.
	// The underlying transport error is attached.
	ErrChainSource

	// ErrInvalidChangeSet indicates a changeset that lacks the records
	// required to reconstruct a wallet.
	ErrInvalidChangeSet

	// ErrMissingPrivateKey indicates a signing request against a wallet
	// that only holds public descriptors.
	ErrMissingPrivateKey

	// ErrDatabase indicates an error with the underlying database. The Err
	// field carries the error returned from walletdb.
	ErrDatabase
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInvalidDescriptor:    "InvalidDescriptor",
	ErrDescriptorMismatch:   "DescriptorMismatch",
	ErrAddressParse:         "AddressParseError",
	ErrOutOfRange:           "OutOfRange",
	ErrNoRecipients:         "NoRecipients",
	ErrNoFeeRate:            "NoFeeRate",
	ErrInsufficientFunds:    "InsufficientFunds",
	ErrOutputBelowDustLimit: "OutputBelowDustLimit",
	ErrUnknownUtxo:          "UnknownUtxo",
	ErrInconsistentChain:    "InconsistentChain",
	ErrChainSource:          "ChainSourceError",
	ErrInvalidChangeSet:     "InvalidChangeSet",
	ErrMissingPrivateKey:    "MissingPrivateKey",
	ErrDatabase:             "Database",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for the wallet errors that carry no structured
// data beyond their code.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// Code returns the kind of the error.
func (e Error) Code() ErrorCode {
	return e.ErrorCode
}

// New creates an Error given a set of arguments.
func New(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// Errorf creates an Error with a formatted description and no underlying
// error.
func Errorf(c ErrorCode, format string, args ...interface{}) Error {
	return Error{ErrorCode: c, Description: fmt.Sprintf(format, args...)}
}

// coder is implemented by every error type of this package.
type coder interface {
	Code() ErrorCode
}

// Code returns the code of the first wallet error found in err's chain.
func Code(err error) (ErrorCode, bool) {
	var c coder
	if !errors.As(err, &c) {
		return 0, false
	}
	return c.Code(), true
}

// Is reports whether err's chain contains a wallet error of kind c.
func Is(err error, c ErrorCode) bool {
	code, ok := Code(err)
	return ok && code == c
}

// InsufficientFundsError is returned when the eligible outputs of a wallet
// cannot cover the requested amount plus fee. Needed is the recipient total
// plus the fee estimated for a transaction spending every eligible output
// without change, Available the total value of those outputs.
type InsufficientFundsError struct {
	Needed    btcutil.Amount
	Available btcutil.Amount
}

// Error satisfies the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("Insufficient funds: %d sat available of %d sat "+
		"needed", int64(e.Available), int64(e.Needed))
}

// Code returns ErrInsufficientFunds.
func (e *InsufficientFundsError) Code() ErrorCode {
	return ErrInsufficientFunds
}

// AddressErrorKind narrows an address parse failure down to the encoding
// layer that rejected it.
type AddressErrorKind uint8

const (
	// AddrBase58 indicates malformed base58 (legacy or script hash) text.
	AddrBase58 AddressErrorKind = iota

	// AddrBech32 indicates malformed bech32/bech32m text.
	AddrBech32

	// AddrNetworkValidation indicates well formed text that belongs to a
	// different network.
	AddrNetworkValidation
)

// String returns the kind as a human-readable name.
func (k AddressErrorKind) String() string {
	switch k {
	case AddrBase58:
		return "Base58"
	case AddrBech32:
		return "Bech32"
	case AddrNetworkValidation:
		return "NetworkValidation"
	default:
		return fmt.Sprintf("Unknown AddressErrorKind (%d)", uint8(k))
	}
}

// AddressParseError is returned when address text cannot be decoded for the
// wallet's network.
type AddressParseError struct {
	Kind    AddressErrorKind
	Address string
	Err     error
}

// Error satisfies the error interface.
func (e *AddressParseError) Error() string {
	msg := fmt.Sprintf("%v address error for %q", e.Kind, e.Address)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying decoding error, if any.
func (e *AddressParseError) Unwrap() error {
	return e.Err
}

// Code returns ErrAddressParse.
func (e *AddressParseError) Code() ErrorCode {
	return ErrAddressParse
}
