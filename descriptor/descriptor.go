// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package descriptor implements the subset of output script descriptors
// (BIP380-386) a single-key HD wallet needs: one extended key, an optional
// key origin, a derivation path ending in a wildcard, and one of a closed set
// of script templates.
package descriptor

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ScriptType is the script template of a descriptor. The set is closed:
// supporting a new template means adding a variant here and a derivation
// rule in derive.go.
type ScriptType uint8

const (
	// PKH is pkh(KEY), a legacy pay-to-pubkey-hash output.
	PKH ScriptType = iota

	// WPKH is wpkh(KEY), a native segwit v0 pay-to-witness-pubkey-hash
	// output.
	WPKH

	// ShWPKH is sh(wpkh(KEY)), a p2wpkh program nested in a p2sh output.
	ShWPKH

	// TR is tr(KEY), a key-path only taproot output.
	TR
)

// String returns the descriptor function name of the template.
func (s ScriptType) String() string {
	switch s {
	case PKH:
		return "pkh"
	case WPKH:
		return "wpkh"
	case ShWPKH:
		return "sh(wpkh)"
	case TR:
		return "tr"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// AddressType returns the tag of the address kind produced by the template.
func (s ScriptType) AddressType() string {
	switch s {
	case PKH:
		return "p2pkh"
	case WPKH:
		return "p2wpkh"
	case ShWPKH:
		return "p2sh"
	case TR:
		return "p2tr"
	default:
		return "unknown"
	}
}

// ScriptSize returns the length of the output script produced by the
// template.
func (s ScriptType) ScriptSize() int {
	switch s {
	case PKH:
		return 25
	case WPKH:
		return 22
	case ShWPKH:
		return 23
	default:
		return 34
	}
}

// KeyOrigin describes where an extended key sits relative to its master key.
type KeyOrigin struct {
	// Fingerprint is the first four bytes of the hash160 of the master
	// public key.
	Fingerprint [4]byte

	// Path is the derivation path from the master key. Hardened steps
	// have hdkeychain.HardenedKeyStart added.
	Path []uint32
}

// String formats the origin the way it appears between the brackets of a
// key expression.
func (o KeyOrigin) String() string {
	return hex.EncodeToString(o.Fingerprint[:]) + formatPath(o.Path)
}

// Descriptor is a parsed single-key ranged descriptor bound to a network.
// A Descriptor is immutable once parsed and safe for concurrent use.
type Descriptor struct {
	scriptType ScriptType
	origin     fn.Option[KeyOrigin]
	key        *hdkeychain.ExtendedKey
	steps      []uint32
	net        netparams.Network

	// base is key derived along steps, the parent of every derived
	// child.
	base *hdkeychain.ExtendedKey
}

// invalid returns an ErrInvalidDescriptor error.
func invalid(format string, args ...interface{}) error {
	return walleterr.Errorf(walleterr.ErrInvalidDescriptor,
		"invalid descriptor: "+format, args...)
}

// Parse parses a descriptor expression and binds it to net. A trailing
// "#checksum" is verified when present.
func Parse(text string, net netparams.Network) (*Descriptor, error) {
	if !net.Valid() {
		return nil, invalid("unknown network %v", net)
	}

	body, err := splitChecksum(strings.TrimSpace(text))
	if err != nil {
		return nil, err
	}

	scriptType, keyExpr, err := parseTemplate(body)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		scriptType: scriptType,
		net:        net,
	}
	if err := d.parseKey(keyExpr); err != nil {
		return nil, err
	}

	log.Debugf("Parsed %v descriptor with %d derivation steps for %v",
		scriptType, len(d.steps), net)

	return d, nil
}

// MustParse is like Parse but panics on error. It is intended for
// descriptors that are compile time constants, such as in tests.
func MustParse(text string, net netparams.Network) *Descriptor {
	d, err := Parse(text, net)
	if err != nil {
		panic(err)
	}
	return d
}

// parseTemplate strips the script template around the key expression.
func parseTemplate(body string) (ScriptType, string, error) {
	templates := []struct {
		prefix     string
		scriptType ScriptType
	}{
		{"sh(wpkh(", ShWPKH},
		{"wpkh(", WPKH},
		{"pkh(", PKH},
		{"tr(", TR},
	}

	for _, tmpl := range templates {
		if !strings.HasPrefix(body, tmpl.prefix) {
			continue
		}

		closing := strings.Count(tmpl.prefix, "(")
		suffix := strings.Repeat(")", closing)
		if !strings.HasSuffix(body, suffix) {
			return 0, "", invalid("unbalanced parentheses in %q",
				body)
		}

		inner := body[len(tmpl.prefix) : len(body)-closing]
		switch {
		case inner == "":
			return 0, "", invalid("missing key expression")

		case strings.ContainsAny(inner, "(),{}"):
			return 0, "", invalid("unsupported script template "+
				"%q", body)
		}

		return tmpl.scriptType, inner, nil
	}

	name := body
	if idx := strings.IndexByte(body, '('); idx >= 0 {
		name = body[:idx]
	}

	return 0, "", invalid("unsupported script template %q", name)
}

// parseKey parses KEY := [origin]xkey(/step)*/* into d.
func (d *Descriptor) parseKey(expr string) error {
	if strings.HasPrefix(expr, "[") {
		end := strings.IndexByte(expr, ']')
		if end < 0 {
			return invalid("unterminated key origin")
		}

		origin, err := parseOrigin(expr[1:end])
		if err != nil {
			return err
		}
		d.origin = fn.Some(origin)
		expr = expr[end+1:]
	}

	parts := strings.Split(expr, "/")
	if len(parts) < 2 {
		return invalid("key expression %q has no wildcard", expr)
	}

	key, err := hdkeychain.NewKeyFromString(parts[0])
	if err != nil {
		return invalid("bad extended key: %v", err)
	}
	if !key.IsForNet(d.net.ChainParams()) {
		return invalid("extended key is not for network %v", d.net)
	}
	d.key = key

	wildcard := parts[len(parts)-1]
	switch wildcard {
	case "*":
	case "*'", "*h", "*H":
		return invalid("hardened wildcard derivation is not " +
			"supported")
	default:
		return invalid("key expression %q has no trailing "+
			"wildcard", expr)
	}

	for _, part := range parts[1 : len(parts)-1] {
		if strings.Contains(part, "*") {
			return invalid("wildcard may only appear once, as " +
				"the last step")
		}

		step, err := parseStep(part)
		if err != nil {
			return err
		}
		if step >= hdkeychain.HardenedKeyStart && !key.IsPrivate() {
			return invalid("hardened step %s after public key",
				part)
		}
		d.steps = append(d.steps, step)
	}

	d.base, err = derivePath(key, d.steps)
	if err != nil {
		return invalid("derive key path: %v", err)
	}

	// Private extended keys compute their public key lazily. Do it now so
	// that concurrent derivations only ever read the shared keys.
	for _, k := range []*hdkeychain.ExtendedKey{d.key, d.base} {
		if _, err := k.ECPubKey(); err != nil {
			return invalid("bad extended key: %v", err)
		}
	}

	return nil
}

// parseOrigin parses the contents of a [fingerprint/path] key origin.
func parseOrigin(s string) (KeyOrigin, error) {
	var origin KeyOrigin

	parts := strings.Split(s, "/")
	fp, err := hex.DecodeString(parts[0])
	if err != nil || len(fp) != len(origin.Fingerprint) {
		return origin, invalid("fingerprint %q is not 8 hex "+
			"characters", parts[0])
	}
	copy(origin.Fingerprint[:], fp)

	for _, part := range parts[1:] {
		step, err := parseStep(part)
		if err != nil {
			return origin, err
		}
		origin.Path = append(origin.Path, step)
	}

	return origin, nil
}

// parseStep parses a single derivation step such as "84'" or "0".
func parseStep(s string) (uint32, error) {
	hardened := false
	if n := len(s); n > 0 && (s[n-1] == '\'' || s[n-1] == 'h' ||
		s[n-1] == 'H') {

		hardened = true
		s = s[:n-1]
	}

	idx, err := strconv.ParseUint(s, 10, 32)
	if err != nil || idx >= hdkeychain.HardenedKeyStart {
		return 0, invalid("bad derivation step %q", s)
	}

	step := uint32(idx)
	if hardened {
		step += hdkeychain.HardenedKeyStart
	}

	return step, nil
}

// formatPath renders steps as "/a/b'/c", using ' as the hardened marker.
func formatPath(path []uint32) string {
	var b strings.Builder
	for _, step := range path {
		b.WriteByte('/')
		if step >= hdkeychain.HardenedKeyStart {
			b.WriteString(strconv.FormatUint(
				uint64(step-hdkeychain.HardenedKeyStart), 10,
			))
			b.WriteByte('\'')
			continue
		}
		b.WriteString(strconv.FormatUint(uint64(step), 10))
	}

	return b.String()
}

// derivePath derives key along path.
func derivePath(key *hdkeychain.ExtendedKey,
	path []uint32) (*hdkeychain.ExtendedKey, error) {

	var err error
	for _, step := range path {
		key, err = key.Derive(step)
		if err != nil {
			return nil, err
		}
	}

	return key, nil
}

// keyFingerprint returns the BIP32 fingerprint of key.
func keyFingerprint(key *hdkeychain.ExtendedKey) ([4]byte, error) {
	var fp [4]byte

	pub, err := key.ECPubKey()
	if err != nil {
		return fp, err
	}
	copy(fp[:], btcutil.Hash160(pub.SerializeCompressed()))

	return fp, nil
}

// Type returns the script template of the descriptor.
func (d *Descriptor) Type() ScriptType {
	return d.scriptType
}

// Network returns the network the descriptor is bound to.
func (d *Descriptor) Network() netparams.Network {
	return d.net
}

// HasPrivateKey reports whether the descriptor holds private key material
// and can therefore sign for its outputs.
func (d *Descriptor) HasPrivateKey() bool {
	return d.key.IsPrivate()
}

// Origin returns the key origin recorded in the descriptor, if any.
func (d *Descriptor) Origin() fn.Option[KeyOrigin] {
	return d.origin
}

// body renders the descriptor without checksum, using the key text given.
func (d *Descriptor) body(keyText string) string {
	var key strings.Builder
	d.origin.WhenSome(func(o KeyOrigin) {
		key.WriteString("[" + o.String() + "]")
	})
	key.WriteString(keyText)
	key.WriteString(formatPath(d.steps))
	key.WriteString("/*")

	switch d.scriptType {
	case ShWPKH:
		return "sh(wpkh(" + key.String() + "))"
	default:
		return d.scriptType.String() + "(" + key.String() + ")"
	}
}

// StringWithSecret returns the descriptor text with checksum exactly as held,
// including any extended private key.
func (d *Descriptor) StringWithSecret() string {
	return withChecksum(d.body(d.key.String()))
}

// String returns the canonical text of the public projection of the
// descriptor, with checksum. It never contains private key material.
func (d *Descriptor) String() string {
	pub, err := d.PublicProjection()
	if err != nil {
		return d.scriptType.String() + "(<unprintable key>)"
	}

	return withChecksum(pub.body(pub.key.String()))
}

// ID returns a stable identifier of the descriptor: its canonical public
// text. Two descriptors with the same ID derive the same scripts.
func (d *Descriptor) ID() string {
	return d.String()
}

// PublicProjection returns a watch-only copy of the descriptor. The hardened
// prefix of the derivation path is absorbed into the neutered key and
// appended to the key origin, creating one from the key's own fingerprint
// when the descriptor had none.
func (d *Descriptor) PublicProjection() (*Descriptor, error) {
	if !d.key.IsPrivate() {
		return d, nil
	}

	// Everything up to and including the last hardened step must be
	// derived privately.
	split := 0
	for i, step := range d.steps {
		if step >= hdkeychain.HardenedKeyStart {
			split = i + 1
		}
	}
	hardened, rest := d.steps[:split], d.steps[split:]

	xprv, err := derivePath(d.key, hardened)
	if err != nil {
		return nil, err
	}
	xpub, err := xprv.Neuter()
	if err != nil {
		return nil, err
	}
	base, err := d.base.Neuter()
	if err != nil {
		return nil, err
	}

	origin := d.origin
	switch {
	case origin.IsSome():
		o := origin.UnsafeFromSome()
		path := make([]uint32, 0, len(o.Path)+len(hardened))
		path = append(path, o.Path...)
		path = append(path, hardened...)
		origin = fn.Some(KeyOrigin{
			Fingerprint: o.Fingerprint,
			Path:        path,
		})

	case len(hardened) > 0:
		fp, err := keyFingerprint(d.key)
		if err != nil {
			return nil, err
		}
		origin = fn.Some(KeyOrigin{
			Fingerprint: fp,
			Path:        append([]uint32(nil), hardened...),
		})
	}

	return &Descriptor{
		scriptType: d.scriptType,
		origin:     origin,
		key:        xpub,
		steps:      append([]uint32(nil), rest...),
		net:        d.net,
		base:       base,
	}, nil
}
