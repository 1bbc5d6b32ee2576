package descriptor

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	testMasterKey = "tprv8ZgxMBicQKsPf6vydw7ixvsLKY79hmeXujBkGCNCApyft92y" +
		"VYng2y28JpFZcneBYTTHycWSRpokhHE25GfHPBxnW5GpSm2dMWzEi9xxEyU"

	testExternalDesc = "wpkh(" + testMasterKey + "/84'/1'/0'/0/*)#uel0vg9p"
	testInternalDesc = "wpkh(" + testMasterKey + "/84'/1'/0'/1/*)#dd6w3a4e"

	testAccountXpub = "tpubDCkv2fHDfPg5hB6bFqJ4fNiins2Z8r5vKtD4xq5irCG2" +
		"HsUXkgHYsj3gfGTdvAv41hoJeXjfxu7EBQqZMm6SVkxztKFtaaE7HuLdkuL7KNq"

	testExternalPub = "wpkh([27f9035f/84'/1'/0']" + testAccountXpub +
		"/0/*)#wle7e0wp"
	testInternalPub = "wpkh([27f9035f/84'/1'/0']" + testAccountXpub +
		"/1/*)#ltuly67e"

	testSignetPub = "wpkh([aafa6322/84'/1'/0']tpubDCfvzhCuifJtWDVdrBcPvZU" +
		"7U5uyixL7QULk8hXA7KjqiNnry9Te1nwm7yStqenPCQhy5MwzxKkLBD2Gm" +
		"KNgvMYqXgo53iYqQ7Vu4vQbN2N/0/*)#mlua264t"

	testFirstAddress = "tb1qjtgffm20l9vu6a7gacxvpu2ej4kdcsgc26xfdz"
)

// TestChecksum checks the BIP380 checksum against known descriptors.
func TestChecksum(t *testing.T) {
	t.Parallel()

	for _, desc := range []string{
		testExternalDesc, testInternalDesc, testExternalPub,
		testInternalPub, testSignetPub,
	} {
		idx := strings.IndexByte(desc, '#')
		sum, err := Checksum(desc[:idx])
		require.NoError(t, err)
		require.Equal(t, desc[idx+1:], sum)
	}

	_, err := Checksum("wpkh(é)")
	require.True(t, walleterr.Is(err, walleterr.ErrInvalidDescriptor))
}

// TestPublicProjection checks that private descriptors project onto the
// expected watch-only text.
func TestPublicProjection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		private string
		public  string
	}{
		{"external", testExternalDesc, testExternalPub},
		{"internal", testInternalDesc, testInternalPub},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			desc, err := Parse(test.private, netparams.Testnet)
			require.NoError(t, err)
			require.True(t, desc.HasPrivateKey())
			require.Equal(t, WPKH, desc.Type())
			require.Equal(t, test.private, desc.StringWithSecret())
			require.Equal(t, test.public, desc.String())

			pub, err := desc.PublicProjection()
			require.NoError(t, err)
			require.False(t, pub.HasPrivateKey())
			require.Equal(t, test.public, pub.StringWithSecret())
			require.Equal(t, desc.ID(), pub.ID())

			// Projecting a public descriptor is the identity.
			again, err := pub.PublicProjection()
			require.NoError(t, err)
			require.Equal(t, test.public, again.String())
		})
	}
}

// TestDeriveVector checks the first receiving address of the test wallet.
func TestDeriveVector(t *testing.T) {
	t.Parallel()

	desc := MustParse(testExternalDesc, netparams.Testnet)

	addr, err := desc.Derive(0)
	require.NoError(t, err)
	require.Equal(t, testFirstAddress, addr.String())
	require.Equal(t, "p2wpkh", addr.Type.AddressType())
	require.Len(t, addr.Script, WPKH.ScriptSize())

	pub := MustParse(testExternalPub, netparams.Testnet)
	pubAddr, err := pub.Derive(0)
	require.NoError(t, err)
	require.Equal(t, addr.Script, pubAddr.Script)

	origin, err := desc.KeyOrigin(0)
	require.NoError(t, err)
	require.Equal(t, "27f9035f/84'/1'/0'/0/0", origin.String())

	pubOrigin, err := pub.KeyOrigin(0)
	require.NoError(t, err)
	require.Equal(t, origin, pubOrigin)

	_, err = desc.Derive(hdkeychain.HardenedKeyStart)
	require.True(t, walleterr.Is(err, walleterr.ErrOutOfRange))
}

// TestDeriveDeterminism checks that derivation is a pure function and that
// a private descriptor and its projection derive the same scripts.
func TestDeriveDeterminism(t *testing.T) {
	t.Parallel()

	desc := MustParse(testInternalDesc, netparams.Testnet)
	pub, err := desc.PublicProjection()
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		index := rapid.Uint32Range(
			0, hdkeychain.HardenedKeyStart-1,
		).Draw(t, "index")

		a, err := desc.Derive(index)
		require.NoError(t, err)
		b, err := desc.Derive(index)
		require.NoError(t, err)
		c, err := pub.Derive(index)
		require.NoError(t, err)

		require.Equal(t, a.String(), b.String())
		require.Equal(t, a.Script, c.Script)
		require.Equal(t, index, c.Index)
	})
}

// TestScriptTypes checks every template derives the address kind it claims.
func TestScriptTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tmpl     Template
		typ      ScriptType
		prefix   string
		addrType string
	}{
		{BIP44, PKH, "m", "p2pkh"},
		{BIP49, ShWPKH, "2", "p2sh"},
		{BIP84, WPKH, "tb1q", "p2wpkh"},
		{BIP86, TR, "tb1p", "p2tr"},
	}

	master, err := hdkeychain.NewKeyFromString(testMasterKey)
	require.NoError(t, err)

	for _, test := range tests {
		desc, err := NewTemplate(
			test.tmpl, master, false, netparams.Testnet,
		)
		require.NoError(t, err)
		require.Equal(t, test.typ, desc.Type())

		addr, err := desc.Derive(3)
		require.NoError(t, err)
		require.Equal(t, test.addrType, addr.Type.AddressType())
		require.Len(t, addr.Script, test.typ.ScriptSize())

		text := addr.String()
		if test.prefix == "m" {
			require.Contains(t, "mn", text[:1])
		} else {
			require.True(t, strings.HasPrefix(text, test.prefix),
				text)
		}

		// Round trip the canonical public text.
		pub, err := Parse(desc.String(), netparams.Testnet)
		require.NoError(t, err)
		pubAddr, err := pub.Derive(3)
		require.NoError(t, err)
		require.Equal(t, addr.Script, pubAddr.Script)
	}
}

// TestTemplateVector checks that the BIP84 template reproduces the test
// wallet descriptors.
func TestTemplateVector(t *testing.T) {
	t.Parallel()

	master, err := hdkeychain.NewKeyFromString(testMasterKey)
	require.NoError(t, err)

	ext, err := NewTemplate(BIP84, master, false, netparams.Testnet)
	require.NoError(t, err)
	require.Equal(t, testExternalDesc, ext.StringWithSecret())

	change, err := NewTemplate(BIP84, master, true, netparams.Testnet)
	require.NoError(t, err)
	require.Equal(t, testInternalPub, change.String())

	account, err := hdkeychain.NewKeyFromString(testAccountXpub)
	require.NoError(t, err)
	watch, err := NewPublicTemplate(
		BIP84, account, [4]byte{0x27, 0xf9, 0x03, 0x5f}, false,
		netparams.Testnet,
	)
	require.NoError(t, err)
	require.Equal(t, testExternalPub, watch.String())

	_, err = NewTemplate(BIP84, account, false, netparams.Testnet)
	require.Error(t, err)
}

// TestParseSignet checks a public descriptor is reproduced verbatim.
func TestParseSignet(t *testing.T) {
	t.Parallel()

	desc, err := Parse(testSignetPub, netparams.Signet)
	require.NoError(t, err)
	require.Equal(t, testSignetPub, desc.String())
	require.Equal(t, netparams.Signet, desc.Network())

	origin := desc.Origin().UnsafeFromSome()
	require.Equal(t, [4]byte{0xaa, 0xfa, 0x63, 0x22}, origin.Fingerprint)

	addr, err := desc.Derive(0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(addr.String(), "tb1q"))
}

// TestParseErrors checks that malformed descriptors are rejected with
// ErrInvalidDescriptor.
func TestParseErrors(t *testing.T) {
	t.Parallel()

	body := "wpkh([27f9035f/84'/1'/0']" + testAccountXpub

	tests := []struct {
		name string
		desc string
		net  netparams.Network
	}{{
		name: "bad checksum",
		desc: body + "/0/*)#wle7e0wq",
		net:  netparams.Testnet,
	}, {
		name: "short checksum",
		desc: body + "/0/*)#wle7",
		net:  netparams.Testnet,
	}, {
		name: "missing wildcard",
		desc: body + "/0/1)",
		net:  netparams.Testnet,
	}, {
		name: "no derivation at all",
		desc: body + ")",
		net:  netparams.Testnet,
	}, {
		name: "duplicated wildcard",
		desc: body + "/*/*)",
		net:  netparams.Testnet,
	}, {
		name: "hardened step after xpub",
		desc: body + "/0'/*)",
		net:  netparams.Testnet,
	}, {
		name: "hardened wildcard",
		desc: "wpkh(" + testMasterKey + "/0/*')",
		net:  netparams.Testnet,
	}, {
		name: "unsupported template",
		desc: "wsh(multi(1," + testAccountXpub + "/0/*))",
		net:  netparams.Testnet,
	}, {
		name: "taproot script tree",
		desc: "tr(" + testAccountXpub + "/0/*,{pk(" +
			testAccountXpub + "/1/*)})",
		net: netparams.Testnet,
	}, {
		name: "unbalanced",
		desc: body + "/0/*",
		net:  netparams.Testnet,
	}, {
		name: "bad fingerprint",
		desc: "wpkh([27f903/84'/1'/0']" + testAccountXpub + "/0/*)",
		net:  netparams.Testnet,
	}, {
		name: "bad step",
		desc: body + "/x/*)",
		net:  netparams.Testnet,
	}, {
		name: "wrong network",
		desc: testExternalDesc,
		net:  netparams.Mainnet,
	}, {
		name: "garbage key",
		desc: "wpkh(notakey/0/*)",
		net:  netparams.Testnet,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(test.desc, test.net)
			require.Error(t, err)
			require.True(t, walleterr.Is(
				err, walleterr.ErrInvalidDescriptor,
			), "got %v", err)
		})
	}
}

// TestParseAddress checks the address parse error sub kinds.
func TestParseAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		net     netparams.Network
		wantErr bool
		kind    walleterr.AddressErrorKind
	}{{
		name: "valid testnet",
		addr: testFirstAddress,
		net:  netparams.Testnet,
	}, {
		name: "valid on signet",
		addr: testFirstAddress,
		net:  netparams.Signet,
	}, {
		name:    "testnet address on mainnet",
		addr:    "tb1qd28npep0s8frcm3y7dxqajkcy2m40eysplyr9v",
		net:     netparams.Mainnet,
		wantErr: true,
		kind:    walleterr.AddrNetworkValidation,
	}, {
		name:    "mainnet legacy address on testnet",
		addr:    "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2",
		net:     netparams.Testnet,
		wantErr: true,
		kind:    walleterr.AddrNetworkValidation,
	}, {
		name:    "not an address",
		addr:    "notAnAddress",
		net:     netparams.Testnet,
		wantErr: true,
		kind:    walleterr.AddrBase58,
	}, {
		name:    "bad bech32 checksum",
		addr:    "tb1qjtgffm20l9vu6a7gacxvpu2ej4kdcsgc26xfdq",
		net:     netparams.Testnet,
		wantErr: true,
		kind:    walleterr.AddrBech32,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			addr, err := ParseAddress(test.addr, test.net)
			if !test.wantErr {
				require.NoError(t, err)
				require.Equal(t, test.addr, addr.EncodeAddress())
				return
			}

			var parseErr *walleterr.AddressParseError
			require.ErrorAs(t, err, &parseErr)
			require.Equal(t, test.kind, parseErr.Kind)
			require.True(t, walleterr.Is(
				err, walleterr.ErrAddressParse,
			))
		})
	}
}
