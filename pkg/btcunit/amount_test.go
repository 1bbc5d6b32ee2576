package btcunit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/walleterr"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestAmountFromSat checks the bounds of amount construction.
func TestAmountFromSat(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		sat     int64
		wantErr bool
	}{
		{name: "zero", sat: 0},
		{name: "one", sat: 1},
		{name: "max supply", sat: btcutil.MaxSatoshi},
		{name: "negative", sat: -1, wantErr: true},
		{name: "above max", sat: btcutil.MaxSatoshi + 1, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			amt, err := AmountFromSat(tc.sat)
			if tc.wantErr {
				require.True(t, walleterr.Is(
					err, walleterr.ErrOutOfRange,
				))
				return
			}

			require.NoError(t, err)
			require.EqualValues(t, tc.sat, amt)
		})
	}
}

// TestAmountFromBTC checks conversion from whole bitcoin values.
func TestAmountFromBTC(t *testing.T) {
	t.Parallel()

	amt, err := AmountFromBTC(0.5)
	require.NoError(t, err)
	require.EqualValues(t, 50_000_000, amt)

	_, err = AmountFromBTC(-0.1)
	require.True(t, walleterr.Is(err, walleterr.ErrOutOfRange))

	_, err = AmountFromBTC(21_000_001)
	require.True(t, walleterr.Is(err, walleterr.ErrOutOfRange))
}

// TestAmountRangeProperty checks that construction succeeds exactly on the
// valid range.
func TestAmountRangeProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		sat := rapid.Int64().Draw(t, "sat")

		amt, err := AmountFromSat(sat)
		valid := sat >= 0 && sat <= btcutil.MaxSatoshi
		if valid {
			require.NoError(t, err)
			require.EqualValues(t, sat, amt)
		} else {
			require.True(t, walleterr.Is(
				err, walleterr.ErrOutOfRange,
			))
		}
	})
}

// TestSumAmounts checks overflow detection of amount sums.
func TestSumAmounts(t *testing.T) {
	t.Parallel()

	sum, err := SumAmounts(1, 2, 3)
	require.NoError(t, err)
	require.EqualValues(t, 6, sum)

	_, err = SumAmounts(btcutil.MaxSatoshi, 1)
	require.True(t, walleterr.Is(err, walleterr.ErrOutOfRange))

	_, err = SumAmounts(5, -1)
	require.True(t, walleterr.Is(err, walleterr.ErrOutOfRange))
}
