package zero

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 31, 32, 64, 1000} {
		b := bytes.Repeat([]byte{0xa5}, n)
		Bytes(b)
		require.Equal(t, make([]byte, n), b)
	}
}
