package rate

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedConvertsByRatio(t *testing.T) {
	t.Parallel()

	// 1 ETH in wei -> 1 JUNO in ujuno.
	convert := Fixed(big.NewInt(1), big.NewInt(1_000_000_000_000))

	out, err := convert(big.NewInt(1_000_000_000_000_000_000), "ETH", "JUNO")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), out)
}

func TestFixedInverseRatio(t *testing.T) {
	t.Parallel()

	convert := Fixed(big.NewInt(1_000_000_000_000), big.NewInt(1))

	out, err := convert(big.NewInt(1_000_000), "JUNO", "ETH")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000_000), out)
}

func TestFixedTruncatesTowardZero(t *testing.T) {
	t.Parallel()

	convert := Fixed(big.NewInt(1), big.NewInt(3))

	out, err := convert(big.NewInt(10), "A", "B")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3), out)
}

func TestFixedRejectsBadInput(t *testing.T) {
	t.Parallel()

	convert := Fixed(big.NewInt(1), big.NewInt(2))

	_, err := convert(nil, "A", "B")
	assert.Error(t, err)

	_, err = convert(big.NewInt(-5), "A", "B")
	assert.Error(t, err)

	zeroDen := Fixed(big.NewInt(1), big.NewInt(0))
	_, err = zeroDen(big.NewInt(5), "A", "B")
	assert.Error(t, err)
}
