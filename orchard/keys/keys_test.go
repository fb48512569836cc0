package keys

import (
	"testing"

	"github.com/colorfulnotion/orchardwallet/walleterrors"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) IncomingViewingKey {
	var k IncomingViewingKey
	for i := range k {
		k[i] = b
	}
	return k
}

func TestAddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	i, added := r.Add(testKey(1))
	require.True(t, added)
	require.Equal(t, 0, i)

	i, added = r.Add(testKey(1))
	require.False(t, added)
	require.Equal(t, 0, i)
	require.Equal(t, 1, r.Len())

	i, _ = r.Add(testKey(2))
	require.Equal(t, 1, i)
	require.Equal(t, []Entry{{0, testKey(1)}, {1, testKey(2)}}, r.List())
}

func TestRemoveKeepsIndices(t *testing.T) {
	r := NewRegistry()
	r.Add(testKey(1))
	r.Add(testKey(2))
	r.Add(testKey(3))

	require.True(t, r.Remove(testKey(2)))
	require.False(t, r.Remove(testKey(2)))
	require.False(t, r.Remove(testKey(9)))
	require.Equal(t, 2, r.Len())
	require.Equal(t, []Entry{{0, testKey(1)}, {2, testKey(3)}}, r.List())

	_, ok := r.Index(testKey(2))
	require.False(t, ok)
	k, ok := r.Key(1)
	require.True(t, ok)
	require.Equal(t, testKey(2), k)

	// a new key never takes the tombstoned slot
	i, _ := r.Add(testKey(4))
	require.Equal(t, 3, i)

	// re-adding the removed key revives its index
	i, added := r.Add(testKey(2))
	require.True(t, added)
	require.Equal(t, 1, i)
	require.Equal(t, 4, r.Len())
}

func TestParseIncomingViewingKey(t *testing.T) {
	_, err := ParseIncomingViewingKey(make([]byte, 32))
	require.ErrorIs(t, err, walleterrors.ErrValidation)

	k := testKey(0xab)
	parsed, err := HexToIncomingViewingKey(k.Hex())
	require.NoError(t, err)
	require.Equal(t, k, parsed)

	_, err = HexToIncomingViewingKey("0xzz")
	require.ErrorIs(t, err, walleterrors.ErrValidation)
}

func TestRecordsRestore(t *testing.T) {
	r := NewRegistry()
	r.Add(testKey(1))
	r.Add(testKey(2))
	r.Remove(testKey(1))

	restored := NewRegistry()
	require.NoError(t, restored.Restore(r.Records()))
	require.Equal(t, r.List(), restored.List())
	_, ok := restored.Index(testKey(1))
	require.False(t, ok)

	k2 := testKey(2)
	dup := append(r.Records(), Record{Key: k2[:]})
	require.ErrorIs(t, restored.Restore(dup), walleterrors.ErrStateConsistency)
	require.Zero(t, restored.Len())

	short := []Record{{Key: k2[:10]}}
	require.ErrorIs(t, restored.Restore(short), walleterrors.ErrValidation)
}
