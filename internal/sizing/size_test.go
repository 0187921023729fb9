package sizing

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("overflow")

func TestToInt64(t *testing.T) {
	t.Parallel()

	v, err := ToInt64(math.MaxInt64, errTest)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), v)

	_, err = ToInt64(math.MaxInt64+1, errTest)
	assert.ErrorIs(t, err, errTest)

	_, err = ToInt64(math.MaxUint64, errTest)
	assert.ErrorIs(t, err, errTest)
}

func TestAddUint64(t *testing.T) {
	t.Parallel()

	sum, ok := AddUint64(1, 2)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), sum)

	_, ok = AddUint64(math.MaxUint64, 1)
	assert.False(t, ok)
}

func TestAddInt64(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b int64
		want int64
		ok   bool
	}{
		{"small", 10, 20, 30, true},
		{"max", math.MaxInt64 - 1, 1, math.MaxInt64, true},
		{"overflow", math.MaxInt64, 1, 0, false},
		{"negative a", -1, 1, 0, false},
		{"negative b", 1, -1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AddInt64(tt.a, tt.b)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := ReadAllWithLimit(strings.NewReader("hello"), 5, errTest)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = ReadAllWithLimit(strings.NewReader("hello!"), 5, errTest)
	assert.ErrorIs(t, err, errTest)
}
