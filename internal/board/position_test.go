package board

import (
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestAllocate_Laws(t *testing.T) {
	assert.Equal(t, 1.0, Allocate(nil, nil), "empty column gets the seed")
	assert.Equal(t, 2.0, Allocate(nil, f(4)), "before the first item halves it")
	assert.Equal(t, 5.0, Allocate(f(4), nil), "after the last item adds one")
	assert.Equal(t, 3.0, Allocate(f(2), f(4)), "between neighbors is the mean")
}

func TestAllocate_StrictlyBetween(t *testing.T) {
	pairs := [][2]float64{
		{0, 1},
		{-10, -9.5},
		{-1, 1},
		{1, 1 + 1e-9},
		{1e300, 1.5e300},
	}
	for _, p := range pairs {
		got := Allocate(f(p[0]), f(p[1]))
		assert.Greater(t, got, p[0])
		assert.Less(t, got, p[1])
	}
}

func TestAllocate_BeforeNonPositiveFirstItem(t *testing.T) {
	for _, next := range []float64{0, -1, -0.25} {
		got := Allocate(nil, f(next))
		assert.Less(t, got, next, "next=%v", next)
	}
}

func TestValidatePosition(t *testing.T) {
	assert.NoError(t, ValidatePosition(1.5, f(1), f(2)))
	assert.NoError(t, ValidatePosition(1, nil, nil))
	assert.ErrorIs(t, ValidatePosition(math.NaN(), nil, nil), ErrNonFinitePosition)
	assert.ErrorIs(t, ValidatePosition(math.Inf(1), f(1), nil), ErrNonFinitePosition)
	assert.ErrorIs(t, ValidatePosition(1, f(1), nil), ErrPositionExhausted)
	assert.ErrorIs(t, ValidatePosition(2, nil, f(2)), ErrPositionExhausted)
}

func TestAllocate_ExhaustionIsDetected(t *testing.T) {
	// 同じ境界で二分を繰り返すと、いずれ隣接する浮動小数点数の間に余地がなくなる
	prev, next := 1.0, 2.0
	var err error
	for i := 0; i < 100 && err == nil; i++ {
		pos := Allocate(&prev, &next)
		err = ValidatePosition(pos, &prev, &next)
		next = pos
	}
	assert.ErrorIs(t, err, ErrPositionExhausted)
}

func TestAllocate_RandomInsertionsPreserveOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(20260301, 1))

	for seq := 0; seq < 1000; seq++ {
		n := rng.IntN(20)
		column := make([]float64, 0, n+30)
		start := rng.Float64()*100 - 50
		for i := 0; i < n; i++ {
			start += rng.Float64()*10 + 0.001
			column = append(column, start)
		}
		require.True(t, sort.Float64sAreSorted(column))

		for ins := 0; ins < 30; ins++ {
			slot := rng.IntN(len(column) + 1)
			var prev, next *float64
			if slot > 0 {
				prev = &column[slot-1]
			}
			if slot < len(column) {
				next = &column[slot]
			}

			pos := Allocate(prev, next)
			require.NoError(t, ValidatePosition(pos, prev, next), "seq=%d slot=%d", seq, slot)

			column = append(column, 0)
			copy(column[slot+1:], column[slot:])
			column[slot] = pos
		}

		for i := 1; i < len(column); i++ {
			require.Less(t, column[i-1], column[i], "seq=%d index=%d", seq, i)
		}
	}
}
