package flipbook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/evo/pkg/flipbook"
)

func Test_Pointer_Roundtrips_When_Packed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		slot  int
		stamp time.Duration
	}{
		{0, 0},
		{1, time.Nanosecond},
		{2, 1500 * time.Millisecond},
		{flipbook.MaxPointerSlot, flipbook.MaxPointerStamp},
	}

	for _, tc := range cases {
		p, err := flipbook.NewPointer(tc.slot, tc.stamp)
		require.NoError(t, err)

		got := flipbook.UnpackPointer(p.Pack())
		require.Equal(t, p, got)
		require.Equal(t, tc.slot, int(got.Slot))
		require.Equal(t, tc.stamp, got.Stamp)
	}
}

func Test_Pointer_Orders_By_Stamp_Then_Slot_When_Compared_Packed(t *testing.T) {
	t.Parallel()

	older, _ := flipbook.NewPointer(2, 10)
	newer, _ := flipbook.NewPointer(0, 11)

	require.True(t, newer.Newer(older), "larger stamp must sort after smaller stamp regardless of slot")
	require.Greater(t, newer.Pack(), older.Pack())

	a, _ := flipbook.NewPointer(1, 10)
	b, _ := flipbook.NewPointer(2, 10)

	require.True(t, b.Newer(a), "equal stamps order by slot")
	require.False(t, a.Newer(a))
}

func Test_Pointer_Larger_Word_Is_Newer_When_Stamps_Count_Up(t *testing.T) {
	t.Parallel()

	prev, err := flipbook.NewPointer(flipbook.MaxPointerSlot, 0)
	require.NoError(t, err)

	for stamp := time.Duration(1); stamp < 1<<20; stamp <<= 1 {
		for slot := range 3 {
			next, err := flipbook.NewPointer(slot, stamp)
			require.NoError(t, err)

			require.Greater(t, next.Pack(), prev.Pack(), "stamp %s slot %d", stamp, slot)
			require.Equal(t, next.Newer(prev), next.Pack() > prev.Pack())
		}

		prev, _ = flipbook.NewPointer(2, stamp)
	}
}

func Test_NewPointer_Returns_ErrOverflow_When_Out_Of_Range(t *testing.T) {
	t.Parallel()

	_, err := flipbook.NewPointer(flipbook.MaxPointerSlot+1, 0)
	require.ErrorIs(t, err, flipbook.ErrOverflow)

	_, err = flipbook.NewPointer(0, flipbook.MaxPointerStamp+1)
	require.ErrorIs(t, err, flipbook.ErrOverflow)

	_, err = flipbook.NewPointer(-1, 0)
	require.ErrorIs(t, err, flipbook.ErrOverflow)

	_, err = flipbook.NewPointer(0, -time.Nanosecond)
	require.ErrorIs(t, err, flipbook.ErrOverflow)
}
