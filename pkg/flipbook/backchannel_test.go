package flipbook_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/evo/pkg/flipbook"
)

func Test_BackChannel_Roundtrips_When_Ranges_Are_Valid(t *testing.T) {
	t.Parallel()

	cases := []flipbook.BackChannel{
		{},
		{Herbivores: flipbook.Range{Start: 0, End: 4}, Predators: flipbook.Range{Start: 0, End: 1}},
		{Herbivores: flipbook.Range{Start: 3, End: 3}, Predators: flipbook.Range{Start: 7, End: 9}},
		{Herbivores: flipbook.Range{Start: 0, End: ^uint32(0)}, Predators: flipbook.Range{Start: ^uint32(0), End: ^uint32(0)}},
	}

	for _, bc := range cases {
		buf := make([]byte, flipbook.BackChannelSize)

		require.NoError(t, flipbook.EncodeBackChannel(buf, bc))

		got, err := flipbook.DecodeBackChannel(buf)
		require.NoError(t, err)
		require.Equal(t, bc, got)
	}
}

func Test_EncodeBackChannel_Writes_LittleEndian_Fields_In_Order(t *testing.T) {
	t.Parallel()

	buf := make([]byte, flipbook.BackChannelSize)
	bc := flipbook.BackChannel{
		Herbivores: flipbook.Range{Start: 1, End: 2},
		Predators:  flipbook.Range{Start: 3, End: 0x01020304},
	}

	require.NoError(t, flipbook.EncodeBackChannel(buf, bc))

	want := []byte{
		1, 0, 0, 0,
		2, 0, 0, 0,
		3, 0, 0, 0,
		4, 3, 2, 1,
	}
	require.Equal(t, want, buf)
}

func Test_DecodeBackChannel_Returns_ErrCorrupt_When_Start_Exceeds_End(t *testing.T) {
	t.Parallel()

	buf := make([]byte, flipbook.BackChannelSize)
	binary.LittleEndian.PutUint32(buf[8:], 5)
	binary.LittleEndian.PutUint32(buf[12:], 2)

	_, err := flipbook.DecodeBackChannel(buf)
	require.ErrorIs(t, err, flipbook.ErrCorrupt)
}

func Test_EncodeBackChannel_Returns_ErrInvalidInput_When_Input_Is_Bad(t *testing.T) {
	t.Parallel()

	err := flipbook.EncodeBackChannel(make([]byte, 15), flipbook.BackChannel{})
	require.ErrorIs(t, err, flipbook.ErrInvalidInput)

	err = flipbook.EncodeBackChannel(make([]byte, 16), flipbook.BackChannel{
		Herbivores: flipbook.Range{Start: 2, End: 1},
	})
	require.ErrorIs(t, err, flipbook.ErrInvalidInput)

	_, err = flipbook.DecodeBackChannel(make([]byte, 4))
	require.ErrorIs(t, err, flipbook.ErrInvalidInput)
}

func Test_Range_Len_Is_Zero_When_Inverted(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint32(3), flipbook.Range{Start: 1, End: 4}.Len())
	require.Equal(t, uint32(0), flipbook.Range{Start: 4, End: 1}.Len())
	require.Equal(t, "1..4", flipbook.Range{Start: 1, End: 4}.String())
}
