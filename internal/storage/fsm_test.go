package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantize(t *testing.T) {
	cases := []struct {
		free int
		want uint8
	}{
		{0, 0},
		{-5, 0},
		{511, 0},
		{512, 1},
		{2048, 4},
		{PageSize - 1 - PageHeaderSize, 7},
		{PageSize, 8},
		{2 * PageSize, 8},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Quantize(c.free), "free=%d", c.free)
	}
}

func TestFreeSpaceMapStartsAllFree(t *testing.T) {
	m := NewFreeSpaceMap(6)

	assert.Equal(t, 6, m.Len())
	assert.Equal(t, []uint8{8, 8, 8, 8, 8, 8}, m.FirstLevel())
	assert.Equal(t, []uint8{8, 8}, m.SecondLevel())
}

func TestFreeSpaceMapUpdateKeepsGroupMax(t *testing.T) {
	m := NewFreeSpaceMap(5)

	require.NoError(t, m.Update(0, 1000))
	require.NoError(t, m.Update(1, 3000))
	require.NoError(t, m.Update(2, 0))
	require.NoError(t, m.Update(3, 600))
	require.NoError(t, m.Update(4, 100))

	assert.Equal(t, []uint8{1, 5, 0, 1, 0}, m.FirstLevel())
	assert.Equal(t, []uint8{5, 0}, m.SecondLevel())

	require.NoError(t, m.Update(1, 0))
	assert.Equal(t, uint8(1), m.SecondLevel()[0], "group max must follow its members down")

	err := m.Update(5, 0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFreeSpaceMapAppend(t *testing.T) {
	m := NewFreeSpaceMap(0)
	for i := 0; i < 5; i++ {
		m.Append()
	}

	assert.Equal(t, 5, m.Len())
	assert.Len(t, m.SecondLevel(), 2)

	require.NoError(t, m.Update(4, 0))
	assert.Equal(t, uint8(0), m.SecondLevel()[1])
}

func TestFreeSpaceMapFindPage(t *testing.T) {
	m := NewFreeSpaceMap(6)
	actual := []int{100, 200, 300, 400, 2500, 3000}
	for i, free := range actual {
		require.NoError(t, m.Update(uint32(i), free))
	}

	var probed []uint32
	freeBytes := func(id uint32) (int, error) {
		probed = append(probed, id)
		return actual[id], nil
	}

	id, found, err := m.FindPage(2000, freeBytes)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(4), id, "first fit in ascending order, not best fit")
	assert.Equal(t, []uint32{4}, probed, "group 0 must be skipped by its second-level entry")

	_, found, err = m.FindPage(3600, freeBytes)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFreeSpaceMapFindPageCorrectsStaleEntries(t *testing.T) {
	m := NewFreeSpaceMap(3)
	actual := []int{50, 50, 1200}

	id, found, err := m.FindPage(1000, func(id uint32) (int, error) {
		return actual[id], nil
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(2), id)

	assert.Equal(t, []uint8{0, 0, 8}, m.FirstLevel())
	assert.Equal(t, []uint8{8}, m.SecondLevel())
}

func TestFreeSpaceMapFindPageNeverReturnsTooSmall(t *testing.T) {
	m := NewFreeSpaceMap(8)
	// Entries all claim "entirely free"; real pages are all slightly short.
	_, found, err := m.FindPage(1500, func(id uint32) (int, error) {
		return 1499, nil
	})
	require.NoError(t, err)
	assert.False(t, found)
	for _, v := range m.FirstLevel() {
		assert.Equal(t, Quantize(1499), v)
	}
}

func TestFreeSpaceMapFindPagePropagatesErrors(t *testing.T) {
	m := NewFreeSpaceMap(1)
	boom := errors.New("boom")

	_, _, err := m.FindPage(10, func(uint32) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestFreeSpaceMapLoadRepairsSecondLevel(t *testing.T) {
	m := NewFreeSpaceMap(0)
	m.load([]uint8{1, 6, 2, 0, 3}, []uint8{2, 3})

	assert.Equal(t, []uint8{6, 3}, m.SecondLevel())
}
