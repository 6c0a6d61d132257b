package storage

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestPager(t *testing.T, name string) (*pager, *FreeSpaceMap, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	p, fsm, err := openPager(path, testLogger())
	require.NoError(t, err)
	return p, fsm, path
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	stat, err := os.Stat(path)
	require.NoError(t, err)
	return stat.Size()
}

func TestPagerCreateClose(t *testing.T) {
	p, fsm, _ := openTestPager(t, "test_pager.db")

	assert.Zero(t, p.PageCount())
	assert.Zero(t, fsm.Len())
	require.NoError(t, p.close())
}

func TestPagerAllocateAndRead(t *testing.T) {
	p, _, path := openTestPager(t, "test_pager_alloc.db")
	defer p.close()

	id, err := p.AllocatePage()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)
	assert.Equal(t, uint32(1), p.PageCount())
	assert.Equal(t, int64(PageSize), fileSize(t, path), "allocated page should be on disk")

	page, err := p.ReadPage(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), page.ID())
	assert.Equal(t, PageKindLeaf, page.Kind())
	assert.Zero(t, page.NumSlots())

	beyond, err := p.ReadPage(5)
	require.NoError(t, err, "pages past the count come back fresh")
	assert.Equal(t, uint32(5), beyond.ID())
	assert.Equal(t, uint16(PageSize-1-PageHeaderSize), beyond.TotalFree())
}

func TestPagerAllocateDropsStaleFooter(t *testing.T) {
	p, fsm, path := openTestPager(t, "test_pager_alloc_footer.db")
	defer p.close()

	_, err := p.AllocatePage()
	require.NoError(t, err)
	fsm.Append()
	require.NoError(t, p.writeFooter(fsm))
	// Stand-in for the tail of a footer longer than one page.
	_, err = p.file.WriteAt(make([]byte, 2*PageSize), PageSize+footerSize(1))
	require.NoError(t, err)

	id, err := p.AllocatePage()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, int64(2*PageSize), fileSize(t, path))
}

func TestPagerFooterPersistence(t *testing.T) {
	p, fsm, path := openTestPager(t, "test_pager_footer.db")
	for i := 0; i < 5; i++ {
		_, err := p.AllocatePage()
		require.NoError(t, err)
		fsm.Append()
	}
	require.NoError(t, fsm.Update(1, 700))
	require.NoError(t, fsm.Update(4, 0))

	require.NoError(t, p.writeFooter(fsm))
	require.NoError(t, p.close())
	assert.Equal(t, 5*PageSize+footerSize(5), fileSize(t, path))

	p2, fsm2, err := openPager(path, testLogger())
	require.NoError(t, err)
	defer p2.close()

	assert.Equal(t, uint32(5), p2.PageCount())
	assert.Equal(t, fsm.FirstLevel(), fsm2.FirstLevel())
	assert.Equal(t, fsm.SecondLevel(), fsm2.SecondLevel())
}

func TestPagerShorterFooterTruncatesFile(t *testing.T) {
	p, fsm, path := openTestPager(t, "test_pager_truncate.db")
	defer p.close()

	_, err := p.AllocatePage()
	require.NoError(t, err)
	fsm.Append()
	// Junk past the footer from an earlier, longer layout.
	_, err = p.file.WriteAt(make([]byte, 3*PageSize), PageSize)
	require.NoError(t, err)

	require.NoError(t, p.writeFooter(fsm))
	assert.Equal(t, PageSize+footerSize(1), fileSize(t, path))
}

func TestPagerMissingFooterFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test_pager_legacy.db")

	// Two pages and a raw map with no trailer, as older files were written.
	f, err := os.Create(path)
	require.NoError(t, err)
	for id := uint32(0); id < 2; id++ {
		require.NoError(t, WritePageAt(f, NewPage(PageKindLeaf, id)))
	}
	_, err = f.WriteAt([]byte{3, 3, 3}, 2*PageSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	p, fsm, err := openPager(path, testLogger())
	require.NoError(t, err)
	defer p.close()

	assert.Equal(t, uint32(2), p.PageCount())
	for i, v := range fsm.FirstLevel() {
		assert.Equal(t, MaxFreeFraction, v, "entry %d should fall back to all-free", i)
	}
}

func TestPagerCorruptFooterFallsBack(t *testing.T) {
	p, fsm, path := openTestPager(t, "test_pager_corrupt.db")
	_, err := p.AllocatePage()
	require.NoError(t, err)
	fsm.Append()
	require.NoError(t, fsm.Update(0, 0))
	require.NoError(t, p.writeFooter(fsm))
	// Flip the first-level entry so the checksum no longer matches.
	_, err = p.file.WriteAt([]byte{5}, PageSize)
	require.NoError(t, err)
	require.NoError(t, p.close())

	p2, fsm2, err := openPager(path, testLogger())
	require.NoError(t, err)
	defer p2.close()

	assert.Equal(t, []uint8{MaxFreeFraction}, fsm2.FirstLevel())
}

func TestPagerRejectsMisplacedPage(t *testing.T) {
	p, _, _ := openTestPager(t, "test_pager_misplaced.db")
	defer p.close()

	_, err := p.AllocatePage()
	require.NoError(t, err)
	_, err = p.AllocatePage()
	require.NoError(t, err)
	// Write page 0's image at page 1's offset.
	_, err = p.file.WriteAt(NewPage(PageKindLeaf, 0).Serialize(), PageSize)
	require.NoError(t, err)

	_, err = p.ReadPage(1)
	assert.ErrorIs(t, err, ErrCorruptPage)
}

func TestPagerOpenFailure(t *testing.T) {
	_, _, err := openPager(filepath.Join(t.TempDir(), "missing", "dir", "x.db"), testLogger())
	assert.ErrorIs(t, err, ErrIO)
}
