package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// The free-space map is persisted after the last page:
//
//	[page 0]...[page N-1][first level: N][second level: ceil(N/4)][trailer]
//
// The trailer sits at the very end of the file so a reader can find the page
// count without knowing it in advance.
//
// Trailer Layout (24 bytes):
// +---------------------+
// | Magic "HFSM" (4)    |
// | Version (2)         |
// | Reserved (2)        |
// | Page count (4)      |
// | Reserved (4)        |
// | xxhash64 of map (8) |
// +---------------------+
const (
	footerTrailerSize = 24
	footerVersion     = 1
)

var footerMagic = [4]byte{'H', 'F', 'S', 'M'}

// errNoFooter means the file does not end in a valid footer.
var errNoFooter = errors.New("no valid free-space map footer")

// footerSize returns the length of the footer for pageCount pages.
func footerSize(pageCount uint32) int64 {
	return int64(pageCount) + int64(groupCount(int(pageCount))) + footerTrailerSize
}

// encodeFooter serializes both map levels followed by the trailer.
func encodeFooter(m *FreeSpaceMap) []byte {
	buf := make([]byte, 0, len(m.first)+len(m.second)+footerTrailerSize)
	buf = append(buf, m.first...)
	buf = append(buf, m.second...)
	sum := xxhash.Sum64(buf)

	var trailer [footerTrailerSize]byte
	copy(trailer[0:4], footerMagic[:])
	binary.LittleEndian.PutUint16(trailer[4:6], footerVersion)
	binary.LittleEndian.PutUint32(trailer[8:12], uint32(len(m.first)))
	binary.LittleEndian.PutUint64(trailer[16:24], sum)
	return append(buf, trailer[:]...)
}

// decodeTrailer parses a trailer and returns the page count and checksum.
func decodeTrailer(trailer []byte) (pageCount uint32, sum uint64, err error) {
	if len(trailer) != footerTrailerSize || !bytes.Equal(trailer[0:4], footerMagic[:]) {
		return 0, 0, errNoFooter
	}
	if v := binary.LittleEndian.Uint16(trailer[4:6]); v != footerVersion {
		return 0, 0, fmt.Errorf("%w: unsupported footer version %d", errNoFooter, v)
	}
	return binary.LittleEndian.Uint32(trailer[8:12]), binary.LittleEndian.Uint64(trailer[16:24]), nil
}

// decodeFooterMaps splits and verifies the map bytes that precede a trailer.
func decodeFooterMaps(maps []byte, pageCount uint32, sum uint64) (first, second []uint8, err error) {
	if int64(len(maps)) != footerSize(pageCount)-footerTrailerSize {
		return nil, nil, fmt.Errorf("%w: map region is %d bytes", errNoFooter, len(maps))
	}
	if xxhash.Sum64(maps) != sum {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", errNoFooter)
	}
	for _, v := range maps {
		if v > MaxFreeFraction {
			return nil, nil, fmt.Errorf("%w: entry %d out of range", errNoFooter, v)
		}
	}
	return maps[:pageCount], maps[pageCount:], nil
}
