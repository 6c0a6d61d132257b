// Package movie encodes the fixed-size movie records used by the heapstore
// demo. The heap file itself treats records as opaque bytes.
package movie

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Record Layout (112 bytes, little-endian):
// +----------------------+
// | ID (4)               |
// | Title (100, NUL pad) |
// | Rating (4, float32)  |
// | Release year (4)     |
// +----------------------+
const (
	titleSize = 100

	// Size is the encoded size of a Movie.
	Size = 4 + titleSize + 4 + 4

	// MaxTitleLen leaves room for the terminating NUL.
	MaxTitleLen = titleSize - 1
)

var ErrTitleTooLong = errors.New("movie title too long")

// Movie is one demo record.
type Movie struct {
	ID      uint32  `json:"id"`
	Title   string  `json:"title"`
	Rating  float32 `json:"rating"`
	Release uint32  `json:"release"`
}

func (m Movie) String() string {
	return fmt.Sprintf("Movie: id=%d, title=%s, rating=%.2f, release=%d", m.ID, m.Title, m.Rating, m.Release)
}

// Encode serializes the movie into exactly Size bytes.
func (m Movie) Encode() ([]byte, error) {
	if len(m.Title) > MaxTitleLen {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrTitleTooLong, len(m.Title), MaxTitleLen)
	}
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], m.ID)
	copy(buf[4:4+titleSize], m.Title)
	binary.LittleEndian.PutUint32(buf[104:108], math.Float32bits(m.Rating))
	binary.LittleEndian.PutUint32(buf[108:112], m.Release)
	return buf, nil
}

// Decode reads a movie from an encoded record.
func Decode(buf []byte) (Movie, error) {
	if len(buf) != Size {
		return Movie{}, fmt.Errorf("movie record is %d bytes, expected %d", len(buf), Size)
	}
	title := buf[4 : 4+titleSize]
	if i := bytes.IndexByte(title, 0); i >= 0 {
		title = title[:i]
	}
	return Movie{
		ID:      binary.LittleEndian.Uint32(buf[0:4]),
		Title:   string(title),
		Rating:  math.Float32frombits(binary.LittleEndian.Uint32(buf[104:108])),
		Release: binary.LittleEndian.Uint32(buf[108:112]),
	}, nil
}

// Samples returns the demo data set.
func Samples() []Movie {
	return []Movie{
		{1, "Toy Story", 0.92, 1995},
		{2, "Black Panther", 0.96, 2018},
		{3, "Alien", 0.98, 1979},
		{4, "Star Wars", 0.96, 1977},
		{5, "The Incredibles", 0.75, 2004},
	}
}
