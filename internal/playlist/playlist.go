// Package playlist formats HLS media playlists that list stored fragmented
// MP4 segments.
package playlist

import (
	"bytes"
	"fmt"
	"math"
	"time"
)

// Name is the file name of the playlist next to the segments
const Name = "index.m3u8"

// Entry is one media segment of a playlist
type Entry struct {
	URI      string
	Duration time.Duration
}

// Media is an HLS media playlist that grows while segments are written. It
// is published as an EVENT playlist until End is called.
type Media struct {
	// Map is the URI of the initialization segment
	Map      string
	Segments []Entry

	ended  bool
	maxDur time.Duration
}

// Append adds a segment to the end of the playlist
func (m *Media) Append(uri string, dur time.Duration) {
	m.Segments = append(m.Segments, Entry{URI: uri, Duration: dur})
	if dur > m.maxDur {
		m.maxDur = dur
	}
}

// End marks the playlist complete
func (m *Media) End() {
	m.ended = true
}

// Ended reports whether End has been called
func (m *Media) Ended() bool {
	return m.ended
}

// TargetDuration is the longest segment duration rounded to whole seconds
func (m *Media) TargetDuration() int {
	t := int(math.Round(m.maxDur.Seconds()))
	if t < 1 {
		t = 1
	}
	return t
}

// Bytes formats the playlist
func (m *Media) Bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-TARGETDURATION:%d\n", m.TargetDuration())
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	if m.ended {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	} else {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
	}
	if m.Map != "" {
		fmt.Fprintf(&b, "#EXT-X-MAP:URI=%q\n", m.Map)
	}
	for _, seg := range m.Segments {
		fmt.Fprintf(&b, "#EXTINF:%.03f,\n%s\n", seg.Duration.Seconds(), seg.URI)
	}
	if m.ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.Bytes()
}
