package storage

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write("live/init.mp4", []byte("init")))
	require.NoError(t, s.Write("live/seg-000001.m4s", []byte("seg")))

	data, err := s.Read("live/init.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("init"), data)

	ok, err := s.Exists("live/seg-000001.m4s")
	require.NoError(t, err)
	assert.True(t, ok)

	files, err := s.List("live")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"init.mp4", "seg-000001.m4s"}, files)

	rs, err := s.ReadSeeker("live/seg-000001.m4s")
	require.NoError(t, err)
	b, err := io.ReadAll(rs)
	require.NoError(t, err)
	assert.Equal(t, []byte("seg"), b)
	rs.(io.Closer).Close()

	require.NoError(t, s.Delete("live/seg-000001.m4s"))
	require.NoError(t, s.Delete("live/seg-000001.m4s"))
	ok, err = s.Exists("live/seg-000001.m4s")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Read("missing.mp4")
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentType("init.mp4"))
	assert.Equal(t, "video/iso.segment", ContentType("seg-000001.m4s"))
	assert.Equal(t, "application/vnd.apple.mpegurl", ContentType("index.m3u8"))
	assert.Equal(t, "application/octet-stream", ContentType("x.bin"))
	assert.Equal(t, "no-cache", CacheControl("init.mp4"))
	assert.Contains(t, CacheControl("seg-000001.m4s"), "immutable")
}
