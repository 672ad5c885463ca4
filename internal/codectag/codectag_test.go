package codectag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleoag/remux/internal/flv/flvtest"
	"github.com/cleoag/remux/internal/streamctx"
)

func TestCodecs(t *testing.T) {
	c := streamctx.New()
	c.VideoCodecType = streamctx.VideoAVC1
	c.VideoAVCCInfo = flvtest.AVCRecord()
	c.AudioCodecType = streamctx.AudioAAC
	c.AudioAACInfo = flvtest.ASC(4, 2)

	codecs, err := Codecs(c)
	require.NoError(t, err)
	assert.Equal(t, "avc1.64000c,mp4a.40.2", codecs)
	assert.Equal(t, `video/mp4; codecs="avc1.64000c,mp4a.40.2"`, ContentType(c))

	c.AudioCodecType = streamctx.AudioMP3
	codecs, err = Codecs(c)
	require.NoError(t, err)
	assert.Equal(t, "avc1.64000c,mp4a.6B", codecs)

	c.AudioCodecType = streamctx.AudioNone
	codecs, err = Codecs(c)
	require.NoError(t, err)
	assert.Equal(t, "avc1.64000c", codecs)
}

func TestCodecsUnsupported(t *testing.T) {
	c := streamctx.New()
	_, err := Video(c)
	assert.Error(t, err)
	_, err = Audio(c)
	assert.Error(t, err)
	assert.Equal(t, "video/mp4", ContentType(c))

	c.VideoCodecType = streamctx.VideoAVC1
	c.VideoAVCCInfo = []byte{0x01}
	_, err = Codecs(c)
	assert.Error(t, err)
}
