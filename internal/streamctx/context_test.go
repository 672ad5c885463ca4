package streamctx_test

import (
	"testing"

	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg1audio"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleoag/remux/internal/codec"
	"github.com/cleoag/remux/internal/flv"
	"github.com/cleoag/remux/internal/streamctx"
)

func aacHeader(index, channels uint) *codec.AACSequenceHeader {
	return &codec.AACSequenceHeader{
		Config: aacparser.MPEG4AudioConfig{ObjectType: 2, SampleRateIndex: index, ChannelConfig: channels},
		Raw:    []byte{0x12, 0x10},
	}
}

func avcHeader() *codec.AVCSequenceHeader {
	return &codec.AVCSequenceHeader{Record: []byte{0x01, 0x64, 0x00, 0x1f}}
}

func metadata() flv.RawMetaData {
	return flv.RawMetaData{
		"duration":     5.0,
		"width":        640.0,
		"height":       480.0,
		"framerate":    30.0,
		"audiocodecid": 10.0,
		"videocodecid": 7.0,
	}
}

func TestDefaults(t *testing.T) {
	c := streamctx.New()
	assert.Equal(t, "isom", c.MajorBrand)
	assert.Equal(t, "512", c.MinorVersion)
	assert.Equal(t, []string{"isom", "iso2", "avc1", "mp41"}, c.CompatibleBrands)
	assert.Equal(t, uint32(1), c.VideoTrack.TrackID)
	assert.Equal(t, uint32(2), c.AudioTrack.TrackID)
	assert.Equal(t, uint32(1), c.VideoTrack.SequenceNumber)
	assert.Equal(t, uint32(1), c.AudioTrack.SequenceNumber)
	assert.False(t, c.IsConfigured())
	assert.False(t, c.IsHeaderSent())
	assert.Len(t, c.Pending(), 4)
}

func TestParseMetadata(t *testing.T) {
	c := streamctx.New()
	c.ParseMetadata(metadata())
	assert.Equal(t, uint32(5000), c.DurationMs)
	assert.Equal(t, 640.0, c.Width)
	assert.Equal(t, 480.0, c.Height)
	assert.Equal(t, 30.0, c.FPS)
	assert.Equal(t, uint32(30000), c.FPSNum)
	assert.Equal(t, streamctx.AudioAAC, c.AudioCodecType)
	assert.Equal(t, streamctx.VideoAVC1, c.VideoCodecType)
	assert.True(t, c.MetadataConfigured())

	// absent keys keep what is already known
	c.ParseMetadata(flv.RawMetaData{"videodatarate": 2500.0})
	assert.Equal(t, uint32(5000), c.DurationMs)
	assert.Equal(t, uint32(2500), c.VideoDataRate)
	assert.Equal(t, streamctx.AudioAAC, c.AudioCodecType)

	c.ParseMetadata(flv.RawMetaData{"audiocodecid": 2.0, "videocodecid": 4.0})
	assert.Equal(t, streamctx.AudioMP3, c.AudioCodecType)
	assert.Equal(t, streamctx.VideoNone, c.VideoCodecType)
	c.ParseMetadata(flv.RawMetaData{"audiocodecid": 1.0})
	assert.Equal(t, streamctx.AudioNone, c.AudioCodecType)
}

func TestParseMetadataEmpty(t *testing.T) {
	c := streamctx.New()
	c.ParseMetadata(flv.RawMetaData{})
	assert.True(t, c.MetadataConfigured())
	assert.Zero(t, c.DurationMs)
	assert.Zero(t, c.Width)
	assert.Equal(t, streamctx.AudioNone, c.AudioCodecType)
}

func TestCompatibleBrands(t *testing.T) {
	c := streamctx.New()
	c.ParseMetadata(metadata())
	c.ParseMetadata(metadata())
	assert.Equal(t, []string{"isom", "iso2", "avc1", "mp41"}, c.CompatibleBrands)

	c.ParseMetadata(flv.RawMetaData{
		"major_brand":       "mp42",
		"minor_version":     "0",
		"compatible_brands": "isomiso2avc1mp41",
	})
	assert.Equal(t, "mp42", c.MajorBrand)
	assert.Equal(t, "0", c.MinorVersion)
	assert.Equal(t, []string{"isom", "iso2", "avc1", "mp41", "isom", "iso2", "avc1", "mp41"}, c.CompatibleBrands)

	// brands outside a key keep their previous values
	c.ParseMetadata(flv.RawMetaData{})
	assert.Equal(t, "mp42", c.MajorBrand)
	assert.Equal(t, "0", c.MinorVersion)
}

func TestCompatibleBrandsReplace(t *testing.T) {
	c := streamctx.New()
	c.ReplaceCompatibleBrands = true
	c.ParseMetadata(flv.RawMetaData{"compatible_brands": "mp42isomdash"})
	assert.Equal(t, []string{"mp42", "isom", "dash"}, c.CompatibleBrands)
	c.ParseMetadata(flv.RawMetaData{"compatible_brands": "isomiso2avc1mp41iso6xx"})
	assert.Equal(t, []string{"isom", "iso2", "avc1", "mp41"}, c.CompatibleBrands)
}

func TestMinorVersionNumber(t *testing.T) {
	c := streamctx.New()
	v, err := c.MinorVersionNumber()
	require.NoError(t, err)
	assert.Equal(t, uint32(512), v)

	c.ParseMetadata(flv.RawMetaData{"minor_version": "abc"})
	_, err = c.MinorVersionNumber()
	assert.ErrorIs(t, err, streamctx.ErrInvalidMetadata)
	assert.True(t, streamctx.IsConfigFault(err))
}

func TestConfigureAAC(t *testing.T) {
	c := streamctx.New()
	c.ParseMetadata(metadata())
	require.NoError(t, c.ConfigureAudioMetadata(aacHeader(4, 2)))
	assert.Equal(t, uint32(44100), c.AudioSampleRate)
	assert.Equal(t, uint8(2), c.AudioChannels)
	assert.Equal(t, []byte{0x12, 0x10}, c.AudioAACInfo)
	assert.Equal(t, uint32(1024), c.AudioFrameSamples)
	assert.NotContains(t, c.Pending(), "audio config")
}

func TestAACSampleRates(t *testing.T) {
	want := []uint32{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}
	for i, rate := range want {
		got, ok := streamctx.AACSampleRate(uint(i))
		assert.True(t, ok)
		assert.Equal(t, rate, got)
	}
	_, ok := streamctx.AACSampleRate(13)
	assert.False(t, ok)
}

func TestConfigureAACBadIndex(t *testing.T) {
	c := streamctx.New()
	c.ParseMetadata(metadata())
	err := c.ConfigureAudioMetadata(aacHeader(13, 2))
	assert.ErrorIs(t, err, streamctx.ErrSamplingIndex)
	assert.True(t, streamctx.IsConfigFault(err))
	assert.Contains(t, c.Pending(), "audio config")
}

func TestConfigureMP3(t *testing.T) {
	for _, tc := range []struct {
		mode     mpeg1audio.ChannelMode
		channels uint8
		extended uint8
	}{
		{mpeg1audio.ChannelModeMono, 1, 0},
		{mpeg1audio.ChannelModeDualChannel, 2, 0},
		{mpeg1audio.ChannelModeStereo, 2, 0},
		{mpeg1audio.ChannelModeJointStereo, 2, 3},
	} {
		c := streamctx.New()
		c.ParseMetadata(flv.RawMetaData{"audiocodecid": 2.0})
		err := c.ConfigureAudioMetadata(&codec.MP3Header{Channel: tc.mode, ChannelExtended: 3, SampleRate: 48000})
		require.NoError(t, err)
		assert.Equal(t, tc.channels, c.AudioChannels, "mode %d", tc.mode)
		assert.Equal(t, tc.extended, c.AudioChannelsExtended, "mode %d", tc.mode)
		assert.Equal(t, uint32(48000), c.AudioSampleRate)
	}
}

func TestConfigureMP3FrameSamples(t *testing.T) {
	c := streamctx.New()
	c.ParseMetadata(flv.RawMetaData{"audiocodecid": 2.0})
	// MPEG-2 layer III frames decode to half as many samples as MPEG-1
	err := c.ConfigureAudioMetadata(&codec.MP3Header{Channel: mpeg1audio.ChannelModeMono, SampleRate: 22050, Samples: 576})
	require.NoError(t, err)
	assert.Equal(t, uint32(576), c.AudioFrameSamples)
}

func TestConfigureAudioMismatch(t *testing.T) {
	c := streamctx.New()
	c.ParseMetadata(metadata())
	err := c.ConfigureAudioMetadata(&codec.MP3Header{Channel: mpeg1audio.ChannelModeStereo, SampleRate: 44100})
	assert.ErrorIs(t, err, streamctx.ErrCodecMismatch)
	assert.True(t, streamctx.IsConfigFault(err))
	assert.Zero(t, c.AudioSampleRate)

	c.ParseMetadata(flv.RawMetaData{"audiocodecid": 2.0})
	err = c.ConfigureAudioMetadata(aacHeader(4, 2))
	assert.ErrorIs(t, err, streamctx.ErrCodecMismatch)
	assert.Contains(t, c.Pending(), "audio config")
}

func TestConfigureRawPayloads(t *testing.T) {
	c := streamctx.New()
	c.ParseMetadata(metadata())
	require.NoError(t, c.ConfigureAudioMetadata(&codec.AudioRaw{Data: []byte{1}}))
	require.NoError(t, c.ConfigureVideoMetadata(&codec.AVCNalu{Data: []byte{1}}))
	require.NoError(t, c.ConfigureVideoMetadata(&codec.AVCEndOfSequence{}))
	require.NoError(t, c.ConfigureVideoMetadata(&codec.VideoUnsupported{CodecID: 2}))
	assert.Contains(t, c.Pending(), "audio config")
	assert.Contains(t, c.Pending(), "video config")
	assert.Nil(t, c.VideoAVCCInfo)
}

func TestConfigureVideo(t *testing.T) {
	c := streamctx.New()
	require.NoError(t, c.ConfigureVideoMetadata(avcHeader()))
	assert.Equal(t, []byte{0x01, 0x64, 0x00, 0x1f}, c.VideoAVCCInfo)
	assert.NotContains(t, c.Pending(), "video config")
}

func TestParseFlvHeaderIdempotent(t *testing.T) {
	c := streamctx.New()
	h := flv.Header{Version: 1, HasAudio: true, HasVideo: true}
	c.ParseFlvHeader(h)
	first := *c
	c.ParseFlvHeader(h)
	assert.Equal(t, first, *c)
	assert.True(t, c.HasAudio)
	assert.True(t, c.HasVideo)
}

// Every ordering of the four configuration steps ends configured, and
// leaving any step out never does.
func TestConfigurationCommutes(t *testing.T) {
	steps := []func(*streamctx.StreamContext) error{
		func(c *streamctx.StreamContext) error {
			c.ParseFlvHeader(flv.Header{HasAudio: true, HasVideo: true})
			return nil
		},
		func(c *streamctx.StreamContext) error {
			c.ParseMetadata(metadata())
			return nil
		},
		func(c *streamctx.StreamContext) error {
			return c.ConfigureVideoMetadata(avcHeader())
		},
	}
	// audio configuration depends on the declared codec, so it is only
	// counted as satisfied when it succeeds
	audio := func(c *streamctx.StreamContext) error {
		return c.ConfigureAudioMetadata(aacHeader(4, 2))
	}
	steps = append(steps, audio)

	for _, order := range permutations(len(steps)) {
		c := streamctx.New()
		satisfied := 0
		for _, i := range order {
			if steps[i](c) == nil {
				satisfied++
			}
		}
		assert.Equal(t, satisfied == len(steps), c.IsConfigured(), "order %v", order)
	}

	// retrying audio after metadata always completes the configuration
	for _, order := range permutations(len(steps)) {
		c := streamctx.New()
		for _, i := range order {
			_ = steps[i](c)
		}
		require.NoError(t, audio(c))
		assert.True(t, c.IsConfigured(), "order %v", order)
	}

	for skip := range steps {
		c := streamctx.New()
		for i, step := range steps {
			if i != skip {
				_ = step(c)
			}
		}
		assert.False(t, c.IsConfigured(), "skipped %d", skip)
	}
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestHeaderSentLatch(t *testing.T) {
	c := streamctx.New()
	assert.ErrorIs(t, c.SetHeaderSent(true), streamctx.ErrNotConfigured)
	assert.False(t, c.IsHeaderSent())

	c.SetConfigured(true)
	require.NoError(t, c.SetHeaderSent(true))
	assert.True(t, c.IsHeaderSent())

	c.Reset()
	assert.False(t, c.IsHeaderSent())
	assert.False(t, c.IsConfigured())
}

func TestTrackSequence(t *testing.T) {
	c := streamctx.New()
	assert.Equal(t, uint32(1), c.VideoTrack.NextSequence())
	assert.Equal(t, uint32(2), c.VideoTrack.NextSequence())
	assert.Equal(t, uint32(3), c.VideoTrack.SequenceNumber)
	assert.Equal(t, uint32(1), c.AudioTrack.SequenceNumber)
}

func TestSampleContext(t *testing.T) {
	key := streamctx.SampleContext{IsKeyframe: true, DecodeTime: 1000, CompositionTimeOffset: 80}
	assert.Equal(t, uint32(0x02000000), key.Flags())
	assert.Equal(t, int64(1080), key.PresentationTime())

	inter := streamctx.SampleContext{DecodeTime: 1040, CompositionTimeOffset: -40}
	assert.Equal(t, uint32(0x01010000), inter.Flags())
	assert.Equal(t, int64(1000), inter.PresentationTime())

	leading := streamctx.SampleContext{IsLeading: true, HasRedundancy: true, IsKeyframe: true}
	assert.Equal(t, uint32(0x06100000), leading.Flags())
}

func TestAudioDisabledByHeader(t *testing.T) {
	c := streamctx.New()
	c.ParseMetadata(metadata())
	c.ParseFlvHeader(flv.Header{HasVideo: true})
	require.NoError(t, c.ConfigureVideoMetadata(avcHeader()))
	assert.True(t, c.IsConfigured())
	assert.True(t, c.AudioDisabled())
	assert.Equal(t, streamctx.AudioNone, c.AudioCodecType)

	// audio that shows up anyway is ignored
	require.NoError(t, c.ConfigureAudioMetadata(aacHeader(4, 2)))
	assert.Nil(t, c.AudioAACInfo)
	c.ParseMetadata(metadata())
	assert.Equal(t, streamctx.AudioNone, c.AudioCodecType)
}

func TestAudioDisabledByCodec(t *testing.T) {
	c := streamctx.New()
	c.ParseFlvHeader(flv.Header{HasAudio: true, HasVideo: true})
	meta := metadata()
	meta["audiocodecid"] = 11.0 // Speex
	c.ParseMetadata(meta)
	require.NoError(t, c.ConfigureVideoMetadata(avcHeader()))
	assert.True(t, c.IsConfigured())
	assert.True(t, c.AudioDisabled())

	// without a declared codec the audio step stays open
	c = streamctx.New()
	c.ParseFlvHeader(flv.Header{HasAudio: true, HasVideo: true})
	delete(meta, "audiocodecid")
	c.ParseMetadata(meta)
	require.NoError(t, c.ConfigureVideoMetadata(avcHeader()))
	assert.False(t, c.IsConfigured())
	assert.Equal(t, []string{"audio config"}, c.Pending())
}
