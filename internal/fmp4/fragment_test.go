package fmp4_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/abema/go-mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleoag/remux/internal/flv/flvtest"
	"github.com/cleoag/remux/internal/fmp4"
	"github.com/cleoag/remux/internal/fragment"
	"github.com/cleoag/remux/internal/streamctx"
)

type parsedFragment struct {
	mfhd *mp4.Mfhd
	tfhd *mp4.Tfhd
	tfdt *mp4.Tfdt
	trun *mp4.Trun
	moof mp4.BoxInfo
	mdat []byte
}

func parseFragment(t *testing.T, b []byte) parsedFragment {
	t.Helper()
	r := bytes.NewReader(b)
	var p parsedFragment
	boxes, err := mp4.ExtractBoxesWithPayload(r, nil, []mp4.BoxPath{
		{mp4.BoxTypeMoof()},
		{mp4.BoxTypeMoof(), mp4.BoxTypeMfhd()},
		{mp4.BoxTypeMoof(), mp4.BoxTypeTraf(), mp4.BoxTypeTfhd()},
		{mp4.BoxTypeMoof(), mp4.BoxTypeTraf(), mp4.BoxTypeTfdt()},
		{mp4.BoxTypeMoof(), mp4.BoxTypeTraf(), mp4.BoxTypeTrun()},
		{mp4.BoxTypeMdat()},
	})
	require.NoError(t, err)
	for _, box := range boxes {
		switch v := box.Payload.(type) {
		case *mp4.Moof:
			p.moof = box.Info
		case *mp4.Mfhd:
			p.mfhd = v
		case *mp4.Tfhd:
			p.tfhd = v
		case *mp4.Tfdt:
			p.tfdt = v
		case *mp4.Trun:
			p.trun = v
		case *mp4.Mdat:
			p.mdat = v.Data
		}
	}
	require.NotNil(t, p.trun)
	return p
}

func TestVideoFragment(t *testing.T) {
	track := streamctx.New().VideoTrack
	f, err := fmp4.NewVideoFragmenter(&track, flvtest.AVCRecord())
	require.NoError(t, err)

	frames := [][]byte{
		flvtest.NALU([]byte{0x65, 1, 2, 3}),
		flvtest.NALU([]byte{0x41, 1}),
		flvtest.NALU([]byte{0x41, 2, 2}),
		flvtest.NALU([]byte{0x65, 9}),
	}
	for i, data := range frames {
		require.NoError(t, f.WriteSample(fragment.Sample{
			Time:     time.Duration(i*40) * time.Millisecond,
			Keyframe: i == 0 || i == 3,
			Data:     data,
		}))
	}

	frag, err := f.Fragment()
	require.NoError(t, err)
	assert.True(t, frag.Independent)
	assert.Equal(t, 120*time.Millisecond, frag.Duration)
	assert.Equal(t, uint32(1), frag.Sequence)
	assert.Equal(t, uint32(1), frag.TrackID)
	assert.Equal(t, len(frag.Bytes), frag.Length)
	assert.Equal(t, uint32(2), track.SequenceNumber)

	p := parseFragment(t, frag.Bytes)
	assert.Equal(t, uint32(1), p.mfhd.SequenceNumber)
	assert.Equal(t, uint32(1), p.tfhd.TrackID)
	assert.True(t, p.tfhd.CheckFlag(mp4.TfhdDefaultBaseIsMoof))
	assert.True(t, p.tfhd.CheckFlag(mp4.TfhdDefaultSampleDurationPresent))
	assert.False(t, p.tfhd.CheckFlag(mp4.TfhdDefaultSampleSizePresent))
	assert.Equal(t, uint32(40), p.tfhd.DefaultSampleDuration)
	assert.Equal(t, uint32(0x01010000), p.tfhd.DefaultSampleFlags)
	assert.Equal(t, uint32(0x02000000), p.trun.FirstSampleFlags)
	assert.Equal(t, uint64(0), p.tfdt.BaseMediaDecodeTimeV1)
	require.Len(t, p.trun.Entries, 3)
	assert.Equal(t, uint32(len(frames[0])), p.trun.Entries[0].SampleSize)
	assert.Equal(t, uint32(len(frames[2])), p.trun.Entries[2].SampleSize)
	assert.Equal(t, int32(p.moof.Size+8), p.trun.DataOffset)

	var want []byte
	for _, data := range frames[:3] {
		want = append(want, data...)
	}
	assert.Equal(t, want, p.mdat)

	// the held back keyframe starts the next fragment
	frag, err = f.Flush()
	require.NoError(t, err)
	assert.True(t, frag.Independent)
	assert.Equal(t, uint32(2), frag.Sequence)
	p = parseFragment(t, frag.Bytes)
	assert.Equal(t, uint64(120), p.tfdt.BaseMediaDecodeTimeV1)
	assert.Equal(t, uint32(1), p.trun.SampleCount)
	assert.Equal(t, uint32(40), p.tfhd.DefaultSampleDuration)
	assert.Equal(t, frames[3], p.mdat)

	frag, err = f.Flush()
	require.NoError(t, err)
	assert.Zero(t, frag.Length)
}

func TestVideoFragmentCompositionTime(t *testing.T) {
	track := streamctx.New().VideoTrack
	f, err := fmp4.NewVideoFragmenter(&track, flvtest.AVCRecord())
	require.NoError(t, err)
	offsets := []time.Duration{80, -40, 0}
	for i, cts := range offsets {
		require.NoError(t, f.WriteSample(fragment.Sample{
			Time:            time.Duration(i*40) * time.Millisecond,
			CompositionTime: cts * time.Millisecond,
			Keyframe:        i == 0,
			Data:            flvtest.NALU([]byte{0x41, byte(i)}),
		}))
	}
	frag, err := f.Flush()
	require.NoError(t, err)
	p := parseFragment(t, frag.Bytes)
	assert.Equal(t, uint8(1), p.trun.GetVersion())
	require.Len(t, p.trun.Entries, 3)
	assert.Equal(t, int32(80), p.trun.Entries[0].SampleCompositionTimeOffsetV1)
	assert.Equal(t, int32(-40), p.trun.Entries[1].SampleCompositionTimeOffsetV1)
	assert.Equal(t, int32(0), p.trun.Entries[2].SampleCompositionTimeOffsetV1)
}

func TestVideoFragmentAnnexB(t *testing.T) {
	track := streamctx.New().VideoTrack
	f, err := fmp4.NewVideoFragmenter(&track, flvtest.AVCRecord())
	require.NoError(t, err)
	annexb := []byte{0, 0, 0, 1, 0x65, 0xaa, 0xbb, 0, 0, 0, 1, 0x06, 0x05}
	require.NoError(t, f.WriteSample(fragment.Sample{Keyframe: true, Data: annexb}))
	frag, err := f.Flush()
	require.NoError(t, err)
	p := parseFragment(t, frag.Bytes)
	want := append(flvtest.NALU([]byte{0x65, 0xaa, 0xbb}), flvtest.NALU([]byte{0x06, 0x05})...)
	assert.Equal(t, want, p.mdat)
}

func TestVideoFragmentCoalesce(t *testing.T) {
	track := streamctx.New().VideoTrack
	f, err := fmp4.NewVideoFragmenter(&track, flvtest.AVCRecord())
	require.NoError(t, err)
	first := flvtest.NALU([]byte{0x06, 0x05})
	second := flvtest.NALU([]byte{0x65, 0x01})
	require.NoError(t, f.WriteSample(fragment.Sample{Data: first}))
	require.NoError(t, f.WriteSample(fragment.Sample{Keyframe: true, Data: second}))
	frag, err := f.Flush()
	require.NoError(t, err)
	assert.True(t, frag.Independent)
	p := parseFragment(t, frag.Bytes)
	assert.Equal(t, uint32(1), p.trun.SampleCount)
	assert.Equal(t, append(append([]byte{}, first...), second...), p.mdat)
}

func TestAudioFragment(t *testing.T) {
	track := streamctx.New().AudioTrack
	f := fmp4.NewAudioFragmenter(&track)
	frag, err := f.Fragment()
	require.NoError(t, err)
	assert.Zero(t, frag.Length)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.WriteSample(fragment.Sample{
			Time: time.Duration(i*23) * time.Millisecond,
			Data: []byte{0x21, byte(i), 0x00},
		}))
	}
	frag, err = f.Fragment()
	require.NoError(t, err)
	assert.True(t, frag.Independent)
	assert.Equal(t, uint32(2), frag.TrackID)
	p := parseFragment(t, frag.Bytes)
	assert.Equal(t, uint32(2), p.tfhd.TrackID)
	assert.True(t, p.tfhd.CheckFlag(mp4.TfhdDefaultSampleSizePresent))
	assert.True(t, p.tfhd.CheckFlag(mp4.TfhdDefaultSampleFlagsPresent))
	assert.Equal(t, uint32(3), p.tfhd.DefaultSampleSize)
	assert.Equal(t, uint32(23), p.tfhd.DefaultSampleDuration)
	assert.Equal(t, uint32(0x02000000), p.tfhd.DefaultSampleFlags)
	assert.False(t, p.trun.CheckFlag(0x000004))
	assert.Equal(t, uint32(4), p.trun.SampleCount)
}

func TestFragmentFallbackDuration(t *testing.T) {
	track := streamctx.New().AudioTrack
	f := fmp4.NewAudioFragmenter(&track)
	f.SetFallbackDuration(23 * time.Millisecond)
	require.NoError(t, f.WriteSample(fragment.Sample{Time: 500 * time.Millisecond, Data: []byte{1, 2}}))
	frag, err := f.Flush()
	require.NoError(t, err)
	assert.Equal(t, 23*time.Millisecond, frag.Duration)
	p := parseFragment(t, frag.Bytes)
	assert.Equal(t, uint64(500), p.tfdt.BaseMediaDecodeTimeV1)
	assert.Equal(t, uint32(23), p.tfhd.DefaultSampleDuration)
}
