package task

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorPaths(t *testing.T) {
	d := NewDescriptor(filepath.Join("uploads", "holiday.clip.mp4"), "outputs")

	paths := []string{d.SourcePath(), d.DepthPath(), d.AudioPath(), d.RGBDPath()}
	assert.Equal(t, []string{
		filepath.Join("outputs", "holiday.clip_src.mp4"),
		filepath.Join("outputs", "holiday.clip_depth.mp4"),
		filepath.Join("outputs", "holiday.clip_audio.aac"),
		filepath.Join("outputs", "holiday.clip_rgbd.mp4"),
	}, paths)

	seen := map[string]bool{}
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
	}

	again := NewDescriptor(filepath.Join("uploads", "holiday.clip.mp4"), "outputs")
	again.Encoder = EncoderSmall
	again.MaxLen = 10
	assert.Equal(t, paths, []string{again.SourcePath(), again.DepthPath(), again.AudioPath(), again.RGBDPath()})
}

func TestDescriptorPathsDependOnStemOnly(t *testing.T) {
	a := NewDescriptor("/a/video.mov", "/out")
	b := NewDescriptor("/b/video.mkv", "/out")
	assert.Equal(t, a.RGBDPath(), b.RGBDPath())
	assert.Equal(t, "video", a.Stem())
}

func TestNewDescriptorDefaults(t *testing.T) {
	d := NewDescriptor("in.mp4", "out")
	assert.Equal(t, EncoderLarge, d.Encoder)
	assert.Equal(t, 518, d.InputSize)
	assert.Equal(t, 1280, d.MaxRes)
	assert.Equal(t, NoLimit, d.MaxLen)
	assert.Equal(t, NoLimit, d.TargetFPS)
	assert.False(t, d.FP32)
}

func TestParseEncoder(t *testing.T) {
	cases := map[string]Encoder{
		"vits":  EncoderSmall,
		"small": EncoderSmall,
		"VITB":  EncoderBase,
		"base":  EncoderBase,
		"vitl":  EncoderLarge,
		"large": EncoderLarge,
	}
	for in, want := range cases {
		got, err := ParseEncoder(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEncoder("vitg")
	assert.True(t, errors.Is(err, ErrInvalidEncoder))
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageComplete.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StageMergingRGBD.Terminal())
	assert.False(t, StageIdle.Terminal())
}
