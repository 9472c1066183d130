package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeArgs(t *testing.T) {
	t.Run("with audio", func(t *testing.T) {
		args := mergeArgs("src.mp4", "depth.mp4", "rgbd.mp4", "audio.aac", []string{"-crf", "18"})
		assert.Equal(t, []string{
			"-y", "-i", "src.mp4", "-i", "depth.mp4", "-i", "audio.aac",
			"-filter_complex", "[0:v][1:v]hstack=inputs=2[v]",
			"-map", "[v]", "-c:v", "libx264", "-crf", "18",
			"-map", "2:a", "-c:a", "aac", "-shortest",
			"rgbd.mp4",
		}, args)
	})

	t.Run("without audio", func(t *testing.T) {
		args := mergeArgs("src.mp4", "depth.mp4", "rgbd.mp4", "", []string{"-crf", "18"})
		assert.Equal(t, []string{
			"-y", "-i", "src.mp4", "-i", "depth.mp4",
			"-filter_complex", "[0:v][1:v]hstack=inputs=2[v]",
			"-map", "[v]", "-c:v", "libx264", "-crf", "18",
			"-an",
			"rgbd.mp4",
		}, args)
	})
}
