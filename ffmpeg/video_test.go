package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaledSize(t *testing.T) {
	cases := []struct {
		name         string
		w, h, maxRes int
		wantW, wantH int
	}{
		{"within limit", 1280, 720, 1280, 1280, 720},
		{"landscape", 1920, 1080, 1280, 1280, 720},
		{"portrait", 1080, 1920, 1280, 720, 1280},
		{"rounds", 1001, 500, 500, 500, 250},
		{"no limit", 4096, 2160, -1, 4096, 2160},
		{"never zero", 4000, 1, 100, 100, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := scaledSize(tc.w, tc.h, tc.maxRes)
			assert.Equal(t, tc.wantW, w)
			assert.Equal(t, tc.wantH, h)
		})
	}
}

func TestFrameStride(t *testing.T) {
	assert.Equal(t, 1, frameStride(30, -1))
	assert.Equal(t, 1, frameStride(30, 30))
	assert.Equal(t, 2, frameStride(30, 15))
	assert.Equal(t, 2, frameStride(29.97, 15))
	assert.Equal(t, 1, frameStride(24, 60))
	assert.Equal(t, 5, frameStride(60, 12))
}

func TestPlanDecode(t *testing.T) {
	t.Run("caps applied", func(t *testing.T) {
		p := planDecode(1920, 1080, 30, 100, 15, 960)
		assert.Equal(t, 960, p.width)
		assert.Equal(t, 540, p.height)
		assert.Equal(t, 2, p.stride)
		assert.Equal(t, 15.0, p.fps)

		args := p.args("in.mp4")
		assert.Contains(t, args, `select=not(mod(n\,2)),scale=960:540:flags=area`)
		assert.Subset(t, args, []string{"-frames:v", "100"})
		assert.Equal(t, "pipe:1", args[len(args)-1])
	})

	t.Run("no caps keeps the source rate", func(t *testing.T) {
		p := planDecode(640, 480, 25, -1, -1, 1280)
		assert.Equal(t, 25.0, p.fps)
		assert.Equal(t, 1, p.stride)

		args := p.args("in.mp4")
		assert.NotContains(t, args, "-frames:v")
		assert.Contains(t, args, "scale=640:480:flags=area")
	})
}

func TestEncodeArgs(t *testing.T) {
	args := encodeArgs(5, 3, 29.97, "out.mp4", []string{"-crf", "18"})
	assert.Subset(t, args, []string{"-s", "5x3", "-r", "29.97", "-i", "pipe:0", "-crf", "18"})
	assert.Contains(t, args, "pad=ceil(iw/2)*2:ceil(ih/2)*2")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestFrameCollector(t *testing.T) {
	c := &frameCollector{width: 2, height: 1}
	// Writes that straddle frame boundaries.
	for _, chunk := range [][]byte{{1, 2, 3, 4}, {5, 6, 7}, {8, 9, 10, 11, 12, 13}} {
		n, err := c.Write(chunk)
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	require.Len(t, c.frames, 2)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, c.frames[0].Pix)
	assert.Equal(t, []byte{7, 8, 9, 10, 11, 12}, c.frames[1].Pix)
	assert.Equal(t, []byte{13}, c.cur, "partial trailing frame is not emitted")
}
