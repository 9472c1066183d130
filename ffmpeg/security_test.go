package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	cmd := `python -m worker --name "depth worker" -x`
	expected := []string{"python", "-m", "worker", "--name", "depth worker", "-x"}

	args, err := SplitCommand(cmd)
	assert.NoError(t, err)
	assert.Equal(t, expected, args)

	_, err = SplitCommand(`unterminated "quote`)
	assert.Error(t, err)
}

func TestSanitizeArgs(t *testing.T) {
	t.Run("Valid args", func(t *testing.T) {
		args, _ := SplitCommand(`-crf 18 -preset slow -tune film`)
		assert.NoError(t, SanitizeArgs(args))
	})

	t.Run("Disallowed character (semicolon)", func(t *testing.T) {
		args, _ := SplitCommand(`-crf 18; rm -rf /`)
		err := SanitizeArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: 18;")
	})

	t.Run("Disallowed character (dollar)", func(t *testing.T) {
		args, _ := SplitCommand(`-vf "crop=$(($RANDOM))"`)
		err := SanitizeArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: crop=$(($RANDOM))")
	})
}

func TestParseEncodeArgs(t *testing.T) {
	args, err := ParseEncodeArgs("-crf 18")
	require.NoError(t, err)
	assert.Equal(t, []string{"-crf", "18"}, args)

	args, err = ParseEncodeArgs("")
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = ParseEncodeArgs("-crf 18 | tee")
	assert.ErrorContains(t, err, "ENCODE_ARGS")
}
