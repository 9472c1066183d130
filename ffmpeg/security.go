package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// SanitizeArgs rejects shell metacharacters. exec never runs a shell, but
// configured arguments containing them are almost certainly a mistake.
func SanitizeArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

// ParseEncodeArgs turns the configured extra encoder options into arguments.
func ParseEncodeArgs(s string) ([]string, error) {
	args, err := SplitCommand(s)
	if err != nil {
		return nil, err
	}
	if err := SanitizeArgs(args); err != nil {
		return nil, fmt.Errorf("ENCODE_ARGS: %w", err)
	}
	return args, nil
}
