package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"rgbdapi/config"
)

// ToolStatus is one line of the dependency report.
type ToolStatus struct {
	Name      string
	Command   string
	Path      string
	Available bool
	Detail    string
}

// HasEncoder reports whether the ffmpeg at bin was built with the named encoder.
func HasEncoder(ctx context.Context, bin, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "-hide_banner", "-encoders").Output()
	if err != nil {
		return false, fmt.Errorf("list encoders: %w", err)
	}
	return encoderListed(out, name), nil
}

func encoderListed(out []byte, name string) bool {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		// " V....D libx264   libx264 H.264 / AVC ..."
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

// minVersion is the oldest ffmpeg release that accepts -fps_mode.
var minVersion = [2]int{5, 1}

var versionPattern = regexp.MustCompile(`(?m)^ffmpeg version n?(\d+)\.(\d+)`)

// Version reads the release number from `ffmpeg -version`. Snapshot builds
// report no release number; ok is false for them.
func Version(ctx context.Context, bin string) (major, minor int, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "-hide_banner", "-version").Output()
	if err != nil {
		return 0, 0, false, fmt.Errorf("read ffmpeg version: %w", err)
	}
	major, minor, ok = parseVersion(out)
	return major, minor, ok, nil
}

func parseVersion(out []byte) (int, int, bool) {
	m := versionPattern.FindSubmatch(out)
	if m == nil {
		return 0, 0, false
	}
	major, _ := strconv.Atoi(string(m[1]))
	minor, _ := strconv.Atoi(string(m[2]))
	return major, minor, true
}

func versionSupported(major, minor int) bool {
	return major > minVersion[0] || (major == minVersion[0] && minor >= minVersion[1])
}

// checkVersion reports whether bin is recent enough. Unknown versions pass.
func checkVersion(ctx context.Context, bin string) ToolStatus {
	st := ToolStatus{Name: fmt.Sprintf("ffmpeg >= %d.%d", minVersion[0], minVersion[1]), Command: bin, Path: bin}
	major, minor, ok, err := Version(ctx, bin)
	switch {
	case err != nil:
		st.Detail = err.Error()
	case !ok:
		st.Available = true
		st.Detail = "snapshot build, version unknown"
	case versionSupported(major, minor):
		st.Available = true
		st.Detail = fmt.Sprintf("%d.%d", major, minor)
	default:
		st.Detail = fmt.Sprintf("found %d.%d, -fps_mode is missing", major, minor)
	}
	return st
}

// CheckTools resolves the media tools named in cfg.
func CheckTools(ctx context.Context, cfg *config.Config) []ToolStatus {
	var report []ToolStatus

	ffmpegStatus := lookup("ffmpeg", cfg.FFBin)
	report = append(report, ffmpegStatus)
	report = append(report, lookup("ffprobe", cfg.FFProbeBin))
	if ffmpegStatus.Available {
		report = append(report, checkVersion(ctx, ffmpegStatus.Path))
	}

	x264 := ToolStatus{Name: "libx264", Command: cfg.FFBin}
	if ffmpegStatus.Available {
		ok, err := HasEncoder(ctx, ffmpegStatus.Path, "libx264")
		switch {
		case err != nil:
			x264.Detail = err.Error()
		case ok:
			x264.Available = true
			x264.Path = ffmpegStatus.Path
		default:
			x264.Detail = "encoder not compiled into this ffmpeg build"
		}
	} else {
		x264.Detail = "ffmpeg unavailable"
	}
	return append(report, x264)
}

func lookup(name, command string) ToolStatus {
	st := ToolStatus{Name: name, Command: command}
	path, err := exec.LookPath(command)
	if err != nil {
		st.Detail = "not found in PATH"
		return st
	}
	st.Path = path
	st.Available = true
	return st
}
