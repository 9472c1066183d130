package depth

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"rgbdapi/task"
)

// Variant describes one Video Depth Anything model size.
type Variant struct {
	ID          task.Encoder `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Features    int          `json:"-"`
	OutChannels []int        `json:"-"`
}

var variants = []Variant{
	{ID: task.EncoderSmall, Name: "ViT-Small", Description: "Fastest, lower quality", Features: 64, OutChannels: []int{48, 96, 192, 384}},
	{ID: task.EncoderBase, Name: "ViT-Base", Description: "Balanced speed/quality", Features: 128, OutChannels: []int{96, 192, 384, 768}},
	{ID: task.EncoderLarge, Name: "ViT-Large", Description: "Best quality, slower", Features: 256, OutChannels: []int{256, 512, 1024, 1024}},
}

// Variants lists the supported models, smallest first.
func Variants() []Variant {
	out := make([]Variant, len(variants))
	copy(out, variants)
	return out
}

func Lookup(enc task.Encoder) (Variant, error) {
	for _, v := range variants {
		if v.ID == enc {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("%w: %q", task.ErrInvalidEncoder, enc)
}

func CheckpointPath(dir string, enc task.Encoder) string {
	return filepath.Join(dir, fmt.Sprintf("video_depth_anything_%s.pth", enc))
}

// ResolveDevice turns the configured device into a concrete one. "auto"
// picks cuda when an NVIDIA driver is visible.
func ResolveDevice(setting string) string {
	setting = strings.ToLower(strings.TrimSpace(setting))
	if setting != "" && setting != "auto" {
		return setting
	}
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return "cuda"
	}
	return "cpu"
}
