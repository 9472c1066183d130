package ffmpeg

import (
	"math"

	"rgbdapi/task"
)

// NormalizeDepths maps depths onto [0,255] using the minimum and maximum of
// the whole sequence, so brightness is comparable across frames. A constant
// sequence maps to black. NaN and infinite values are left out of the range
// and map to 0. The result is packed RGB24 grey.
func NormalizeDepths(depths []task.DepthMap) []task.Frame {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, d := range depths {
		for _, v := range d.Values {
			f := float64(v)
			if !finite(f) {
				continue
			}
			lo = min(lo, f)
			hi = max(hi, f)
		}
	}
	span := hi - lo

	frames := make([]task.Frame, len(depths))
	for i, d := range depths {
		pix := make([]byte, len(d.Values)*3)
		for j, v := range d.Values {
			var g byte
			if f := float64(v); span > 0 && finite(f) {
				g = byte(math.Round((f - lo) / span * 255))
			}
			pix[j*3], pix[j*3+1], pix[j*3+2] = g, g, g
		}
		frames[i] = task.Frame{Width: d.Width, Height: d.Height, Pix: pix}
	}
	return frames
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
