package depth

import "rgbdapi/task"

// span is a half-open frame range. overlap counts the leading frames it
// shares with the previous span.
type span struct {
	start, end int
	overlap    int
}

func planWindows(n, size, overlap int) []span {
	if n <= 0 {
		return nil
	}
	if size <= 0 || size > n {
		size = n
	}
	overlap = max(min(overlap, size-1), 0)
	step := size - overlap

	var spans []span
	for start := 0; ; start += step {
		end := min(start+size, n)
		ov := 0
		if len(spans) > 0 {
			ov = spans[len(spans)-1].end - start
		}
		spans = append(spans, span{start: start, end: end, overlap: ov})
		if end == n {
			return spans
		}
	}
}

// scaleShift solves min ||s*x + b - y||² over paired samples.
func scaleShift(x, y []float32) (float32, float32) {
	var n, sx, sy, sxx, sxy float64
	for i := range x {
		xi, yi := float64(x[i]), float64(y[i])
		n++
		sx += xi
		sy += yi
		sxx += xi * xi
		sxy += xi * yi
	}
	if n == 0 {
		return 1, 0
	}
	den := n*sxx - sx*sx
	if den < 1e-12 {
		return 1, float32((sy - sx) / n)
	}
	s := (n*sxy - sx*sy) / den
	return float32(s), float32((sy - s*sx) / n)
}

// stitch aligns the window's depths to what is already in out, then writes
// them, blending linearly across the shared frames.
func stitch(out []task.DepthMap, w span, depths []task.DepthMap) {
	if w.overlap > 0 {
		var x, y []float32
		for k := 0; k < w.overlap; k++ {
			x = append(x, depths[k].Values...)
			y = append(y, out[w.start+k].Values...)
		}
		s, b := scaleShift(x, y)
		for _, d := range depths {
			for i, v := range d.Values {
				d.Values[i] = s*v + b
			}
		}
		for k := 0; k < w.overlap; k++ {
			a := float32(k+1) / float32(w.overlap+1)
			prev := out[w.start+k].Values
			for i, v := range depths[k].Values {
				depths[k].Values[i] = (1-a)*prev[i] + a*v
			}
		}
	}
	copy(out[w.start:w.end], depths)
}
