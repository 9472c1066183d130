package depth

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"rgbdapi/task"
)

const patchSize = 14

// networkSize scales the shorter side to inputSize and rounds both sides up
// to the patch size. Very wide frames get a smaller inputSize so the token
// count stays bounded.
func networkSize(w, h, inputSize int) (int, int) {
	ratio := float64(max(w, h)) / float64(min(w, h))
	if ratio > 1.78 {
		inputSize = int(math.Round(float64(inputSize)*1.777/ratio/patchSize)) * patchSize
	}
	scale := float64(inputSize) / float64(min(w, h))
	return roundUpToPatch(float64(w) * scale), roundUpToPatch(float64(h) * scale)
}

func roundUpToPatch(v float64) int {
	n := int(math.Ceil(v/patchSize-1e-9)) * patchSize
	return max(n, patchSize)
}

// resizeForNetwork resamples f with a Lanczos filter to the network input size.
func resizeForNetwork(f task.Frame, inputSize int) task.Frame {
	w, h := networkSize(f.Width, f.Height, inputSize)
	if w == f.Width && h == f.Height {
		return f
	}
	return fromNRGBA(imaging.Resize(toNRGBA(f), w, h, imaging.Lanczos))
}

func toNRGBA(f task.Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

func fromNRGBA(img *image.NRGBA) task.Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			pix = append(pix, row[x], row[x+1], row[x+2])
		}
	}
	return task.Frame{Width: w, Height: h, Pix: pix}
}

// resizeDepth bilinearly resamples d to w x h using pixel-centre alignment.
func resizeDepth(d task.DepthMap, w, h int) task.DepthMap {
	if d.Width == w && d.Height == h {
		return d
	}
	out := make([]float32, w*h)
	sx := float64(d.Width) / float64(w)
	sy := float64(d.Height) / float64(h)
	for y := 0; y < h; y++ {
		fy := math.Max((float64(y)+0.5)*sy-0.5, 0)
		y0 := min(int(fy), d.Height-1)
		y1 := min(y0+1, d.Height-1)
		wy := float32(fy - float64(y0))
		for x := 0; x < w; x++ {
			fx := math.Max((float64(x)+0.5)*sx-0.5, 0)
			x0 := min(int(fx), d.Width-1)
			x1 := min(x0+1, d.Width-1)
			wx := float32(fx - float64(x0))

			top := d.Values[y0*d.Width+x0]*(1-wx) + d.Values[y0*d.Width+x1]*wx
			bot := d.Values[y1*d.Width+x0]*(1-wx) + d.Values[y1*d.Width+x1]*wx
			out[y*w+x] = top*(1-wy) + bot*wy
		}
	}
	return task.DepthMap{Width: w, Height: h, Values: out}
}
