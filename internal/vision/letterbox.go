// Package vision implements the Detection Engine (C4): letterbox
// preprocessing, YOLO/plain-box post-processing, greedy per-class NMS,
// and the built-in COCO-80 label table. Grounded on the exact formulas in
// detector_inference.py's preprocess/postprocess_yolo/nms functions.
package vision

import (
	"image"
	"image/color"
	"image/draw"
)

// Letterbox is the record of a resize-and-pad operation, needed to map
// detections in the padded square back to original pixel coordinates.
type Letterbox struct {
	Ratio   float64
	PadLeft float64
	PadTop  float64
	Target  int
	OrigW   int
	OrigH   int
}

// ApplyLetterbox resizes src preserving aspect ratio so its longest side
// fits target, then pads with constant value 114 on all sides to make it
// exactly target x target. Matches spec.md §4.4: ratio = min(S/H, S/W).
func ApplyLetterbox(src image.Image, target int) (*image.RGBA, Letterbox) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	ratio := float64(target) / float64(h)
	if rw := float64(target) / float64(w); rw < ratio {
		ratio = rw
	}

	newW := int(float64(w)*ratio + 0.5)
	newH := int(float64(h)*ratio + 0.5)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	resized := bilinearResize(src, newW, newH)

	padLeft := (target - newW) / 2
	padTop := (target - newH) / 2

	out := image.NewRGBA(image.Rect(0, 0, target, target))
	fill := color.RGBA{R: 114, G: 114, B: 114, A: 255}
	for y := 0; y < target; y++ {
		for x := 0; x < target; x++ {
			out.Set(x, y, fill)
		}
	}
	draw.Draw(out, image.Rect(padLeft, padTop, padLeft+newW, padTop+newH), resized, image.Point{}, draw.Src)

	return out, Letterbox{
		Ratio:   ratio,
		PadLeft: float64(padLeft),
		PadTop:  float64(padTop),
		Target:  target,
		OrigW:   w,
		OrigH:   h,
	}
}

// ToCHWFloat32 converts an RGBA image already sized target x target into
// a channel-first float32 tensor normalized to [0,1], the layout ONNX
// Runtime expects for a (1,3,H,W) input.
func ToCHWFloat32(img *image.RGBA) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, 3*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			idx := y*w + x
			out[idx] = float32(r>>8) / 255.0
			out[plane+idx] = float32(g>>8) / 255.0
			out[2*plane+idx] = float32(bl>>8) / 255.0
		}
	}
	return out
}

// imageNetMean and imageNetStd are the standard normalization constants
// for ImageNet-pretrained classifiers (§4.5: "normalized with ImageNet
// mean/std").
var imageNetMean = [3]float32{0.485, 0.456, 0.406}
var imageNetStd = [3]float32{0.229, 0.224, 0.225}

// ToCHWImageNet converts a letterboxed RGBA image to channel-first
// float32, scaled to [0,1] and normalized with ImageNet mean/std, as
// the OODD Gate's classifier input requires (§4.5).
func ToCHWImageNet(img *image.RGBA) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, 3*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			idx := y*w + x
			out[idx] = (float32(r>>8)/255.0 - imageNetMean[0]) / imageNetStd[0]
			out[plane+idx] = (float32(g>>8)/255.0 - imageNetMean[1]) / imageNetStd[1]
			out[2*plane+idx] = (float32(bl>>8)/255.0 - imageNetMean[2]) / imageNetStd[2]
		}
	}
	return out
}

// ReverseBox maps a box in letterboxed coordinates back to the original
// image, clipping to [0, origW] x [0, origH].
func (lb Letterbox) ReverseBox(x1, y1, x2, y2 float64) (float64, float64, float64, float64) {
	x1 = (x1 - lb.PadLeft) / lb.Ratio
	y1 = (y1 - lb.PadTop) / lb.Ratio
	x2 = (x2 - lb.PadLeft) / lb.Ratio
	y2 = (y2 - lb.PadTop) / lb.Ratio

	x1 = clip(x1, 0, float64(lb.OrigW))
	x2 = clip(x2, 0, float64(lb.OrigW))
	y1 = clip(y1, 0, float64(lb.OrigH))
	y2 = clip(y2, 0, float64(lb.OrigH))
	return x1, y1, x2, y2
}

// bilinearResize is a minimal bilinear interpolator. No example repo in
// the corpus depends on an image-resampling library, so this stays on
// the standard library by necessity (documented in DESIGN.md).
func bilinearResize(src image.Image, newW, newH int) *image.RGBA {
	b := src.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, newW, newH))

	if newW <= 1 || newH <= 1 || srcW <= 1 || srcH <= 1 {
		for y := 0; y < newH; y++ {
			for x := 0; x < newW; x++ {
				sx := x * srcW / newW
				sy := y * srcH / newH
				out.Set(x, y, src.At(b.Min.X+sx, b.Min.Y+sy))
			}
		}
		return out
	}

	xRatio := float64(srcW-1) / float64(newW)
	yRatio := float64(srcH-1) / float64(newH)

	for y := 0; y < newH; y++ {
		sy := float64(y) * yRatio
		y0 := int(sy)
		y1 := y0 + 1
		if y1 >= srcH {
			y1 = srcH - 1
		}
		dy := sy - float64(y0)

		for x := 0; x < newW; x++ {
			sx := float64(x) * xRatio
			x0 := int(sx)
			x1 := x0 + 1
			if x1 >= srcW {
				x1 = srcW - 1
			}
			dx := sx - float64(x0)

			c00 := src.At(b.Min.X+x0, b.Min.Y+y0)
			c10 := src.At(b.Min.X+x1, b.Min.Y+y0)
			c01 := src.At(b.Min.X+x0, b.Min.Y+y1)
			c11 := src.At(b.Min.X+x1, b.Min.Y+y1)

			out.Set(x, y, bilerp(c00, c10, c01, c11, dx, dy))
		}
	}
	return out
}

func bilerp(c00, c10, c01, c11 color.Color, dx, dy float64) color.RGBA {
	r00, g00, b00, a00 := c00.RGBA()
	r10, g10, b10, a10 := c10.RGBA()
	r01, g01, b01, a01 := c01.RGBA()
	r11, g11, b11, a11 := c11.RGBA()

	lerp := func(v00, v10, v01, v11 uint32) uint8 {
		top := float64(v00)*(1-dx) + float64(v10)*dx
		bot := float64(v01)*(1-dx) + float64(v11)*dx
		return uint8((top*(1-dy) + bot*dy) / 257) // 16-bit -> 8-bit
	}

	return color.RGBA{
		R: lerp(r00, r10, r01, r11),
		G: lerp(g00, g10, g01, g11),
		B: lerp(b00, b10, b01, b11),
		A: lerp(a00, a10, a01, a11),
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
