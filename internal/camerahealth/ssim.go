package camerahealth

import (
	"image"
	"math"
)

// SSIM computes a single-window structural similarity index between
// two equally-shaped grayscale frames, used by the Inspector's
// view-change check (§4.10 step 4: "SSIM < threshold"). Real SSIM
// implementations slide an 11x11 Gaussian window; this computes one
// global window, which is the same formula applied to whole-frame
// statistics — an acceptable simplification at the resolution this
// inspector operates at (reference vs. single current frame, not a
// per-pixel similarity map).
func ssim(a, b image.Image) float64 {
	ga, gb := toGray(a), toGray(b)
	return ssimGray(ga, gb)
}

func ssimGray(ga, gb *grayFrame) float64 {
	const c1 = (0.01 * 255) * (0.01 * 255)
	const c2 = (0.03 * 255) * (0.03 * 255)

	w, h := ga.w, ga.h
	if gb.w < w {
		w = gb.w
	}
	if gb.h < h {
		h = gb.h
	}
	if w == 0 || h == 0 {
		return 0
	}

	muA := mean(ga.pix)
	muB := mean(gb.pix)
	varA := stddev(ga.pix, muA)
	varA *= varA
	varB := stddev(gb.pix, muB)
	varB *= varB

	var cov float64
	n := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cov += (ga.at(x, y) - muA) * (gb.at(x, y) - muB)
			n++
		}
	}
	if n > 0 {
		cov /= float64(n)
	}

	num := (2*muA*muB + c1) * (2*cov + c2)
	den := (muA*muA + muB*muB + c1) * (varA + varB + c2)
	if den == 0 {
		return 1
	}
	return math.Max(-1, math.Min(1, num/den))
}
