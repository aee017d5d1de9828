package camerahealth

import (
	"image"
	"math"
)

// grayFrame is an 8-bit single-channel frame, the common representation
// every metric in this package operates on.
type grayFrame struct {
	w, h int
	pix  []float64 // row-major, values in [0,255]
}

func toGray(img image.Image) *grayFrame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	g := &grayFrame{w: w, h: h, pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, gg, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// ITU-R BT.601 luma, operating on the 16-bit-expanded channels
			// RGBA() returns.
			lum := 0.299*float64(r>>8) + 0.587*float64(gg>>8) + 0.114*float64(bb>>8)
			g.pix[y*w+x] = lum
		}
	}
	return g
}

func (g *grayFrame) at(x, y int) float64 {
	if x < 0 || x >= g.w || y < 0 || y >= g.h {
		return 0
	}
	return g.pix[y*g.w+x]
}

func mean(pix []float64) float64 {
	if len(pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range pix {
		sum += v
	}
	return sum / float64(len(pix))
}

func stddev(pix []float64, m float64) float64 {
	if len(pix) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range pix {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(pix)))
}

func fractionAbove(pix []float64, threshold float64) float64 {
	if len(pix) == 0 {
		return 0
	}
	count := 0
	for _, v := range pix {
		if v > threshold {
			count++
		}
	}
	return float64(count) / float64(len(pix))
}

func fractionBelow(pix []float64, threshold float64) float64 {
	if len(pix) == 0 {
		return 0
	}
	count := 0
	for _, v := range pix {
		if v < threshold {
			count++
		}
	}
	return float64(count) / float64(len(pix))
}

// laplacianVariance is the classic blur detector: variance of the
// discrete Laplacian of the grayscale image (§4.9 blur_score).
func laplacianVariance(g *grayFrame) float64 {
	if g.w < 3 || g.h < 3 {
		return 0
	}
	lap := make([]float64, 0, g.w*g.h)
	for y := 1; y < g.h-1; y++ {
		for x := 1; x < g.w-1; x++ {
			v := -4*g.at(x, y) + g.at(x-1, y) + g.at(x+1, y) + g.at(x, y-1) + g.at(x, y+1)
			lap = append(lap, v)
		}
	}
	m := mean(lap)
	return stddev(lap, m) * stddev(lap, m)
}

func meanAbsDiff(a, b *grayFrame) float64 {
	w, h := a.w, a.h
	if b.w < w {
		w = b.w
	}
	if b.h < h {
		h = b.h
	}
	if w == 0 || h == 0 {
		return 0
	}
	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum += math.Abs(a.at(x, y) - b.at(x, y))
		}
	}
	return sum / float64(w*h)
}

// movementScore approximates ORB-keypoint-and-Hamming-BFMatcher camera
// movement detection (§4.9). No example repo in the corpus vendors a
// feature-matching/CV library (gocv/opencv do not appear in any
// go.mod), so this substitutes a block-correlation heuristic: the
// frame is divided into a coarse grid, each cell's best-aligned offset
// within a small search window against the reference is found by
// minimizing mean absolute difference, and cells that align well within
// a small shift count as "matched keypoints". This is a deliberate
// stdlib-only approximation, documented in DESIGN.md.
func movementScore(ref, cur *grayFrame) (score float64, matches int) {
	const grid = 6
	const search = 6

	w, h := ref.w, ref.h
	if cur.w < w {
		w = cur.w
	}
	if cur.h < h {
		h = cur.h
	}
	if w < grid*4 || h < grid*4 {
		return 0, grid * grid
	}

	cellW, cellH := w/grid, h/grid
	var totalShift float64
	cells := 0

	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			x0, y0 := gx*cellW, gy*cellH
			bestDiff := math.MaxFloat64
			bestShift := 0.0
			for dy := -search; dy <= search; dy += 2 {
				for dx := -search; dx <= search; dx += 2 {
					diff := cellDiff(ref, cur, x0, y0, cellW, cellH, dx, dy)
					if diff < bestDiff {
						bestDiff = diff
						bestShift = math.Hypot(float64(dx), float64(dy))
					}
				}
			}
			totalShift += bestShift
			if bestShift <= 2 && bestDiff < 20*float64(cellW*cellH) {
				matches++
			}
			cells++
		}
	}
	if cells == 0 {
		return 0, 0
	}
	return totalShift / float64(cells), matches
}

func cellDiff(ref, cur *grayFrame, x0, y0, w, h, dx, dy int) float64 {
	var sum float64
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			sum += math.Abs(ref.at(x, y) - cur.at(x+dx, y+dy))
		}
	}
	return sum
}
