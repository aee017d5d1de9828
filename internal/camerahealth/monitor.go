// Package camerahealth implements the per-frame image/tampering metrics
// of the Camera Health Monitor (C9) and the periodic full-camera cycle
// driven by the Camera Health Inspector (C10).
package camerahealth

import (
	"image"
	"math"
)

// Thresholds bundles the tunable cut points used by Assess (§4.9).
type Thresholds struct {
	BlurThreshold         float64
	BrightnessLow         float64
	BrightnessHigh        float64
	ContrastLow           float64
	ObstructionThreshold  float64
	MovementThreshold     float64
	FocusChangeThreshold  float64
	FrameDiffThreshold    float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		BlurThreshold:        100.0,
		BrightnessLow:        40.0,
		BrightnessHigh:       220.0,
		ContrastLow:          15.0,
		ObstructionThreshold: 0.6,
		MovementThreshold:    40.0,
		FocusChangeThreshold: 0.5,
		FrameDiffThreshold:   0.15,
	}
}

// Metrics is the full per-frame assessment (§4.9).
type Metrics struct {
	BlurScore       float64
	Brightness      float64
	Contrast        float64
	Blurry          bool
	TooDark         bool
	TooBright       bool
	LowContrast     bool
	Overexposed     bool
	Underexposed    bool

	HasReference    bool
	ObstructionRatio float64
	Obstructed      bool
	MovementScore   float64
	MatchCount      int
	CameraMoved     bool
	FocusChange     float64
	FocusChanged    bool
	FrameDiffScore  float64
	SignificantDiff bool

	Score  int
	Status string // healthy | warning | critical
}

// Monitor holds the optional reference frame used for tampering
// detection and is safe to reuse across frames from a single stream
// (§4.9 "Reference is set by reset_reference").
type Monitor struct {
	thresholds Thresholds
	reference  *grayFrame
}

func New(thresholds Thresholds) *Monitor {
	return &Monitor{thresholds: thresholds}
}

// ResetReference replaces (or clears, if frame is nil) the reference
// frame used for obstruction/movement/focus/diff metrics.
func (m *Monitor) ResetReference(frame image.Image) {
	if frame == nil {
		m.reference = nil
		return
	}
	m.reference = toGray(frame)
}

// Assess computes the full metric set for one frame. If no reference
// exists yet, this frame becomes the reference and no tampering is
// reported (§4.9).
func (m *Monitor) Assess(frame image.Image) Metrics {
	gray := toGray(frame)
	var met Metrics

	met.BlurScore = laplacianVariance(gray)
	met.Brightness = mean(gray.pix)
	met.Contrast = stddev(gray.pix, met.Brightness)

	t := m.thresholds
	met.Blurry = met.BlurScore < t.BlurThreshold
	met.TooDark = met.Brightness < t.BrightnessLow
	met.TooBright = met.Brightness > t.BrightnessHigh
	met.LowContrast = met.Contrast < t.ContrastLow
	met.Overexposed = fractionAbove(gray.pix, 250) > 0.1
	met.Underexposed = fractionBelow(gray.pix, 20) > 0.3

	if m.reference == nil {
		m.reference = gray
		met.HasReference = false
	} else {
		met.HasReference = true
		met.ObstructionRatio = fractionBelow(gray.pix, 30)
		met.Obstructed = met.ObstructionRatio > t.ObstructionThreshold

		met.MovementScore, met.MatchCount = movementScore(m.reference, gray)
		met.CameraMoved = met.MovementScore > t.MovementThreshold || met.MatchCount < 4

		refBlur := laplacianVariance(m.reference)
		if refBlur > 0 {
			met.FocusChange = math.Abs(met.BlurScore-refBlur) / refBlur
		}
		met.FocusChanged = met.FocusChange > t.FocusChangeThreshold

		met.FrameDiffScore = meanAbsDiff(gray, m.reference) / 255.0
		met.SignificantDiff = met.FrameDiffScore > t.FrameDiffThreshold
	}

	met.Score, met.Status = score(met)
	return met
}

// score applies the deduction table from §4.9.
func score(m Metrics) (int, string) {
	s := 100
	if m.Blurry {
		s -= 20
	}
	if m.TooDark || m.TooBright {
		s -= 10
	}
	if m.LowContrast {
		s -= 10
	}
	if m.Overexposed || m.Underexposed {
		s -= 15
	}
	if m.Obstructed {
		s -= 50
	}
	if m.CameraMoved {
		s -= 30
	}
	if m.FocusChanged {
		s -= 20
	}
	if m.SignificantDiff {
		s -= 15
	}
	if s < 0 {
		s = 0
	}

	status := "healthy"
	switch {
	case m.Obstructed || s < 50:
		status = "critical"
	case s < 80:
		status = "warning"
	}
	return s, status
}
