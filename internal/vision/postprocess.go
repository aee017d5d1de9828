package vision

import (
	"math"
	"sort"

	"github.com/technosupport/intellioptics/internal/ioerrors"
)

// Box is a detection in original pixel coordinates.
type Box struct {
	Label      string
	Confidence float64
	X1, Y1, X2, Y2 float64
	ClassID    int
}

// Params bundles the detection params §3 DetectorConfig.detection_params
// plus the label table and per-class thresholds needed by Postprocess.
type Params struct {
	ConfThreshold     float64 // default 0.25
	IoUThreshold      float64 // default 0.45
	MaxDetections     int     // default 100
	ClassNames        []string
	PerClassThreshold map[string]float64
	// WithObjectness switches the xywh+C layout decode to
	// conf = obj_conf * cls_conf instead of conf = max(cls_scores),
	// for models whose output carries a distinct 5th objectness column
	// (see SPEC_FULL.md §4, Open Question resolution).
	WithObjectness bool
}

func (p Params) withDefaults() Params {
	if p.ConfThreshold == 0 {
		p.ConfThreshold = 0.25
	}
	if p.IoUThreshold == 0 {
		p.IoUThreshold = 0.45
	}
	if p.MaxDetections == 0 {
		p.MaxDetections = 100
	}
	return p
}

// Tensor is a raw model output: Shape is either (1,N,4+C), (1,4+C,N), or
// (1,N,6); Data is the flattened row-major float32 buffer.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Postprocess decodes a raw model output tensor into boxes in letterboxed
// coordinate space (callers reverse-letterbox afterward), applying
// confidence filtering, label mapping, class filtering, per-class
// thresholds, and NMS. Mirrors postprocess_yolo + nms in
// detector_inference.py.
func Postprocess(t Tensor, p Params) ([]Box, error) {
	p = p.withDefaults()

	rows, numClasses, plainBox, err := decodeLayout(t, p)
	if err != nil {
		return nil, err
	}

	var boxes []Box
	for _, r := range rows {
		var b Box
		if plainBox {
			b = Box{X1: r.x1, Y1: r.y1, X2: r.x2, Y2: r.y2, Confidence: r.conf, ClassID: r.cls}
		} else {
			cx, cy, w, h := r.x1, r.y1, r.x2, r.y2
			b = Box{
				X1:         cx - w/2,
				Y1:         cy - h/2,
				X2:         cx + w/2,
				Y2:         cy + h/2,
				Confidence: r.conf,
				ClassID:    r.cls,
			}
		}
		if b.Confidence < p.ConfThreshold {
			continue
		}
		b.Label = mapLabel(b.ClassID, p.ClassNames, numClasses)

		if len(p.ClassNames) > 0 && !containsLabel(p.ClassNames, b.Label) {
			continue
		}

		thresh := p.ConfThreshold
		if t, ok := p.PerClassThreshold[b.Label]; ok {
			thresh = t
		}
		if b.Confidence < thresh {
			continue
		}

		boxes = append(boxes, b)
	}

	boxes = NMS(boxes, p.IoUThreshold)

	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Confidence > boxes[j].Confidence })
	if len(boxes) > p.MaxDetections {
		boxes = boxes[:p.MaxDetections]
	}
	return boxes, nil
}

type decodedRow struct {
	x1, y1, x2, y2 float64
	conf           float64
	cls            int
}

// decodeLayout resolves the three accepted output shapes per spec.md
// §4.4. Returns plainBox=true for the (1,N,6) layout (boxes already in
// x1y1x2y2 form); false for the YOLO xywh+C layout.
func decodeLayout(t Tensor, p Params) (rows []decodedRow, numClasses int, plainBox bool, err error) {
	switch len(t.Shape) {
	case 3:
		n0, n1, n2 := t.Shape[0], t.Shape[1], t.Shape[2]
		if n0 != 1 {
			return nil, 0, false, ioerrors.New(ioerrors.EBadModelOutput, "vision.decodeLayout", "batch dimension must be 1", nil)
		}
		if n2 == 6 {
			// (1, N, 6): [x1,y1,x2,y2,conf,class_id]
			for i := 0; i < n1; i++ {
				base := i * 6
				rows = append(rows, decodedRow{
					x1:   float64(t.Data[base+0]),
					y1:   float64(t.Data[base+1]),
					x2:   float64(t.Data[base+2]),
					y2:   float64(t.Data[base+3]),
					conf: float64(t.Data[base+4]),
					cls:  int(t.Data[base+5]),
				})
			}
			return rows, 0, true, nil
		}

		if n1 >= 5 && n1 < n2 {
			// (1, 4+C, N): channels-first, needs conceptual transpose.
			// The smaller of the two dimensions is taken as the channel axis.
			numClasses = n1 - 4
			return decodeYOLOChannelsFirst(t.Data, n1, n2, numClasses, p), numClasses, false, nil
		}
		if n2 >= 5 {
			// (1, N, 4+C): row-major, channels last.
			numClasses = n2 - 4
			return decodeYOLORowsLast(t.Data, n1, numClasses, p), numClasses, false, nil
		}
		return nil, 0, false, ioerrors.New(ioerrors.EBadModelOutput, "vision.decodeLayout", "unrecognized tensor shape", nil)
	default:
		return nil, 0, false, ioerrors.New(ioerrors.EBadModelOutput, "vision.decodeLayout", "unsupported tensor rank", nil)
	}
}

func decodeYOLORowsLast(data []float32, n, numClasses int, p Params) []decodedRow {
	stride := 4 + numClasses
	rows := make([]decodedRow, 0, n)
	for i := 0; i < n; i++ {
		base := i * stride
		cx, cy, w, h := float64(data[base]), float64(data[base+1]), float64(data[base+2]), float64(data[base+3])
		conf, cls := bestClass(data[base+4:base+4+numClasses], p)
		rows = append(rows, decodedRow{x1: cx, y1: cy, x2: w, y2: h, conf: conf, cls: cls})
	}
	return rows
}

func decodeYOLOChannelsFirst(data []float32, channels, n, numClasses int, p Params) []decodedRow {
	rows := make([]decodedRow, 0, n)
	at := func(ch, idx int) float64 { return float64(data[ch*n+idx]) }
	for i := 0; i < n; i++ {
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		scores := make([]float32, numClasses)
		for c := 0; c < numClasses; c++ {
			scores[c] = data[(4+c)*n+i]
		}
		conf, cls := bestClass(scores, p)
		rows = append(rows, decodedRow{x1: cx, y1: cy, x2: w, y2: h, conf: conf, cls: cls})
	}
	return rows
}

// bestClass implements the xywh+C confidence convention: per spec.md
// §4.4, conf = max(cls_scores), cls = argmax(cls_scores). When
// p.WithObjectness is set, the first of the "class" scores is treated as
// an objectness gate and conf = objectness * max(remaining cls scores),
// matching the original Python's obj_conf * cls_conf variant.
func bestClass(scores []float32, p Params) (float64, int) {
	if p.WithObjectness && len(scores) > 1 {
		obj := float64(scores[0])
		best := 0
		bestScore := scores[1]
		for i := 2; i < len(scores); i++ {
			if scores[i] > bestScore {
				bestScore = scores[i]
				best = i - 1
			}
		}
		return obj * float64(bestScore), best
	}
	best := 0
	bestScore := scores[0]
	for i := 1; i < len(scores); i++ {
		if scores[i] > bestScore {
			bestScore = scores[i]
			best = i
		}
	}
	return float64(bestScore), best
}

func containsLabel(names []string, label string) bool {
	for _, n := range names {
		if n == label {
			return true
		}
	}
	return false
}

func mapLabel(classID int, classNames []string, numClasses int) string {
	if len(classNames) > 0 {
		if classID >= 0 && classID < len(classNames) {
			return classNames[classID]
		}
		return "unknown"
	}
	if classID >= 0 && classID < len(COCO80) {
		return COCO80[classID]
	}
	return "unknown"
}

// NMS performs per-class greedy non-max suppression: sort by confidence
// descending, keep the top box, drop any remaining box whose IoU with it
// is >= iouThreshold, repeat. Matches detector_inference.py's nms().
func NMS(boxes []Box, iouThreshold float64) []Box {
	byClass := map[int][]Box{}
	for _, b := range boxes {
		byClass[b.ClassID] = append(byClass[b.ClassID], b)
	}

	var out []Box
	for _, group := range byClass {
		sort.SliceStable(group, func(i, j int) bool { return group[i].Confidence > group[j].Confidence })
		removed := make([]bool, len(group))
		for i := range group {
			if removed[i] {
				continue
			}
			out = append(out, group[i])
			for j := i + 1; j < len(group); j++ {
				if !removed[j] && IoU(group[i], group[j]) >= iouThreshold {
					removed[j] = true
				}
			}
		}
	}
	return out
}

// IoU computes intersection-over-union between two boxes.
func IoU(a, b Box) float64 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)

	interW := math.Max(0, x2-x1)
	interH := math.Max(0, y2-y1)
	inter := interW * interH

	areaA := math.Max(0, a.X2-a.X1) * math.Max(0, a.Y2-a.Y1)
	areaB := math.Max(0, b.X2-b.X1) * math.Max(0, b.Y2-b.Y1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
