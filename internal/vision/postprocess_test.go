package vision

import (
	"testing"
)

func TestIoU(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Box{X1: 5, Y1: 5, X2: 15, Y2: 15}
	got := IoU(a, b)
	want := 25.0 / 175.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("IoU = %v, want %v", got, want)
	}

	disjoint := Box{X1: 100, Y1: 100, X2: 110, Y2: 110}
	if IoU(a, disjoint) != 0 {
		t.Errorf("disjoint boxes should have IoU 0")
	}
}

func TestNMS_SuppressesOverlapWithinClass(t *testing.T) {
	boxes := []Box{
		{ClassID: 0, Confidence: 0.9, X1: 0, Y1: 0, X2: 10, Y2: 10},
		{ClassID: 0, Confidence: 0.8, X1: 1, Y1: 1, X2: 11, Y2: 11}, // heavy overlap, should be dropped
		{ClassID: 0, Confidence: 0.7, X1: 50, Y1: 50, X2: 60, Y2: 60}, // far away, should survive
	}
	out := NMS(boxes, 0.45)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving boxes, got %d", len(out))
	}
}

func TestNMS_DoesNotSuppressAcrossClasses(t *testing.T) {
	boxes := []Box{
		{ClassID: 0, Confidence: 0.9, X1: 0, Y1: 0, X2: 10, Y2: 10},
		{ClassID: 1, Confidence: 0.8, X1: 0, Y1: 0, X2: 10, Y2: 10}, // identical box, different class
	}
	out := NMS(boxes, 0.45)
	if len(out) != 2 {
		t.Fatalf("expected both boxes to survive (different classes), got %d", len(out))
	}
}

func TestPostprocess_PlainBoxLayout(t *testing.T) {
	tensor := Tensor{
		Shape: []int{1, 2, 6},
		Data: []float32{
			0, 0, 10, 10, 0.9, 0,
			20, 20, 30, 30, 0.1, 1, // below default conf threshold
		},
	}
	boxes, err := Postprocess(tensor, Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("expected 1 box above threshold, got %d", len(boxes))
	}
	if boxes[0].Label != COCO80[0] {
		t.Errorf("expected COCO80[0] label, got %q", boxes[0].Label)
	}
}

func TestPostprocess_YOLOChannelsLastLayout(t *testing.T) {
	// (1, N=1, 4+3 classes): cx,cy,w,h,class0,class1,class2
	tensor := Tensor{
		Shape: []int{1, 1, 7},
		Data:  []float32{5, 5, 4, 4, 0.2, 0.95, 0.1},
	}
	boxes, err := Postprocess(tensor, Params{ClassNames: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("expected 1 box, got %d", len(boxes))
	}
	if boxes[0].Label != "b" {
		t.Errorf("expected class 'b' (argmax), got %q", boxes[0].Label)
	}
	if boxes[0].X1 != 3 || boxes[0].Y1 != 3 || boxes[0].X2 != 7 || boxes[0].Y2 != 7 {
		t.Errorf("unexpected box coords from cx,cy,w,h conversion: %+v", boxes[0])
	}
}

func TestPostprocess_PerClassThresholdOverridesDefault(t *testing.T) {
	tensor := Tensor{
		Shape: []int{1, 1, 6},
		Data:  []float32{0, 0, 10, 10, 0.5, 1},
	}
	boxes, err := Postprocess(tensor, Params{
		ClassNames:        []string{"person", "car"},
		PerClassThreshold: map[string]float64{"car": 0.9},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(boxes) != 0 {
		t.Fatalf("expected box to be filtered by per-class threshold, got %d", len(boxes))
	}
}

func TestPostprocess_RejectsBadRank(t *testing.T) {
	_, err := Postprocess(Tensor{Shape: []int{4, 4}, Data: []float32{1, 2, 3, 4}}, Params{})
	if err == nil {
		t.Fatal("expected error for unsupported tensor rank")
	}
}
