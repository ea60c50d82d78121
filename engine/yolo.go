package engine

import (
	"fmt"
	"image"
	"sort"

	iface "VisionCount/interface"

	"gocv.io/x/gocv"
)

// MaxDetections caps the boxes kept after NMS, as YOLOv8 does.
const MaxDetections = 300

// Letterbox describes how a source image was padded (bottom/right) to a
// square and resized to the network input.
type Letterbox struct {
	Scale  float32
	Width  int
	Height int
}

func NewLetterbox(width, height, inputSize int) Letterbox {
	side := max(width, height)
	return Letterbox{
		Scale:  float32(side) / float32(inputSize),
		Width:  width,
		Height: height,
	}
}

// DecodeYOLOv8 turns a raw [1, 4+nc, N] YOLOv8 output into detections in
// source-image pixels. Candidates below conf are dropped, then class-aware
// NMS with the iou threshold is applied.
func DecodeYOLOv8(output []float32, numClasses int, lb Letterbox, conf, iou float32) ([]iface.Detection, error) {
	rows := 4 + numClasses
	if numClasses <= 0 || len(output) == 0 || len(output)%rows != 0 {
		return nil, fmt.Errorf("unexpected output size %d for %d classes", len(output), numClasses)
	}
	anchors := len(output) / rows
	candidates := make([]iface.Detection, 0, 64)
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < numClasses; c++ {
			if s := output[(4+c)*anchors+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < conf {
			continue
		}
		cx := output[i]
		cy := output[anchors+i]
		w := output[2*anchors+i]
		h := output[3*anchors+i]
		x1 := clip((cx-w/2)*lb.Scale, float32(lb.Width))
		y1 := clip((cy-h/2)*lb.Scale, float32(lb.Height))
		x2 := clip((cx+w/2)*lb.Scale, float32(lb.Width))
		y2 := clip((cy+h/2)*lb.Scale, float32(lb.Height))
		candidates = append(candidates, iface.Detection{
			Class: best,
			Conf:  bestScore,
			Box:   iface.NewBox(x1, y1, x2, y2),
		})
	}
	return nms(candidates, iou), nil
}

func clip(v, hi float32) float32 {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// nms is class-aware: boxes only suppress boxes of the same class.
func nms(dets []iface.Detection, iouThreshold float32) []iface.Detection {
	byClass := make(map[int][]iface.Detection)
	for _, d := range dets {
		byClass[d.Class] = append(byClass[d.Class], d)
	}
	kept := make([]iface.Detection, 0, len(dets))
	for _, group := range byClass {
		rects := make([]image.Rectangle, len(group))
		scores := make([]float32, len(group))
		for i, d := range group {
			rects[i] = d.Box.Rect()
			scores[i] = d.Conf
		}
		for _, idx := range gocv.NMSBoxes(rects, scores, 0, iouThreshold) {
			kept = append(kept, group[idx])
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Conf != kept[j].Conf {
			return kept[i].Conf > kept[j].Conf
		}
		return kept[i].Class < kept[j].Class
	})
	if len(kept) > MaxDetections {
		kept = kept[:MaxDetections]
	}
	return kept
}

// CheckOutputShape verifies a raw output is [1, 4+numClasses, N].
func CheckOutputShape(shape []int, numClasses int) error {
	if len(shape) != 3 || shape[0] != 1 || shape[2] <= 0 {
		return fmt.Errorf("unexpected output shape %v, want [1 %d N]", shape, 4+numClasses)
	}
	if shape[1]-4 != numClasses {
		return fmt.Errorf("%w: model has %d classes but %d names were given", ErrClassMismatch, shape[1]-4, numClasses)
	}
	return nil
}
