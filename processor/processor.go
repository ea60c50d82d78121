// Package processor turns one decoded image into an annotated image plus a
// count of detected objects per class label.
package processor

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	iface "VisionCount/interface"

	"gocv.io/x/gocv"
)

const (
	BoxThickness  = 3
	TextThickness = 3
	FontScale     = 0.8
	// TextOffset is how far above the box's top-left corner the label sits.
	TextOffset = 10
	FontFace   = gocv.FontHersheySimplex
)

var (
	AnnotationColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	ErrEmptyImage   = errors.New("empty image")
	ErrUndecodable  = errors.New("decoded image is empty or unsupported format")
)

// Detector is the part of a loaded model the processor needs.
type Detector interface {
	Detect(img gocv.Mat) ([]iface.Detection, error)
	Label(class int) (string, error)
}

// Counts maps a class label to how many times it was detected in one image
// and remembers the order in which labels were first seen. The zero value is
// empty and ready to use.
type Counts struct {
	byLabel map[string]int
	order   []string
}

type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

func (c *Counts) Add(label string) {
	if c.byLabel == nil {
		c.byLabel = make(map[string]int)
	}
	if _, ok := c.byLabel[label]; !ok {
		c.order = append(c.order, label)
	}
	c.byLabel[label]++
}

func (c Counts) Get(label string) int {
	return c.byLabel[label]
}

// Len is the number of distinct labels.
func (c Counts) Len() int {
	return len(c.order)
}

func (c Counts) Total() int {
	total := 0
	for _, n := range c.byLabel {
		total += n
	}
	return total
}

// Map returns a copy keyed by label.
func (c Counts) Map() map[string]int {
	out := make(map[string]int, len(c.byLabel))
	for label, n := range c.byLabel {
		out[label] = n
	}
	return out
}

// List returns the counts in first-detected order.
func (c Counts) List() []LabelCount {
	out := make([]LabelCount, 0, len(c.order))
	for _, label := range c.order {
		out = append(out, LabelCount{Label: label, Count: c.byLabel[label]})
	}
	return out
}

type Processor struct {
	det Detector
}

func New(det Detector) *Processor {
	return &Processor{det: det}
}

// Annotate takes ownership of img, draws a box and label for every detection
// directly onto it, and returns it together with the per-label counts.
// Overlapping detections are counted and drawn as reported; nothing is merged.
func (p *Processor) Annotate(img gocv.Mat) (gocv.Mat, Counts, error) {
	if img.Empty() {
		return img, Counts{}, ErrEmptyImage
	}
	dets, err := p.det.Detect(img)
	if err != nil {
		return img, Counts{}, fmt.Errorf("inference: %w", err)
	}
	// 先解析全部标签，出错时不在图上留下半成品
	labels := make([]string, len(dets))
	for i, d := range dets {
		if labels[i], err = p.det.Label(d.Class); err != nil {
			return img, Counts{}, err
		}
	}
	var counts Counts
	for i, d := range dets {
		counts.Add(labels[i])
		rect := d.Box.Rect()
		gocv.Rectangle(&img, rect, AnnotationColor, BoxThickness)
		gocv.PutText(&img, labels[i], image.Pt(rect.Min.X, rect.Min.Y-TextOffset), FontFace, FontScale, AnnotationColor, TextThickness)
	}
	return img, counts, nil
}

// DecodeImage decodes uploaded JPEG or PNG bytes into a BGR image. The
// returned Mat must be closed even when err is set.
func DecodeImage(data []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if img.Empty() {
		// IMDecode 返回空 Mat 表示解码失败
		_ = img.Close()
		return gocv.NewMat(), ErrUndecodable
	}
	return img, nil
}
