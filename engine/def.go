package engine

import (
	"errors"
	"os"
	"strings"
)

const (
	BackendOpenCV      = "opencv"
	BackendOnnxRuntime = "onnxruntime"
	BackendRemote      = "remote"
)

const (
	DefaultModelPath  = "yolov8n.onnx"
	DefaultConf       = float32(0.25)
	DefaultIou        = float32(0.7)
	DefaultInputSize  = 640
	DefaultBackend    = BackendOpenCV
	defaultRemotePath = "/api/detect"
)

var (
	ErrUnknownBackend  = errors.New("unknown inference backend")
	ErrClassOutOfRange = errors.New("class index out of range")
	ErrModelNotLoaded  = errors.New("model not loaded")
	ErrClassMismatch   = errors.New("class count mismatch")
)

// COCONames are the 80 labels YOLOv8 is pretrained on, indexed by class.
var COCONames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}

// Config selects and parameterises the backend loaded at startup.
type Config struct {
	Backend   string
	ModelPath string
	// NamesPath overrides COCONames with one label per line.
	NamesPath string
	LibPath   string
	RemoteURL string
	Conf      float32
	Iou       float32
	InputSize int
	UseGPU    bool
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.ModelPath == "" {
		c.ModelPath = DefaultModelPath
	}
	if c.Conf <= 0 || c.Conf > 1 {
		c.Conf = DefaultConf
	}
	if c.Iou <= 0 || c.Iou > 1 {
		c.Iou = DefaultIou
	}
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	return c
}

func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// 支持 Windows CRLF，去掉尾部的 '\r'
	raw := strings.Split(string(b), "\n")
	var lines []string
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}
