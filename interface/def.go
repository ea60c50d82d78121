package iface

import "image"

type NamesConf struct {
	IsFile bool
	Data   any
}

type EngineConfig struct {
	UseGPU    bool
	ModelPath string
	Names     NamesConf
	Conf      float32
	Iou       float32
	InputSize int
	// LibPath is the shared library for backends that load one at runtime.
	LibPath string
	// Endpoint is only used by remote backends.
	Endpoint string
}

type Position struct {
	X, Y float32
}

type Box struct {
	LT Position
	RT Position
	RB Position
	LB Position
}

// NewBox builds a box from its top-left and bottom-right corners.
func NewBox(x1, y1, x2, y2 float32) Box {
	return Box{
		LT: Position{X: x1, Y: y1},
		RT: Position{X: x2, Y: y1},
		RB: Position{X: x2, Y: y2},
		LB: Position{X: x1, Y: y2},
	}
}

// Rect returns the box in integer pixel coordinates.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.LT.X), int(b.LT.Y), int(b.RB.X), int(b.RB.Y))
}

type Detection struct {
	Class int
	Conf  float32
	Box   Box
}

// EngineInfo is the read-only view of the loaded model served to clients.
type EngineInfo struct {
	Backend   string  `json:"backend"`
	ModelPath string  `json:"modelPath,omitempty"`
	Endpoint  string  `json:"endpoint,omitempty"`
	Classes   int     `json:"classes"`
	Conf      float32 `json:"confidence"`
	Iou       float32 `json:"iou"`
	InputSize int     `json:"inputSize,omitempty"`
	UseGPU    bool    `json:"useGPU"`
}
