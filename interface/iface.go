package iface

import "gocv.io/x/gocv"

// Backend is one inference runtime able to run a pretrained detector.
// Detections are returned in source-image pixel coordinates.
type Backend interface {
	LoadModel(cfg EngineConfig) error
	Detect(image gocv.Mat) ([]Detection, error)
	Destroy()
	CheckConfig() EngineConfig
}
