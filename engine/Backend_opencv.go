package engine

import (
	"errors"
	"fmt"
	"image"
	"os"

	iface "VisionCount/interface"

	"gocv.io/x/gocv"
)

// OpenCVDetector runs an ONNX export of YOLOv8 through the OpenCV DNN module.
type OpenCVDetector struct {
	ModelPath string
	Names     []string
	Conf      float32
	Iou       float32
	UseGPU    bool
	InputSize int
	net       *gocv.Net
}

func namesFrom(conf iface.NamesConf) ([]string, error) {
	if conf.IsFile {
		path, ok := conf.Data.(string)
		if !ok {
			return nil, fmt.Errorf("names file must be a path, got %T", conf.Data)
		}
		return ReadLinesReadFile(path)
	}
	names, ok := conf.Data.([]string)
	if !ok {
		return nil, fmt.Errorf("names must be a []string or a file path, got %T", conf.Data)
	}
	return names, nil
}

func (d *OpenCVDetector) LoadModel(cfg iface.EngineConfig) error {
	names, err := namesFrom(cfg.Names)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return err
	}
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return fmt.Errorf("opencv could not read %s", cfg.ModelPath)
	}
	if cfg.UseGPU {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}
	d.net = &net
	d.InputSize = cfg.InputSize
	if err := d.warmUp(len(names), cfg.UseGPU); err != nil {
		_ = net.Close()
		d.net = nil
		return fmt.Errorf("check %s: %w", cfg.ModelPath, err)
	}
	d.Names = names
	d.ModelPath = cfg.ModelPath
	d.Conf = cfg.Conf
	d.Iou = cfg.Iou
	d.UseGPU = cfg.UseGPU
	return nil
}

// warmUp runs a blank frame through the net and checks the output layout
// against the names list. CUDA gets a few extra passes to build its kernels.
func (d *OpenCVDetector) warmUp(numClasses int, useGPU bool) error {
	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), d.InputSize, d.InputSize, gocv.MatTypeCV8UC3)
	defer blank.Close()
	runs := 1
	if useGPU {
		runs = 3
	}
	for i := 0; i < runs; i++ {
		out, err := d.forward(blank)
		if err != nil {
			return err
		}
		shape := out.Size()
		_ = out.Close()
		if err := CheckOutputShape(shape, numClasses); err != nil {
			return err
		}
	}
	return nil
}

// forward runs one square image through the net. The caller closes the result.
func (d *OpenCVDetector) forward(square gocv.Mat) (gocv.Mat, error) {
	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(d.InputSize, d.InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	if out.Empty() {
		_ = out.Close()
		return out, errors.New("opencv forward returned no output")
	}
	return out, nil
}

func (d *OpenCVDetector) Detect(img gocv.Mat) ([]iface.Detection, error) {
	if d.net == nil {
		return nil, ErrModelNotLoaded
	}
	if img.Empty() {
		return nil, errors.New("empty image")
	}
	width, height := img.Cols(), img.Rows()
	lb := NewLetterbox(width, height, d.InputSize)

	// pad to a square so one scale factor maps boxes back
	side := max(width, height)
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), side, side, img.Type())
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, width, height))
	img.CopyTo(&roi)
	roi.Close()

	out, err := d.forward(square)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return DecodeYOLOv8(data, len(d.Names), lb, d.Conf, d.Iou)
}

func (d *OpenCVDetector) Destroy() {
	if d.net != nil {
		_ = d.net.Close()
	}
	d.net = nil
	d.ModelPath = ""
	d.Conf = 0
	d.Iou = 0
	d.UseGPU = false
}

func (d *OpenCVDetector) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{
		UseGPU:    d.UseGPU,
		ModelPath: d.ModelPath,
		Names:     iface.NamesConf{IsFile: false, Data: d.Names},
		Conf:      d.Conf,
		Iou:       d.Iou,
		InputSize: d.InputSize,
	}
}
