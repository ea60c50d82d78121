package engine

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	iface "VisionCount/interface"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
)

var ortInitMu sync.Mutex

func detArch(system, arch string) (string, error) {
	switch arch {
	case "amd64":
		return fmt.Sprintf("%s-%s", system, "x64"), nil
	case "386":
		return fmt.Sprintf("%s-%s", system, "x86"), nil
	case "arm64":
		return fmt.Sprintf("%s-%s", system, "arm64"), nil
	default:
		return "", fmt.Errorf("architecture %s not supported", arch)
	}
}

func getPlatform() (string, error) {
	system := runtime.GOOS
	switch system {
	case "windows", "linux", "darwin":
		return detArch(system, runtime.GOARCH)
	default:
		return "", fmt.Errorf("operating system %s not supported", system)
	}
}

// defaultOrtLibrary picks the onnxruntime shared library shipped next to the
// executable in third_party/.
func defaultOrtLibrary() (string, error) {
	platform, err := getPlatform()
	if err != nil {
		return "", err
	}
	var name string
	switch platform {
	case "windows-x64":
		name = "onnxruntime.dll"
	case "darwin-arm64":
		name = "onnxruntime_arm64.dylib"
	case "linux-arm64":
		name = "onnxruntime_arm64.so"
	case "linux-x64":
		name = "onnxruntime.so"
	default:
		return "", fmt.Errorf("no onnxruntime build for %s", platform)
	}
	dir := "third_party"
	if exePath, err := os.Executable(); err == nil {
		dir = filepath.Join(filepath.Dir(exePath), "third_party")
	}
	return filepath.Join(dir, name), nil
}

func initOrtEnvironment(libPath string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		p, err := defaultOrtLibrary()
		if err != nil {
			return err
		}
		libPath = p
	}
	if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("onnxruntime library: %w", err)
	}
	ort.SetSharedLibraryPath(libPath)
	return ort.InitializeEnvironment()
}

// OrtDetector runs YOLOv8 through onnxruntime with fixed input/output tensors.
type OrtDetector struct {
	ModelPath string
	Names     []string
	Conf      float32
	Iou       float32
	UseGPU    bool
	InputSize int
	LibPath   string

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (d *OrtDetector) LoadModel(cfg iface.EngineConfig) error {
	names, err := namesFrom(cfg.Names)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return err
	}
	if err := initOrtEnvironment(cfg.LibPath); err != nil {
		return err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", cfg.ModelPath, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return fmt.Errorf("expected 1 input and at least 1 output, got %d and %d", len(inputs), len(outputs))
	}
	outDims := outputs[0].Dimensions
	shape := make([]int, len(outDims))
	for i, v := range outDims {
		shape[i] = int(v)
	}
	if err := CheckOutputShape(shape, len(names)); err != nil {
		return err
	}

	size := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return err
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(outDims...))
	if err != nil {
		_ = input.Destroy()
		return err
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return err
	}
	defer options.Destroy()
	if cfg.UseGPU {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err == nil {
			err = options.AppendExecutionProviderCUDA(cudaOpts)
			_ = cudaOpts.Destroy()
		}
		if err != nil {
			_ = input.Destroy()
			_ = output.Destroy()
			return fmt.Errorf("enable CUDA: %w", err)
		}
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, options)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return err
	}
	d.session = session
	d.input = input
	d.output = output
	d.Names = names
	d.ModelPath = cfg.ModelPath
	d.Conf = cfg.Conf
	d.Iou = cfg.Iou
	d.UseGPU = cfg.UseGPU
	d.InputSize = cfg.InputSize
	d.LibPath = cfg.LibPath
	return nil
}

// fillInput letterboxes src into the CHW float tensor, RGB order, scaled to [0,1].
func fillInput(dst []float32, src image.Image, inputSize int) {
	b := src.Bounds()
	side := max(b.Dx(), b.Dy())
	square := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(square, square.Bounds(), &image.Uniform{C: color.RGBA{R: 114, G: 114, B: 114, A: 255}}, image.Point{}, draw.Src)
	draw.Draw(square, image.Rect(0, 0, b.Dx(), b.Dy()), src, b.Min, draw.Src)
	resized := resize.Resize(uint(inputSize), uint(inputSize), square, resize.Bilinear)

	stride := inputSize * inputSize
	idx := 0
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			r, g, bl, _ := resized.At(x, y).RGBA()
			dst[idx] = float32(r>>8) / 255.0
			dst[idx+stride] = float32(g>>8) / 255.0
			dst[idx+2*stride] = float32(bl>>8) / 255.0
			idx++
		}
	}
}

func (d *OrtDetector) Detect(img gocv.Mat) ([]iface.Detection, error) {
	if d.session == nil {
		return nil, ErrModelNotLoaded
	}
	if img.Empty() {
		return nil, errors.New("empty image")
	}
	src, err := img.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	fillInput(d.input.GetData(), src, d.InputSize)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("onnxruntime run: %w", err)
	}
	lb := NewLetterbox(img.Cols(), img.Rows(), d.InputSize)
	return DecodeYOLOv8(d.output.GetData(), len(d.Names), lb, d.Conf, d.Iou)
}

func (d *OrtDetector) Destroy() {
	if d.session != nil {
		_ = d.session.Destroy()
	}
	if d.input != nil {
		_ = d.input.Destroy()
	}
	if d.output != nil {
		_ = d.output.Destroy()
	}
	d.session, d.input, d.output = nil, nil, nil
	d.ModelPath = ""
	d.Conf = 0
	d.Iou = 0
	d.UseGPU = false
}

func (d *OrtDetector) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{
		UseGPU:    d.UseGPU,
		ModelPath: d.ModelPath,
		Names:     iface.NamesConf{IsFile: false, Data: d.Names},
		Conf:      d.Conf,
		Iou:       d.Iou,
		InputSize: d.InputSize,
		LibPath:   d.LibPath,
	}
}
