package engine

import (
	"fmt"
	"sync"
	"time"

	iface "VisionCount/interface"
	"VisionCount/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Model is a pretrained detector plus its fixed class list. It is loaded once
// at startup and shared read-only by every request.
type Model struct {
	mu      sync.Mutex
	backend iface.Backend
	names   []string
	cfg     Config
}

func newBackend(name string) (iface.Backend, error) {
	switch name {
	case BackendOpenCV:
		return &OpenCVDetector{}, nil
	case BackendOnnxRuntime:
		return &OrtDetector{}, nil
	case BackendRemote:
		return &RemoteDetector{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// LoadEngine builds the configured backend and loads its weights. A failure
// here means the process cannot serve anything.
func LoadEngine(cfg Config) (*Model, error) {
	cfg = cfg.withDefaults()
	backend, err := newBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return NewModel(backend, cfg)
}

// NewModel loads cfg into an already constructed backend.
func NewModel(backend iface.Backend, cfg Config) (*Model, error) {
	cfg = cfg.withDefaults()
	names := COCONames
	if cfg.NamesPath != "" {
		lines, err := ReadLinesReadFile(cfg.NamesPath)
		if err != nil {
			return nil, fmt.Errorf("read names %s: %w", cfg.NamesPath, err)
		}
		if len(lines) == 0 {
			return nil, fmt.Errorf("names file %s is empty", cfg.NamesPath)
		}
		names = lines
	}
	names = append([]string(nil), names...)

	start := time.Now()
	err := backend.LoadModel(iface.EngineConfig{
		UseGPU:    cfg.UseGPU,
		ModelPath: cfg.ModelPath,
		Names:     iface.NamesConf{IsFile: false, Data: names},
		Conf:      cfg.Conf,
		Iou:       cfg.Iou,
		InputSize: cfg.InputSize,
		LibPath:   cfg.LibPath,
		Endpoint:  cfg.RemoteURL,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s model %s: %w", cfg.Backend, cfg.ModelPath, err)
	}
	logger.Log().Info("Model loaded",
		zap.String("backend", cfg.Backend),
		zap.String("modelPath", cfg.ModelPath),
		zap.Int("classes", len(names)),
		zap.Float32("confidence", cfg.Conf),
		zap.Float32("iou", cfg.Iou),
		zap.Duration("took", time.Since(start)))
	return &Model{backend: backend, names: names, cfg: cfg}, nil
}

// Names returns a copy of the class list.
func (m *Model) Names() []string {
	return append([]string(nil), m.names...)
}

func (m *Model) Label(class int) (string, error) {
	if class < 0 || class >= len(m.names) {
		return "", fmt.Errorf("%w: %d not in [0,%d)", ErrClassOutOfRange, class, len(m.names))
	}
	return m.names[class], nil
}

// Info reports what the backend actually loaded.
func (m *Model) Info() iface.EngineInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := iface.EngineInfo{Backend: m.cfg.Backend, Classes: len(m.names)}
	if m.backend == nil {
		return info
	}
	bc := m.backend.CheckConfig()
	info.ModelPath = bc.ModelPath
	info.Endpoint = bc.Endpoint
	info.Conf = bc.Conf
	info.Iou = bc.Iou
	info.InputSize = bc.InputSize
	info.UseGPU = bc.UseGPU
	return info
}

// Detect runs one inference. Native runtimes are not safe for concurrent
// use, so calls are serialised; the weights themselves are never touched.
func (m *Model) Detect(img gocv.Mat) ([]iface.Detection, error) {
	m.mu.Lock()
	if m.backend == nil {
		m.mu.Unlock()
		return nil, ErrModelNotLoaded
	}
	dets, err := m.backend.Detect(img)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, d := range dets {
		if d.Class < 0 || d.Class >= len(m.names) {
			return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrClassOutOfRange, d.Class, len(m.names))
		}
	}
	return dets, nil
}

func (m *Model) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != nil {
		m.backend.Destroy()
		m.backend = nil
	}
}
