package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"VisionCount/artifact"
	"VisionCount/engine"
	"VisionCount/web"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Config struct {
	HTTPPort         int     `yaml:"HTTPPort"`
	RPCPort          int     `yaml:"RPCPort"`
	MonitorPort      int     `yaml:"MonitorPort"`
	InferenceBackend string  `yaml:"InferenceBackend"`
	ModelPath        string  `yaml:"ModelPath"`
	NamesPath        string  `yaml:"NamesPath"`
	OnnxRuntimeLib   string  `yaml:"OnnxRuntimeLib"`
	RemoteURL        string  `yaml:"RemoteURL"`
	UseGPU           bool    `yaml:"UseGPU"`
	Confidence       float32 `yaml:"Confidence"`
	Iou              float32 `yaml:"Iou"`
	InputSize        int     `yaml:"InputSize"`
	OutputPath       string  `yaml:"OutputPath"`
	LogLevel         string  `yaml:"LogLevel"`
	LogFile          string  `yaml:"LogFile"`

	// HTTP timeouts in seconds
	HTTPReadHeaderTimeout int `yaml:"HTTPReadHeaderTimeout"`
	HTTPReadTimeout       int `yaml:"HTTPReadTimeout"`
	HTTPWriteTimeout      int `yaml:"HTTPWriteTimeout"`
	HTTPIdleTimeout       int `yaml:"HTTPIdleTimeout"`
}

func Default() Config {
	return Config{
		HTTPPort:         8501,
		RPCPort:          50051,
		MonitorPort:      50053,
		InferenceBackend: engine.DefaultBackend,
		ModelPath:        engine.DefaultModelPath,
		Confidence:       engine.DefaultConf,
		Iou:              engine.DefaultIou,
		InputSize:        engine.DefaultInputSize,
		OutputPath:       artifact.DefaultOutputPath,
		LogLevel:         "info",

		HTTPReadHeaderTimeout: 10,
		HTTPReadTimeout:       60,
		HTTPWriteTimeout:      120,
		HTTPIdleTimeout:       120,
	}
}

// Load reads path over the defaults. A missing file is not an error. The
// returned warnings describe values that were replaced by their defaults.
func Load(path string) (Config, []string, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil, nil
		}
		return cfg, nil, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.normalize(), nil
}

func (c *Config) normalize() []string {
	def := Default()
	var warnings []string
	port := func(name string, v *int, d int) {
		if *v <= 0 || *v > 65535 {
			warnings = append(warnings, fmt.Sprintf("invalid %s %d, defaulting to %d", name, *v, d))
			*v = d
		}
	}
	port("HTTPPort", &c.HTTPPort, def.HTTPPort)
	port("RPCPort", &c.RPCPort, def.RPCPort)
	port("MonitorPort", &c.MonitorPort, def.MonitorPort)

	switch c.InferenceBackend {
	case engine.BackendOpenCV, engine.BackendOnnxRuntime, engine.BackendRemote:
	default:
		warnings = append(warnings, fmt.Sprintf("invalid InferenceBackend %q, defaulting to %s", c.InferenceBackend, def.InferenceBackend))
		c.InferenceBackend = def.InferenceBackend
	}
	if c.ModelPath == "" {
		c.ModelPath = def.ModelPath
	}
	if c.Confidence <= 0 || c.Confidence > 1 {
		warnings = append(warnings, fmt.Sprintf("Confidence must be in (0,1], got %g, defaulting to %g", c.Confidence, def.Confidence))
		c.Confidence = def.Confidence
	}
	if c.Iou <= 0 || c.Iou > 1 {
		warnings = append(warnings, fmt.Sprintf("Iou must be in (0,1], got %g, defaulting to %g", c.Iou, def.Iou))
		c.Iou = def.Iou
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		warnings = append(warnings, fmt.Sprintf("InputSize must be a positive multiple of 32, got %d, defaulting to %d", c.InputSize, def.InputSize))
		c.InputSize = def.InputSize
	}
	timeout := func(name string, v *int, d int) {
		if *v <= 0 {
			warnings = append(warnings, fmt.Sprintf("invalid %s %d, defaulting to %ds", name, *v, d))
			*v = d
		}
	}
	timeout("HTTPReadHeaderTimeout", &c.HTTPReadHeaderTimeout, def.HTTPReadHeaderTimeout)
	timeout("HTTPReadTimeout", &c.HTTPReadTimeout, def.HTTPReadTimeout)
	timeout("HTTPWriteTimeout", &c.HTTPWriteTimeout, def.HTTPWriteTimeout)
	timeout("HTTPIdleTimeout", &c.HTTPIdleTimeout, def.HTTPIdleTimeout)

	if c.OutputPath == "" {
		c.OutputPath = def.OutputPath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return warnings
}

func (c Config) Engine() engine.Config {
	return engine.Config{
		Backend:   c.InferenceBackend,
		ModelPath: c.ModelPath,
		NamesPath: c.NamesPath,
		LibPath:   c.OnnxRuntimeLib,
		RemoteURL: c.RemoteURL,
		Conf:      c.Confidence,
		Iou:       c.Iou,
		InputSize: c.InputSize,
		UseGPU:    c.UseGPU,
	}
}

func (c Config) HTTPTimeouts() web.Timeouts {
	return web.Timeouts{
		ReadHeader: time.Duration(c.HTTPReadHeaderTimeout) * time.Second,
		Read:       time.Duration(c.HTTPReadTimeout) * time.Second,
		Write:      time.Duration(c.HTTPWriteTimeout) * time.Second,
		Idle:       time.Duration(c.HTTPIdleTimeout) * time.Second,
	}
}
