package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	iface "VisionCount/interface"

	"github.com/go-resty/resty/v2"
	"gocv.io/x/gocv"
)

const RemoteTimeOutSeconds = 30

// RemoteResult is one detection as returned by a remote detection service.
type RemoteResult struct {
	Class      int       `json:"class"`
	Confidence float32   `json:"confidence"`
	Box        []float32 `json:"box"`
}

type remoteError struct {
	Error string `json:"error"`
}

// RemoteDetector delegates inference to an HTTP detection service. The image
// is posted as PNG; boxes come back as x1,y1,x2,y2 in source pixels.
type RemoteDetector struct {
	Endpoint string
	Names    []string
	Conf     float32
	Iou      float32

	client *resty.Client
}

func (d *RemoteDetector) LoadModel(cfg iface.EngineConfig) error {
	names, err := namesFrom(cfg.Names)
	if err != nil {
		return err
	}
	if cfg.Endpoint == "" {
		return errors.New("remote backend needs an endpoint")
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if !strings.HasSuffix(endpoint, defaultRemotePath) {
		endpoint += defaultRemotePath
	}
	d.client = resty.New().
		SetTimeout(RemoteTimeOutSeconds * time.Second).
		SetHeader("Accept", "application/json")
	d.Endpoint = endpoint
	d.Names = names
	d.Conf = cfg.Conf
	d.Iou = cfg.Iou
	return nil
}

func (d *RemoteDetector) Detect(img gocv.Mat) ([]iface.Detection, error) {
	if d.client == nil {
		return nil, ErrModelNotLoaded
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	defer buf.Close()

	var results []RemoteResult
	var apiErr remoteError
	resp, err := d.client.R().
		SetHeader("Content-Type", "image/png").
		SetQueryParam("conf", fmt.Sprintf("%g", d.Conf)).
		SetQueryParam("iou", fmt.Sprintf("%g", d.Iou)).
		SetBody(buf.GetBytes()).
		SetResult(&results).
		SetError(&apiErr).
		Post(d.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("remote detect: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return nil, fmt.Errorf("remote detect: %s: %s", resp.Status(), apiErr.Error)
		}
		return nil, fmt.Errorf("remote detect: %s", resp.Status())
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("remote detect: unexpected status %s", resp.Status())
	}

	dets := make([]iface.Detection, 0, len(results))
	for i, r := range results {
		if len(r.Box) != 4 {
			return nil, fmt.Errorf("remote detect: result %d has %d box values", i, len(r.Box))
		}
		dets = append(dets, iface.Detection{
			Class: r.Class,
			Conf:  r.Confidence,
			Box:   iface.NewBox(r.Box[0], r.Box[1], r.Box[2], r.Box[3]),
		})
	}
	return dets, nil
}

func (d *RemoteDetector) Destroy() {
	d.client = nil
	d.Endpoint = ""
	d.Conf = 0
	d.Iou = 0
}

func (d *RemoteDetector) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{
		Names:    iface.NamesConf{IsFile: false, Data: d.Names},
		Conf:     d.Conf,
		Iou:      d.Iou,
		Endpoint: d.Endpoint,
	}
}
