package engine

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	iface "VisionCount/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type candidate struct {
	cx, cy, w, h float32
	class        int
	score        float32
}

// yoloOutput lays candidates out the way YOLOv8 does: [4+nc, N], row major.
func yoloOutput(numClasses int, cands ...candidate) []float32 {
	n := len(cands)
	out := make([]float32, (4+numClasses)*n)
	for i, c := range cands {
		out[i] = c.cx
		out[n+i] = c.cy
		out[2*n+i] = c.w
		out[3*n+i] = c.h
		out[(4+c.class)*n+i] = c.score
	}
	return out
}

func TestDecodeYOLOv8(t *testing.T) {
	lb := NewLetterbox(640, 640, 640)

	t.Run("threshold", func(t *testing.T) {
		out := yoloOutput(3,
			candidate{100, 100, 40, 40, 0, 0.9},
			candidate{300, 300, 40, 40, 1, 0.1},
		)
		dets, err := DecodeYOLOv8(out, 3, lb, 0.25, 0.7)
		require.NoError(t, err)
		require.Len(t, dets, 1)
		assert.Equal(t, 0, dets[0].Class)
		assert.InDelta(t, 0.9, dets[0].Conf, 1e-6)
		assert.Equal(t, iface.NewBox(80, 80, 120, 120), dets[0].Box)
	})

	t.Run("nms is per class", func(t *testing.T) {
		out := yoloOutput(3,
			candidate{100, 100, 40, 40, 0, 0.6},
			candidate{101, 101, 40, 40, 0, 0.9},
			candidate{100, 100, 40, 40, 2, 0.5},
		)
		dets, err := DecodeYOLOv8(out, 3, lb, 0.25, 0.7)
		require.NoError(t, err)
		require.Len(t, dets, 2)
		assert.Equal(t, 0, dets[0].Class)
		assert.InDelta(t, 0.9, dets[0].Conf, 1e-6)
		assert.Equal(t, 2, dets[1].Class)
	})

	t.Run("disjoint boxes of one class are all kept", func(t *testing.T) {
		out := yoloOutput(1,
			candidate{50, 50, 20, 20, 0, 0.8},
			candidate{200, 50, 20, 20, 0, 0.7},
			candidate{400, 50, 20, 20, 0, 0.6},
		)
		dets, err := DecodeYOLOv8(out, 1, lb, 0.25, 0.7)
		require.NoError(t, err)
		assert.Len(t, dets, 3)
	})

	t.Run("scales back to source pixels", func(t *testing.T) {
		wide := NewLetterbox(1280, 720, 640)
		assert.Equal(t, float32(2), wide.Scale)
		out := yoloOutput(1, candidate{100, 100, 50, 50, 0, 0.9})
		dets, err := DecodeYOLOv8(out, 1, wide, 0.25, 0.7)
		require.NoError(t, err)
		require.Len(t, dets, 1)
		assert.Equal(t, iface.NewBox(150, 150, 250, 250), dets[0].Box)
	})

	t.Run("clips to the image", func(t *testing.T) {
		small := NewLetterbox(320, 160, 640)
		out := yoloOutput(1, candidate{630, 10, 40, 40, 0, 0.9})
		dets, err := DecodeYOLOv8(out, 1, small, 0.25, 0.7)
		require.NoError(t, err)
		require.Len(t, dets, 1)
		box := dets[0].Box
		assert.Equal(t, float32(0), box.LT.Y)
		assert.Equal(t, float32(320), box.RB.X)
		assert.LessOrEqual(t, box.RB.Y, float32(160))
	})

	t.Run("bad size", func(t *testing.T) {
		_, err := DecodeYOLOv8(make([]float32, 10), 3, lb, 0.25, 0.7)
		assert.Error(t, err)
		_, err = DecodeYOLOv8(nil, 80, lb, 0.25, 0.7)
		assert.Error(t, err)
	})
}

func TestNMSCapsDetections(t *testing.T) {
	dets := make([]iface.Detection, 0, MaxDetections+20)
	for i := 0; i < MaxDetections+20; i++ {
		x := float32(i * 10)
		dets = append(dets, iface.Detection{Class: 0, Conf: 0.5, Box: iface.NewBox(x, 0, x+5, 5)})
	}
	assert.Len(t, nms(dets, 0.7), MaxDetections)
}

func TestNMSMatchesYOLOv8(t *testing.T) {
	dets := []iface.Detection{
		{Class: 0, Conf: 0.5, Box: iface.NewBox(0, 0, 100, 100)},
		{Class: 0, Conf: 0.9, Box: iface.NewBox(5, 5, 105, 105)},
		{Class: 0, Conf: 0.7, Box: iface.NewBox(300, 300, 400, 400)},
		{Class: 1, Conf: 0.8, Box: iface.NewBox(0, 0, 100, 100)},
		// IoU 0.33 with the 0.9 box: kept under 0.7
		{Class: 0, Conf: 0.6, Box: iface.NewBox(55, 5, 155, 105)},
	}
	kept := nms(dets, 0.7)
	require.Len(t, kept, 4)
	confs := make([]float32, len(kept))
	for i, d := range kept {
		confs[i] = d.Conf
	}
	assert.Equal(t, []float32{0.9, 0.8, 0.7, 0.6}, confs)
	assert.Equal(t, 1, kept[1].Class)

	assert.Empty(t, nms(nil, 0.7))
}

func TestCheckOutputShape(t *testing.T) {
	assert.NoError(t, CheckOutputShape([]int{1, 84, 8400}, 80))
	assert.NoError(t, CheckOutputShape([]int{1, 7, 2100}, 3))

	// 92 names against an 80 class export: 705600 values divide by 96 too
	err := CheckOutputShape([]int{1, 84, 8400}, 92)
	assert.ErrorIs(t, err, ErrClassMismatch)
	_, decodeErr := DecodeYOLOv8(make([]float32, 84*8400), 92, NewLetterbox(640, 640, 640), 0.25, 0.7)
	assert.NoError(t, decodeErr, "size alone cannot catch the mismatch")

	assert.Error(t, CheckOutputShape([]int{84, 8400}, 80))
	assert.Error(t, CheckOutputShape([]int{2, 84, 8400}, 80))
	assert.Error(t, CheckOutputShape([]int{1, 84, 0}, 80))
}

func TestBox(t *testing.T) {
	b := iface.NewBox(10.7, 20.2, 50, 80)
	assert.Equal(t, iface.Position{X: 50, Y: 20.2}, b.RT)
	assert.Equal(t, iface.Position{X: 10.7, Y: 80}, b.LB)
	assert.Equal(t, image.Rect(10, 20, 50, 80), b.Rect())
}

func TestReadLinesReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, os.WriteFile(path, []byte("cat\r\ndog\r\n\r\nbird\n"), 0o644))
	lines, err := ReadLinesReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog", "bird"}, lines)

	_, err = ReadLinesReadFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestDetArch(t *testing.T) {
	p, err := detArch("linux", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "linux-x64", p)
	p, err = detArch("darwin", "arm64")
	require.NoError(t, err)
	assert.Equal(t, "darwin-arm64", p)
	_, err = detArch("linux", "riscv64")
	assert.Error(t, err)
}

func TestFillInput(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			src.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	const size = 16
	dst := make([]float32, 3*size*size)
	fillInput(dst, src, size)

	stride := size * size
	assert.InDelta(t, 1.0, dst[0], 0.02)
	assert.InDelta(t, 0.0, dst[stride], 0.02)
	last := size*size - 1
	assert.InDelta(t, 114.0/255.0, dst[last], 0.02)
	assert.InDelta(t, 114.0/255.0, dst[2*stride+last], 0.02)
}

type MockBackend struct {
	cfg       iface.EngineConfig
	dets      []iface.Detection
	loadErr   error
	destroyed bool
}

func (m *MockBackend) LoadModel(cfg iface.EngineConfig) error {
	m.cfg = cfg
	return m.loadErr
}

func (m *MockBackend) Detect(img gocv.Mat) ([]iface.Detection, error) {
	return m.dets, nil
}

func (m *MockBackend) Destroy() { m.destroyed = true }

func (m *MockBackend) CheckConfig() iface.EngineConfig { return m.cfg }

func TestNewModelDefaults(t *testing.T) {
	backend := &MockBackend{}
	m, err := NewModel(backend, Config{})
	require.NoError(t, err)

	assert.Equal(t, COCONames, m.Names())
	assert.Equal(t, DefaultModelPath, backend.cfg.ModelPath)
	assert.Equal(t, DefaultConf, backend.cfg.Conf)
	assert.Equal(t, DefaultIou, backend.cfg.Iou)
	assert.Equal(t, DefaultInputSize, backend.cfg.InputSize)
	assert.Equal(t, iface.EngineInfo{
		Backend:   BackendOpenCV,
		ModelPath: DefaultModelPath,
		Classes:   len(COCONames),
		Conf:      DefaultConf,
		Iou:       DefaultIou,
		InputSize: DefaultInputSize,
	}, m.Info())

	label, err := m.Label(2)
	require.NoError(t, err)
	assert.Equal(t, "car", label)
	_, err = m.Label(80)
	assert.ErrorIs(t, err, ErrClassOutOfRange)
	_, err = m.Label(-1)
	assert.ErrorIs(t, err, ErrClassOutOfRange)

	names := m.Names()
	names[0] = "changed"
	assert.Equal(t, "person", m.Names()[0])
}

func TestNewModelNamesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "names.txt")
	require.NoError(t, os.WriteFile(path, []byte("apple\nbanana\n"), 0o644))

	m, err := NewModel(&MockBackend{}, Config{NamesPath: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "banana"}, m.Names())

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = NewModel(&MockBackend{}, Config{NamesPath: empty})
	assert.Error(t, err)

	_, err = NewModel(&MockBackend{}, Config{NamesPath: filepath.Join(dir, "nope.txt")})
	assert.Error(t, err)
}

func TestNewModelLoadFailure(t *testing.T) {
	boom := errors.New("corrupt weights")
	_, err := NewModel(&MockBackend{loadErr: boom}, Config{})
	assert.ErrorIs(t, err, boom)
}

func TestModelDetect(t *testing.T) {
	img := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer img.Close()

	backend := &MockBackend{dets: []iface.Detection{
		{Class: 0, Conf: 0.9, Box: iface.NewBox(1, 1, 10, 10)},
		{Class: 79, Conf: 0.8, Box: iface.NewBox(2, 2, 12, 12)},
	}}
	m, err := NewModel(backend, Config{})
	require.NoError(t, err)
	dets, err := m.Detect(img)
	require.NoError(t, err)
	assert.Len(t, dets, 2)

	backend.dets = append(backend.dets, iface.Detection{Class: 80})
	_, err = m.Detect(img)
	assert.ErrorIs(t, err, ErrClassOutOfRange)

	m.Destroy()
	assert.True(t, backend.destroyed)
	_, err = m.Detect(img)
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	assert.Equal(t, iface.EngineInfo{Backend: BackendOpenCV, Classes: len(COCONames)}, m.Info())
	m.Destroy()
}

func TestLoadEngineErrors(t *testing.T) {
	_, err := LoadEngine(Config{Backend: "tensorrt"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = LoadEngine(Config{Backend: BackendOpenCV, ModelPath: filepath.Join(t.TempDir(), "yolov8n.onnx")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadEngine(Config{Backend: BackendRemote})
	assert.Error(t, err)
}

func TestRemoteBackend(t *testing.T) {
	var gotPath, gotConf, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotConf = r.URL.Query().Get("conf")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]RemoteResult{
			{Class: 0, Confidence: 0.91, Box: []float32{1, 2, 30, 40}},
			{Class: 2, Confidence: 0.55, Box: []float32{5, 5, 20, 20}},
		})
	}))
	defer srv.Close()

	m, err := LoadEngine(Config{Backend: BackendRemote, RemoteURL: srv.URL + "/", Conf: 0.4})
	require.NoError(t, err)
	defer m.Destroy()

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer img.Close()
	dets, err := m.Detect(img)
	require.NoError(t, err)

	assert.Equal(t, "/api/detect", gotPath)
	assert.Equal(t, "0.4", gotConf)
	assert.Equal(t, "image/png", gotType)
	decoded, err := gocv.IMDecode(gotBody, gocv.IMReadColor)
	require.NoError(t, err)
	defer decoded.Close()
	assert.Equal(t, 64, decoded.Cols())

	require.Len(t, dets, 2)
	assert.Equal(t, iface.NewBox(1, 2, 30, 40), dets[0].Box)
	assert.Equal(t, 2, dets[1].Class)

	info := m.Info()
	assert.Equal(t, BackendRemote, info.Backend)
	assert.Equal(t, srv.URL+"/api/detect", info.Endpoint)
	assert.Equal(t, float32(0.4), info.Conf)
}

func TestRemoteBackendErrors(t *testing.T) {
	img := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer img.Close()

	t.Run("service error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"busy"}`))
		}))
		defer srv.Close()
		d := &RemoteDetector{}
		require.NoError(t, d.LoadModel(iface.EngineConfig{Endpoint: srv.URL, Names: iface.NamesConf{Data: COCONames}}))
		_, err := d.Detect(img)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "busy")
	})

	t.Run("malformed box", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"class":0,"confidence":0.9,"box":[1,2,3]}]`))
		}))
		defer srv.Close()
		d := &RemoteDetector{}
		require.NoError(t, d.LoadModel(iface.EngineConfig{Endpoint: srv.URL, Names: iface.NamesConf{Data: COCONames}}))
		_, err := d.Detect(img)
		assert.Error(t, err)
	})

	t.Run("not loaded", func(t *testing.T) {
		d := &RemoteDetector{}
		_, err := d.Detect(img)
		assert.ErrorIs(t, err, ErrModelNotLoaded)
	})
}
