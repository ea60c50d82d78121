// Package web is the single page front end: upload an image, see the
// original next to the annotated copy with per-class counts, download it.
package web

import (
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"VisionCount/artifact"
	iface "VisionCount/interface"
	"VisionCount/logger"
	"VisionCount/monitor"
	"VisionCount/processor"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed index.html
var indexHTML []byte

// AllowedExtensions are the upload types the page accepts, with the MIME
// type used to echo the original back.
var AllowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// Model is the loaded detector as seen by the handlers.
type Model interface {
	processor.Detector
	Names() []string
	Info() iface.EngineInfo
}

// Timeouts bound one HTTP exchange, upload and inference included.
type Timeouts struct {
	ReadHeader time.Duration
	Read       time.Duration
	Write      time.Duration
	Idle       time.Duration
}

type Server struct {
	model         Model
	proc          *processor.Processor
	outputPath    string
	progressPause time.Duration
}

func NewServer(model Model, outputPath string) *Server {
	if outputPath == "" {
		outputPath = artifact.DefaultOutputPath
	}
	return &Server{
		model:         model,
		proc:          processor.New(model),
		outputPath:    outputPath,
		progressPause: ProgressPause,
	}
}

type detectResponse struct {
	RequestID string                 `json:"requestID"`
	Counts    []processor.LabelCount `json:"counts"`
	Total     int                    `json:"total"`
	Original  string                 `json:"original"`
	Processed string                 `json:"processed"`
	Download  string                 `json:"download"`
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Router wires every route onto a fresh gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())
	r.MaxMultipartMemory = 32 << 20
	r.GET("/", s.index)
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/labels", s.labels)
	r.GET("/api/engine", s.engine)
	r.POST("/api/detect", s.detect)
	r.GET("/api/download", s.download)
	r.GET("/ws/progress", s.progress)
	return r
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) labels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.model.Names()})
}

func (s *Server) engine(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.model.Info()})
}

// HTTPServer wraps Router in an http.Server listening on port.
func (s *Server) HTTPServer(port int, t Timeouts) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: t.ReadHeader,
		ReadTimeout:       t.Read,
		WriteTimeout:      t.Write,
		IdleTimeout:       t.Idle,
	}
}

func (s *Server) detect(c *gin.Context) {
	requestID := uuid.NewString()
	log := logger.Log().With(zap.String("requestID", requestID))

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	mime, ok := AllowedExtensions[ext]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type " + ext + ", expected jpg, jpeg or png"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	raw, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}

	img, err := processor.DecodeImage(raw)
	defer img.Close()
	if err != nil {
		log.Warn("undecodable upload", zap.String("filename", file.Filename), zap.Int("bytes", len(raw)))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	annotated, counts, err := s.proc.Annotate(img)
	if err != nil {
		log.Error("inference failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	took := time.Since(start)

	processed, err := artifact.Write(s.outputPath, annotated)
	if err != nil {
		log.Error("write artifact failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	monitor.ObserveCounts(monitor.TransportHTTP, counts.Map(), took)
	log.Info("upload processed",
		zap.String("filename", file.Filename),
		zap.Int("width", annotated.Cols()),
		zap.Int("height", annotated.Rows()),
		zap.Int("detections", counts.Total()),
		zap.Any("counts", counts.List()),
		zap.Duration("took", took))

	c.JSON(http.StatusOK, detectResponse{
		RequestID: requestID,
		Counts:    counts.List(),
		Total:     counts.Total(),
		Original:  dataURL(mime, raw),
		Processed: dataURL(artifact.MimeType, processed),
		Download:  "/api/download",
	})
}

func (s *Server) download(c *gin.Context) {
	f, info, err := artifact.Open(s.outputPath)
	if err != nil {
		if errors.Is(err, artifact.ErrNoArtifact) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	c.DataFromReader(http.StatusOK, info.Size(), artifact.MimeType, f, map[string]string{
		"Content-Disposition": `attachment; filename="` + artifact.DownloadName + `"`,
	})
}
