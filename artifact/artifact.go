// Package artifact persists the annotated image for the download link.
//
// The output lives at one fixed path and every upload overwrites it without
// locking, so two uploads in flight race on the same file.
package artifact

import (
	"errors"
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

const (
	DefaultOutputPath = "processed_output.png"
	DownloadName      = "visioncount_result.png"
	MimeType          = "image/png"
)

var ErrNoArtifact = errors.New("no processed image yet")

// EncodePNG returns img encoded as PNG.
func EncodePNG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()
	// GetBytes aliases C memory freed by Close
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Write encodes img as PNG and replaces the file at path.
func Write(path string, img gocv.Mat) ([]byte, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return data, nil
}

// Open reopens the last written artifact for streaming to the client.
func Open(path string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNoArtifact
		}
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return f, info, nil
}
