// Package frame parses and prepares the encoded webcam frames clients upload.
package frame

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"

	"mirror/internal/domain"
)

const (
	prefix = "data:image/"
	// MaxEdge bounds the longest side of frames sent to models.
	MaxEdge = 1024
)

// Image is a decoded-enough frame: raw bytes plus the header facts models and
// storage need.
type Image struct {
	MediaType string
	Format    string
	Data      []byte
	Width     int
	Height    int
}

// Parse validates a base64 data URI. It rejects anything without an image
// media type before a model ever sees it.
func Parse(field, raw string) (Image, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Image{}, domain.Invalid(field, "required")
	}
	if !strings.HasPrefix(raw, prefix) {
		return Image{}, domain.Invalid(field, "missing image media type")
	}
	header, payload, ok := strings.Cut(raw, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return Image{}, domain.Invalid(field, "expected a base64 data uri")
	}
	mediaType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return Image{}, domain.Invalid(field, "malformed base64 payload")
		}
	}
	if len(data) == 0 {
		return Image{}, domain.Invalid(field, "empty image")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, domain.Invalid(field, "unsupported or corrupt image")
	}
	return Image{
		MediaType: mediaType,
		Format:    format,
		Data:      data,
		Width:     cfg.Width,
		Height:    cfg.Height,
	}, nil
}

// DataURI re-encodes the frame for model inputs that take inline images.
func (img Image) DataURI() string {
	return "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Ext is the file extension matching the decoded format.
func (img Image) Ext() string {
	if img.Format == "jpeg" {
		return "jpg"
	}
	return img.Format
}

// ContentType is the media type derived from the decoded format rather than
// the client's claim.
func (img Image) ContentType() string {
	return "image/" + img.Format
}

// Downscale returns img resized so neither side exceeds maxEdge. Frames that
// already fit are returned untouched.
func Downscale(img Image, maxEdge int) (Image, error) {
	if maxEdge <= 0 || (img.Width <= maxEdge && img.Height <= maxEdge) {
		return img, nil
	}
	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return img, fmt.Errorf("decode frame: %w", err)
	}
	resized := imaging.Fit(src, maxEdge, maxEdge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return img, fmt.Errorf("encode frame: %w", err)
	}
	bounds := resized.Bounds()
	return Image{
		MediaType: "image/jpeg",
		Format:    "jpeg",
		Data:      buf.Bytes(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}, nil
}
