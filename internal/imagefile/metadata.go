package imagefile

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
)

// ImageMetadata holds the EXIF fields worth logging for an uploaded photo.
// Generated images and most PNG/WebP uploads carry none of them.
type ImageMetadata struct {
	CameraMake  string
	CameraModel string

	DateTaken time.Time
	HasDate   bool
}

// HasAny reports whether any field was populated.
func (m *ImageMetadata) HasAny() bool {
	return m.CameraMake != "" || m.CameraModel != "" || m.HasDate
}

// ExtractMetadata reads EXIF metadata from the record's payload.
// Date falls back from DateTimeOriginal to CreateDate.
func ExtractMetadata(rec ImageRecord) (*ImageMetadata, error) {
	exifData, err := imagemeta.Decode(bytes.NewReader(rec.Data()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	meta := &ImageMetadata{
		CameraMake:  strings.TrimSpace(exifData.Make),
		CameraModel: strings.TrimSpace(exifData.Model),
	}

	if t := exifData.DateTimeOriginal(); !t.IsZero() {
		meta.DateTaken = t
		meta.HasDate = true
	} else if t := exifData.CreateDate(); !t.IsZero() {
		meta.DateTaken = t
		meta.HasDate = true
	}

	return meta, nil
}
