package imagefile

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/ai-virtual-stylist/internal/failure"
	"github.com/rs/zerolog/log"
)

// DefaultMaxUploadBytes bounds Read when the caller passes a non-positive limit.
const DefaultMaxUploadBytes = 20 << 20

// ImageRecord is an immutable in-memory image: the raw payload plus its media type.
// Construct one with New, Read, Load, or ParseDataURL.
type ImageRecord struct {
	data     []byte
	mimeType string
}

// Data returns the raw payload. Callers must not modify the returned slice.
func (r ImageRecord) Data() []byte {
	return r.data
}

// MIMEType returns the media type, e.g. "image/png".
func (r ImageRecord) MIMEType() string {
	return r.mimeType
}

// Size returns the payload length in bytes.
func (r ImageRecord) Size() int {
	return len(r.data)
}

// IsZero reports whether r holds no payload.
func (r ImageRecord) IsZero() bool {
	return len(r.data) == 0
}

// New validates raw upload bytes and returns a record for them.
//
// The media type is sniffed from the content. claimedMIME is only compared
// against it: an empty or wrong claim is replaced by the sniffed type. Empty
// input, formats other than PNG/JPEG/WebP, and headers that fail to decode
// return an intake failure.
func New(data []byte, claimedMIME string) (ImageRecord, error) {
	if len(data) == 0 {
		return ImageRecord{}, failure.Intake("image is empty", nil)
	}

	sniffed := normalizeMIME(http.DetectContentType(data))
	if !IsSupportedMIMEType(sniffed) {
		return ImageRecord{}, failure.Intake(fmt.Sprintf("unsupported media type %s (want PNG, JPEG or WebP)", sniffed), nil)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageRecord{}, failure.Intake("unreadable image", err)
	}

	claimed := normalizeMIME(claimedMIME)
	if claimed != "" && claimed != sniffed {
		log.Warn().
			Str("claimed_mime", claimedMIME).
			Str("sniffed_mime", sniffed).
			Msg("Claimed media type does not match content, using sniffed type")
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	log.Debug().
		Str("mime_type", sniffed).
		Str("format", format).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("size_bytes", len(data)).
		Msg("Image accepted")

	return ImageRecord{data: buf, mimeType: sniffed}, nil
}

// Read consumes at most limit bytes from r and returns a validated record.
// A non-positive limit means DefaultMaxUploadBytes.
func Read(r io.Reader, claimedMIME string, limit int64) (ImageRecord, error) {
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return ImageRecord{}, failure.Intake("failed to read upload", err)
	}
	if int64(len(data)) > limit {
		return ImageRecord{}, failure.Intake(fmt.Sprintf("image exceeds the %d byte upload limit", limit), nil)
	}
	return New(data, claimedMIME)
}

// Load reads an image file from disk. The extension supplies the claimed media type.
func Load(path string) (ImageRecord, error) {
	return LoadLimit(path, 0)
}

// LoadLimit is Load with a size cap checked before the file is read.
// A non-positive limit means no cap.
func LoadLimit(path string, limit int64) (ImageRecord, error) {
	log.Debug().Str("path", path).Int64("limit", limit).Msg("Loading image file")

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ImageRecord{}, failure.Intake(fmt.Sprintf("file not found: %s", path), nil)
		}
		return ImageRecord{}, failure.Intake("failed to stat file", err)
	}
	if info.IsDir() {
		return ImageRecord{}, failure.Intake(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}
	if limit > 0 && info.Size() > limit {
		return ImageRecord{}, failure.Intake(fmt.Sprintf("image exceeds the %d byte upload limit", limit), nil)
	}

	claimed, err := GetMIMEType(filepath.Ext(path))
	if err != nil {
		return ImageRecord{}, failure.Intake(err.Error(), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return ImageRecord{}, failure.Intake("failed to open file", err)
	}
	defer f.Close()

	rec, err := Read(f, claimed, info.Size())
	if err != nil {
		return ImageRecord{}, err
	}

	log.Info().
		Str("path", path).
		Str("mime_type", rec.MIMEType()).
		Int("size_bytes", rec.Size()).
		Msg("Image file loaded")

	if meta, err := ExtractMetadata(rec); err == nil && meta.HasAny() {
		log.Debug().
			Str("path", path).
			Str("camera", strings.TrimSpace(meta.CameraMake+" "+meta.CameraModel)).
			Time("date_taken", meta.DateTaken).
			Msg("Image metadata")
	}

	return rec, nil
}

// Save writes the record to dir/baseName plus an extension derived from its
// media type, creating dir if needed. It returns the written path.
func Save(rec ImageRecord, dir, baseName string) (string, error) {
	if rec.IsZero() {
		return "", fmt.Errorf("refusing to save empty image %q", baseName)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, baseName+ExtensionFor(rec.MIMEType()))
	if err := os.WriteFile(path, rec.Data(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("size_bytes", rec.Size()).Msg("Image saved")
	return path, nil
}
