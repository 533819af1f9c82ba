package imagefile

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// fitJPEGQuality is the encoder quality for downscaled JPEG inputs.
const fitJPEGQuality = 90

// Fit returns rec downscaled so that neither side exceeds maxDimension,
// preserving aspect ratio. Records already within bounds, or a non-positive
// maxDimension, return rec unchanged. JPEG input is re-encoded as JPEG;
// PNG and WebP are re-encoded as PNG.
func Fit(rec ImageRecord, maxDimension int) (ImageRecord, error) {
	if maxDimension <= 0 || rec.IsZero() {
		return rec, nil
	}

	src, _, err := image.Decode(bytes.NewReader(rec.Data()))
	if err != nil {
		return ImageRecord{}, fmt.Errorf("failed to decode image for resize: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxDimension && height <= maxDimension {
		return rec, nil
	}

	newWidth, newHeight := scaledSize(width, height, maxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	mimeType := MIMETypePNG
	if rec.MIMEType() == MIMETypeJPEG {
		mimeType = MIMETypeJPEG
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: fitJPEGQuality})
	} else {
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return ImageRecord{}, fmt.Errorf("failed to encode resized image: %w", err)
	}

	log.Debug().
		Int("from_width", width).
		Int("from_height", height).
		Int("to_width", newWidth).
		Int("to_height", newHeight).
		Int("from_bytes", rec.Size()).
		Int("to_bytes", buf.Len()).
		Msg("Downscaled image before generation")

	return ImageRecord{data: buf.Bytes(), mimeType: mimeType}, nil
}

// scaledSize shrinks width x height so the longer side equals maxDimension.
func scaledSize(width, height, maxDimension int) (int, int) {
	if width >= height {
		h := height * maxDimension / width
		if h < 1 {
			h = 1
		}
		return maxDimension, h
	}
	w := width * maxDimension / height
	if w < 1 {
		w = 1
	}
	return w, maxDimension
}
