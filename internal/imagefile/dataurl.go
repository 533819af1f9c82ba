package imagefile

import (
	"encoding/base64"
	"strings"

	"github.com/fpang/ai-virtual-stylist/internal/failure"
)

// DataURL is the display form of an image: "data:<mime>;base64,<payload>".
type DataURL string

func (u DataURL) String() string {
	return string(u)
}

// DataURL encodes the record in its display form.
func (r ImageRecord) DataURL() DataURL {
	return MakeDataURL(r.mimeType, r.data)
}

// MakeDataURL builds a data URL from a media type and raw payload.
func MakeDataURL(mimeType string, data []byte) DataURL {
	return DataURL("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// ParseDataURL splits a data URL back into a record. The payload is not
// re-validated as an image: it came from a generation call, not an upload.
// A header without a media type ("data:;base64,") yields DefaultMIMEType.
func ParseDataURL(u DataURL) (ImageRecord, error) {
	s := string(u)
	if !strings.HasPrefix(s, "data:") {
		return ImageRecord{}, failure.Intake("not a data URL", nil)
	}
	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return ImageRecord{}, failure.Intake("data URL has no payload", nil)
	}
	mimeType, encoding, ok := strings.Cut(header, ";")
	if !ok || encoding != "base64" {
		return ImageRecord{}, failure.Intake("data URL is not base64 encoded", nil)
	}
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return ImageRecord{}, failure.Intake("data URL payload is not valid base64", err)
	}
	if len(data) == 0 {
		return ImageRecord{}, failure.Intake("data URL payload is empty", nil)
	}
	return ImageRecord{data: data, mimeType: mimeType}, nil
}
