// Package imagefile turns uploaded bytes into normalized image records and
// converts records to and from the self-describing data URLs the rest of the
// application displays.
//
// Only PNG, JPEG and WebP are accepted. The media type is always taken from
// the bytes themselves; the type a caller claims is a hint that is checked,
// never trusted.
package imagefile

import (
	"fmt"
	"strings"

	// Decoders used by image.DecodeConfig during intake.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Media types accepted at the upload boundary.
const (
	MIMETypePNG  = "image/png"
	MIMETypeJPEG = "image/jpeg"
	MIMETypeWebP = "image/webp"
)

// DefaultMIMEType is substituted when a data URL omits its media type.
const DefaultMIMEType = MIMETypePNG

// SupportedImageExtensions maps file extensions to the media types accepted for upload.
var SupportedImageExtensions = map[string]string{
	".jpg":  MIMETypeJPEG,
	".jpeg": MIMETypeJPEG,
	".png":  MIMETypePNG,
	".webp": MIMETypeWebP,
}

// extensionsByMIME is the preferred extension when writing a record to disk or S3.
var extensionsByMIME = map[string]string{
	MIMETypeJPEG: ".jpg",
	MIMETypePNG:  ".png",
	MIMETypeWebP: ".webp",
}

// GetMIMEType returns the media type for a file extension.
func GetMIMEType(ext string) (string, error) {
	if mimeType, ok := SupportedImageExtensions[strings.ToLower(ext)]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsSupportedMIMEType reports whether mimeType is accepted at the upload boundary.
func IsSupportedMIMEType(mimeType string) bool {
	_, ok := extensionsByMIME[normalizeMIME(mimeType)]
	return ok
}

// ExtensionFor returns the file extension for a media type, ".bin" when unknown.
func ExtensionFor(mimeType string) string {
	if ext, ok := extensionsByMIME[normalizeMIME(mimeType)]; ok {
		return ext
	}
	return ".bin"
}

// normalizeMIME lowercases a media type and strips parameters such as charset.
func normalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "image/jpg" {
		return MIMETypeJPEG
	}
	return mimeType
}
