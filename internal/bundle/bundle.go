// Package bundle packs a session's generated images into a ZIP archive.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
)

// MethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const MethodZstd uint16 = 93

func init() {
	zip.RegisterCompressor(MethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	})
	zip.RegisterDecompressor(MethodZstd, func(r io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return dec.IOReadCloser()
	})
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// Entry is one image in the archive, stored as Name plus the extension of
// its media type.
type Entry struct {
	Name  string
	Image imagefile.ImageRecord
}

// Method selects how entries are compressed.
type Method string

const (
	// Store keeps images as they are; PNG and JPEG are already compressed.
	Store Method = "store"
	Zstd  Method = "zstd"
)

// ParseMethod accepts "", "store" or "zstd".
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", Store:
		return Store, nil
	case Zstd:
		return Zstd, nil
	}
	return "", fmt.Errorf("unknown compression %q", s)
}

func (m Method) zipMethod() uint16 {
	if m == Zstd {
		return MethodZstd
	}
	return zip.Store
}

// Write streams a ZIP archive of entries to w. Empty images are skipped.
func Write(w io.Writer, entries []Entry, method Method, modified time.Time) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if e.Image.IsZero() {
			continue
		}
		hdr := &zip.FileHeader{
			Name:     e.Name + imagefile.ExtensionFor(e.Image.MIMEType()),
			Method:   method.zipMethod(),
			Modified: modified,
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("create %s: %w", hdr.Name, err)
		}
		if _, err := fw.Write(e.Image.Data()); err != nil {
			return fmt.Errorf("write %s: %w", hdr.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}
