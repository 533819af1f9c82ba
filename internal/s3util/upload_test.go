package s3util

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func pngRecord(t *testing.T) imagefile.ImageRecord {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	rec, err := imagefile.New(buf.Bytes(), "")
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestArtifactKey(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/png", "sess-1/composite.png"},
		{"image/jpeg", "sess-1/composite.jpg"},
		{"image/webp", "sess-1/composite.webp"},
	}
	for _, tt := range tests {
		if got := ArtifactKey("sess-1", "composite", tt.mime); got != tt.want {
			t.Errorf("ArtifactKey(%s) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestUploadArtifact(t *testing.T) {
	rec := pngRecord(t)
	fake := &fakePutter{}

	key, err := UploadArtifact(context.Background(), fake, "bucket", "sess-1", "final", rec)
	if err != nil {
		t.Fatalf("UploadArtifact() error = %v", err)
	}
	if key != "sess-1/final.png" {
		t.Errorf("key = %q", key)
	}
	if *fake.input.Bucket != "bucket" || *fake.input.ContentType != "image/png" {
		t.Errorf("input = %+v", fake.input)
	}
	if *fake.input.Tagging != projectTag {
		t.Errorf("Tagging = %q", *fake.input.Tagging)
	}
	if !bytes.Equal(fake.body, rec.Data()) {
		t.Error("uploaded body differs from record")
	}
}

func TestUploadArtifactErrors(t *testing.T) {
	if _, err := UploadArtifact(context.Background(), &fakePutter{}, "b", "s", "final", imagefile.ImageRecord{}); err == nil {
		t.Error("expected error for empty record")
	}

	fake := &fakePutter{err: errors.New("access denied")}
	if _, err := UploadArtifact(context.Background(), fake, "b", "s", "final", pngRecord(t)); err == nil {
		t.Error("expected error from PutObject")
	}
}
