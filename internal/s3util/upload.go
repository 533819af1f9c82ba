// Package s3util exports generated images to S3 and signs download links
// for them.
package s3util

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
)

// ObjectPutter is the part of *s3.Client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArtifactKey returns the object key for a session's stage output,
// "<session>/<stage>.<ext>".
func ArtifactKey(sessionID, stage, mimeType string) string {
	return fmt.Sprintf("%s/%s%s", sessionID, stage, imagefile.ExtensionFor(mimeType))
}

// UploadArtifact stores rec under ArtifactKey and returns the key.
func UploadArtifact(ctx context.Context, client ObjectPutter, bucket, sessionID, stage string, rec imagefile.ImageRecord) (string, error) {
	if rec.IsZero() {
		return "", fmt.Errorf("upload %s artifact: empty image", stage)
	}
	key := ArtifactKey(sessionID, stage, rec.MIMEType())

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("size", rec.Size()).
		Msg("Uploading artifact to S3")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(rec.Data()),
		ContentType:   aws.String(rec.MIMEType()),
		ContentLength: aws.Int64(int64(rec.Size())),
		Tagging:       ProjectTagging(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s artifact to S3: %w", stage, err)
	}

	log.Info().Str("key", key).Msg("Artifact uploaded to S3")
	return key, nil
}

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object.
func GeneratePresignedURL(ctx context.Context, presignClient *s3.PresignClient, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}
