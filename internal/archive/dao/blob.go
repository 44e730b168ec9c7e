// Package dao is the data access object for the archive store.
package dao

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/minio/minio-go/v7"
)

// BlobMeta describes a stored attachment payload.
type BlobMeta struct {
	MessageID    int64
	AttachmentID int64
	Filename     string
	ContentType  string
}

// Blobs stores oversized attachment payloads in a companion object store.
// The primary store keeps only the returned key.
type Blobs struct {
	cli    *minio.Client
	bucket string
	prefix string
}

// NewBlobs create new Blobs
func NewBlobs(cli *minio.Client, bucket, prefix string) *Blobs {
	return &Blobs{
		cli:    cli,
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

func (b *Blobs) objectKey(meta BlobMeta) string {
	key := fmt.Sprintf("%d/%d_%s", meta.MessageID, meta.AttachmentID, meta.Filename)
	if b.prefix == "" {
		return key
	}

	return b.prefix + "/" + key
}

// Put persists one attachment payload and returns its opaque key.
func (b *Blobs) Put(ctx context.Context, data []byte, meta BlobMeta) (key string, err error) {
	logger := gmw.GetLogger(ctx).Named("archive_blob_put")

	key = b.objectKey(meta)
	_, err = b.cli.PutObject(ctx,
		b.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: meta.ContentType,
		},
	)
	if err != nil {
		return "", errors.Wrap(err, "upload blob")
	}

	logger.Debug("stored blob",
		zap.String("key", key),
		zap.Int("size", len(data)))
	return key, nil
}

// Remove deletes one stored payload by key.
func (b *Blobs) Remove(ctx context.Context, key string) error {
	if err := b.cli.RemoveObject(ctx, b.bucket, key,
		minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrapf(err, "remove blob `%s`", key)
	}

	return nil
}
