package dao

import (
	"testing"

	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
)

func TestBlobObjectKey(t *testing.T) {
	b := NewBlobs(nil, "bucket", "attachments/")
	key := b.objectKey(BlobMeta{
		MessageID:    42,
		AttachmentID: 7,
		Filename:     "cat.png",
	})
	require.Equal(t, "attachments/42/7_cat.png", key)

	noPrefix := NewBlobs(nil, "bucket", "")
	require.Equal(t, "42/7_cat.png", noPrefix.objectKey(BlobMeta{
		MessageID:    42,
		AttachmentID: 7,
		Filename:     "cat.png",
	}))
}

func TestStorageErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := storageErr("upsert message docu", cause)
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert message docu")
	require.True(t, errors.Is(err, cause))

	require.NoError(t, storageErr("noop", nil))
}
