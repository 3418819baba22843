package objectstore

import "context"

// MediaStore persists message media blobs, addressed by content hash so
// re-ingesting the same photo never uploads twice.
type MediaStore interface {
	UploadMedia(ctx context.Context, hash string, data []byte, contentType string) (url string, err error)
	DeleteMedia(ctx context.Context, hash string) error
}
