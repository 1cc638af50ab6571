package core

import (
	"context"
	"io"
)

// FileStorage is any service that can store an uploaded binary object
// (avatars, payment slips) and hand back a retrievable URL.
type FileStorage interface {
	Upload(ctx context.Context, filename string, content io.Reader) (url string, err error)
}
