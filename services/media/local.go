package mediasvc

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// localStorage writes uploads to a directory on disk. The directory is
// expected to be served at baseURL by the web server in front of the API.
type localStorage struct {
	root    string
	baseURL string
}

var _ core.FileStorage = (*localStorage)(nil) // interface compliance check

func NewLocalStorage(root, baseURL string) *localStorage {
	return &localStorage{root: root, baseURL: baseURL}
}

func (s *localStorage) Upload(_ context.Context, filename string, content io.Reader) (string, error) {
	fp := filepath.Join(s.root, filepath.FromSlash(filename))
	if err := os.MkdirAll(filepath.Dir(fp), 0755); err != nil {
		return "", errors.Wrap(err, "creating upload dir")
	}

	dst, err := os.Create(fp)
	if err != nil {
		return "", errors.Wrap(err, "creating upload file")
	}
	defer func() { _ = dst.Close() }()

	if _, err = io.Copy(dst, content); err != nil {
		return "", errors.Wrap(err, "writing upload")
	}
	return path.Join(s.baseURL, filename), nil
}
