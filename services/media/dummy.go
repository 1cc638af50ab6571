package mediasvc

import (
	"context"
	"io"
	"io/ioutil"
	"path"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// dummyStorage keeps uploads in memory and serves deterministic URLs.
// It stands in for a real binary object store in DEV and tests.
type dummyStorage struct {
	mu      sync.Mutex
	baseURL string
	files   map[string][]byte
}

var _ core.FileStorage = (*dummyStorage)(nil) // interface compliance check

func NewDummyStorage() *dummyStorage {
	return &dummyStorage{
		baseURL: "/media",
		files:   make(map[string][]byte),
	}
}

func (s *dummyStorage) Upload(_ context.Context, filename string, content io.Reader) (string, error) {
	data, err := ioutil.ReadAll(content)
	if err != nil {
		return "", errors.Wrap(err, "reading upload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[filename] = data
	return path.Join(s.baseURL, filename), nil
}
