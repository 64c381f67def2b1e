package actionstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tealfox/offliner/internal/data"
)

// Store persists the ordered set of pending actions. Load returns the
// actions oldest first; Store atomically replaces the whole set.
type Store interface {
	Load(ctx context.Context) (data.Actions, error)
	Store(ctx context.Context, actions data.Actions) error
}

// FileStore keeps the action set as a JSON array in a single file,
// overwritten via temp-file rename so readers never observe a torn write.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) Load(ctx context.Context) (data.Actions, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var actions data.Actions
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

func (s *FileStore) Store(ctx context.Context, actions data.Actions) error {
	if actions == nil {
		actions = data.Actions{}
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
