package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// singletonFile is the well-known progress file used in singleton mode.
const singletonFile = "parsing_progress.json"

// fileStore keeps one JSON document per tracker. Writes go through a temp
// file and a rename so readers never see a torn document.
type fileStore struct {
	dir string
}

func newFileStore(dir string) (*fileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *fileStore) write(name string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(name))
}

func (s *fileStore) read(name string) (State, error) {
	var st State
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(data, &st)
	return st, err
}

func (s *fileStore) remove(name string) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// sweep deletes progress files left behind by a previous process.
func (s *fileStore) sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".json") || strings.Contains(name, ".json.tmp")) {
			continue
		}
		if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, err
		}
		n++
	}
	return n, nil
}
