package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidName rejects file names that could escape the store directory.
var ErrInvalidName = errors.New("invalid audio file name")

var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// FileStore keeps per-call transient audio under one directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "audio_files"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// RecordingName is the file holding the caller's latest recording.
func RecordingName(callID string) string { return callID + ".wav" }

// ReplyName is the file holding the latest synthesized reply.
func ReplyName(callID string) string { return "reply_" + callID + ".wav" }

// Path resolves name inside the store directory.
func (s *FileStore) Path(name string) (string, error) {
	if !safeName.MatchString(name) || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), nil
}

// Save writes data to name, replacing any previous content.
func (s *FileStore) Save(name string, data []byte) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write audio: %w", err)
	}
	return path, nil
}

// Release deletes the transient files of one call. Missing files are ignored.
func (s *FileStore) Release(callID string) error {
	var errs []error
	for _, name := range []string{RecordingName(callID), ReplyName(callID)} {
		path, err := s.Path(name)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
