package paper

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// XOR applies a single-byte XOR to every byte of data and returns a new
// slice. Applying it twice with the same key restores the input.
func XOR(data []byte, key byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key
	}
	return out
}

// Store keeps downloaded exam papers on disk in their XOR'd form.
type Store struct {
	dir string
	key byte
}

// NewStore creates a paper store rooted at dir.
func NewStore(dir string, key byte) *Store {
	return &Store{dir: dir, key: key}
}

// Path returns the file that holds the paper for an exam number.
func (s *Store) Path(examNumber int) string {
	return filepath.Join(s.dir, strconv.Itoa(examNumber)+".txt")
}

// Exists reports whether the paper for examNumber is cached locally.
func (s *Store) Exists(examNumber int) bool {
	info, err := os.Stat(s.Path(examNumber))
	return err == nil && info.Mode().IsRegular()
}

// Save stores plaintext for examNumber, transformed.
func (s *Store) Save(examNumber int, plaintext []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create paper dir: %w", err)
	}
	if err := os.WriteFile(s.Path(examNumber), XOR(plaintext, s.key), 0o600); err != nil {
		return fmt.Errorf("write paper: %w", err)
	}
	return nil
}

// Load reads the paper for examNumber and reverses the transform.
func (s *Store) Load(examNumber int) (string, error) {
	raw, err := os.ReadFile(s.Path(examNumber))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("paper %d not cached: %w", examNumber, err)
		}
		return "", fmt.Errorf("read paper: %w", err)
	}
	return string(XOR(raw, s.key)), nil
}

// Remove deletes the cached paper for examNumber. A missing file is not an
// error.
func (s *Store) Remove(examNumber int) error {
	if err := os.Remove(s.Path(examNumber)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove paper: %w", err)
	}
	return nil
}
