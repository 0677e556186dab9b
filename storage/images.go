// Package storage keeps generated portraits on the local filesystem
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// maxFileNameBytes is NAME_MAX on common filesystems
	maxFileNameBytes = 255
	imageExt         = ".png"
	hashSuffixBytes  = 1 + 8
)

// promptNamespace is the uuid v5 namespace for prompt hashes
var promptNamespace = uuid.NameSpaceURL

// ImageStore writes one image file per prompt under Dir
type ImageStore struct {
	Dir string
}

// NewImageStore creates an image store rooted at dir
func NewImageStore(dir string) *ImageStore {
	return &ImageStore{Dir: dir}
}

// Save writes data for prompt, replacing any earlier file for the same prompt,
// and returns the file path
func (s *ImageStore) Save(prompt string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create image directory %s: %w", s.Dir, err)
	}

	path := filepath.Join(s.Dir, FileName(prompt))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image %s: %w", path, err)
	}
	return path, nil
}

// Read returns the bytes of a stored image
func (s *ImageStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return data, nil
}

// FileName maps a prompt to its file name. Reserved characters become '_';
// prompts that do not fit in a file name are cut and suffixed with a short
// hash of the full prompt.
func FileName(prompt string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return '_'
		}
		switch r {
		case '/', '\\', ':', '?', '*', '<', '>', '|', '"':
			return '_'
		}
		return r
	}, prompt)
	name = strings.TrimSpace(name)

	if len(name)+len(imageExt) > maxFileNameBytes {
		cut := maxFileNameBytes - len(imageExt) - hashSuffixBytes
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = strings.TrimSpace(name[:cut]) + "_" + PromptHash(prompt)
	}
	if name == "" || name == "." || name == ".." {
		name = "image_" + PromptHash(prompt)
	}
	return name + imageExt
}

// PromptHash returns the first 8 hex digits of the SHA-1 based uuid of prompt.
// It is used in file names and logs.
func PromptHash(prompt string) string {
	id := uuid.NewSHA1(promptNamespace, []byte(prompt))
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
