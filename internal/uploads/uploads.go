// Package uploads validates user files and stores them under the upload
// directory, which the API serves at /uploads/.
package uploads

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"pharmacy/m/domain"
)

// Kind describes one family of uploads: where they go and what they may be.
// Types maps a lower-case extension to the content types the sniffed bytes
// may have.
type Kind struct {
	Dir    string
	Prefix string
	Types  map[string][]string
}

var (
	Prescription = Kind{
		Dir:    "prescriptions",
		Prefix: "prescription-",
		Types: map[string][]string{
			".jpg":  {"image/jpeg"},
			".jpeg": {"image/jpeg"},
			".png":  {"image/png"},
			".pdf":  {"application/pdf"},
		},
	}
	MedicalAttachment = Kind{
		Dir:    "medical",
		Prefix: "report-",
		Types: map[string][]string{
			".jpg":  {"image/jpeg"},
			".jpeg": {"image/jpeg"},
			".png":  {"image/png"},
			".pdf":  {"application/pdf"},
			".doc":  {"application/octet-stream"},
			".docx": {"application/zip"},
		},
	}
)

func (k Kind) allowed() string {
	exts := make([]string, 0, len(k.Types))
	for ext := range k.Types {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	slices.Sort(exts)
	return strings.Join(exts, ", ")
}

type Store struct {
	root     string
	maxBytes int64
}

func NewStore(root string, maxBytes int64) *Store {
	return &Store{root: root, maxBytes: maxBytes}
}

func (s *Store) Root() string { return s.root }

func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Save checks the file against kind and writes it under a fresh name. It
// returns the public URL of the stored file.
func (s *Store) Save(kind Kind, filename string, size int64, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	types, ok := kind.Types[ext]
	if !ok {
		return "", fmt.Errorf("%w: only %s files are allowed", domain.ErrInvalidFile, kind.allowed())
	}
	if size > s.maxBytes {
		return "", fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidFile, s.maxBytes)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return "", fmt.Errorf("%w: file is empty", domain.ErrInvalidFile)
	}
	sniffed := http.DetectContentType(head)
	if !matches(sniffed, types) {
		return "", fmt.Errorf("%w: content does not look like a %s file", domain.ErrInvalidFile, strings.TrimPrefix(ext, "."))
	}

	dir := filepath.Join(s.root, kind.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	name := kind.Prefix + uuid.NewString() + ext
	dst := filepath.Join(dir, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	// One byte past the limit tells us the declared size lied.
	written, err := io.Copy(f, io.LimitReader(io.MultiReader(bytes.NewReader(head), r), s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > s.maxBytes {
		err = fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidFile, s.maxBytes)
	}
	if err != nil {
		os.Remove(dst)
		if errors.Is(err, domain.ErrInvalidFile) {
			return "", err
		}
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path.Join("/uploads", kind.Dir, name), nil
}

// Remove deletes a file previously returned by Save. Unknown or foreign
// URLs are ignored.
func (s *Store) Remove(url string) error {
	rel, ok := strings.CutPrefix(url, "/uploads/")
	if !ok || rel == "" {
		return nil
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil
	}
	err := os.Remove(filepath.Join(s.root, clean))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

func matches(sniffed string, types []string) bool {
	mediaType, _, _ := strings.Cut(sniffed, ";")
	return slices.Contains(types, mediaType)
}
