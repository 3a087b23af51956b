package uploads

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy/m/domain"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	pdfBytes = []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
)

func TestSaveStoresFileUnderKindDir(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, 1024)

	url, err := store.Save(Prescription, "scan.PNG", int64(len(pngBytes)), bytes.NewReader(pngBytes))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/prescriptions/prescription-"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)

	stored, err := os.ReadFile(filepath.Join(root, "prescriptions", filepath.Base(url)))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, stored)

	require.NoError(t, store.Remove(url))
	_, err = os.Stat(filepath.Join(root, "prescriptions", filepath.Base(url)))
	assert.True(t, os.IsNotExist(err))
}

func TestSaveRejectsInvalidFiles(t *testing.T) {
	store := NewStore(t.TempDir(), 1024)

	tests := []struct {
		name     string
		kind     Kind
		filename string
		size     int64
		body     []byte
	}{
		{"disallowed extension", Prescription, "notes.txt", 5, []byte("hello")},
		{"docx is not a prescription", Prescription, "letter.docx", 5, []byte("PK\x03\x04x")},
		{"content mismatch", Prescription, "fake.pdf", 11, []byte("hello world")},
		{"declared size too large", Prescription, "big.pdf", 4096, pdfBytes},
		{"actual size too large", Prescription, "liar.pdf", 10, append(append([]byte{}, pdfBytes...), bytes.Repeat([]byte("x"), 2048)...)},
		{"empty", MedicalAttachment, "empty.pdf", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Save(tt.kind, tt.filename, tt.size, bytes.NewReader(tt.body))
			require.ErrorIs(t, err, domain.ErrInvalidFile)
		})
	}

	entries, _ := os.ReadDir(filepath.Join(store.Root(), "prescriptions"))
	assert.Empty(t, entries, "rejected uploads leave nothing behind")
}

func TestMedicalAttachmentAcceptsDocuments(t *testing.T) {
	store := NewStore(t.TempDir(), 1024)

	url, err := store.Save(MedicalAttachment, "result.pdf", int64(len(pdfBytes)), bytes.NewReader(pdfBytes))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/medical/report-"), url)

	docx := append([]byte("PK\x03\x04"), bytes.Repeat([]byte{1}, 40)...)
	_, err = store.Save(MedicalAttachment, "letter.docx", int64(len(docx)), bytes.NewReader(docx))
	require.NoError(t, err)
}

func TestRemoveIgnoresForeignPaths(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	store := NewStore(root, 1024)
	require.NoError(t, store.Remove("https://example.com/a.png"))
	require.NoError(t, store.Remove("/uploads/../../"+filepath.Base(outside)))
	require.NoError(t, store.Remove("/uploads/prescriptions/missing.png"))

	_, err := os.Stat(outside)
	assert.NoError(t, err)
}
