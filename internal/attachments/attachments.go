// Package attachments manages the flat directory of locally stored binary
// files referenced by notes: uploaded images and generated PDFs.
package attachments

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"

	_ "image/gif"
	_ "image/png"

	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/apperr"
)

// DirName is the attachments directory inside the data directory.
const DirName = "attachments"

// jpegQuality matches the historical client's compression setting.
const jpegQuality = 80

// Manager stores and retrieves attachment files. Filenames are random
// identifiers, not content hashes: saving identical bytes twice produces
// two distinct files.
type Manager struct {
	dir    string
	logger *slog.Logger
}

// New creates a manager rooted at dataDir. The attachments directory itself
// is created lazily on first write.
func New(dataDir string, logger *slog.Logger) *Manager {
	return &Manager{dir: filepath.Join(dataDir, DirName), logger: logger}
}

// Dir returns the attachments directory path.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) ensureDir() error {
	return os.MkdirAll(m.dir, 0o755)
}

// SaveImage re-encodes the image as JPEG and writes it under a fresh random
// filename, which is returned. Any decode, encode, or write problem is
// reported as a write failure.
func (m *Manager) SaveImage(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("attachments: decode image: %v: %w", err, apperr.ErrWriteFailure)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("attachments: encode jpeg: %v: %w", err, apperr.ErrWriteFailure)
	}

	filename := uuid.New().String() + ".jpg"
	if err := m.writeFile(filename, buf.Bytes()); err != nil {
		return "", err
	}
	return filename, nil
}

// LoadImage reads an attachment's raw bytes. A blank filename is NotFound
// without touching the disk.
func (m *Manager) LoadImage(filename string) ([]byte, error) {
	if filename == "" {
		return nil, apperr.ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(m.dir, filepath.Base(filename)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("attachments: read %s: %w", filename, err)
	}
	return data, nil
}

// DeleteImage removes an attachment, best-effort. Missing files are fine;
// real failures are logged, never returned. Legacy records stored absolute
// paths, so only the base name is honored.
func (m *Manager) DeleteImage(filename string) {
	if filename == "" {
		return
	}
	path := filepath.Join(m.dir, filepath.Base(filename))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}
	if err := os.Remove(path); err != nil {
		m.logger.Warn("attachments: delete failed", slog.String("file", filename), slog.String("error", err.Error()))
	}
}

// SavePDF writes rendered PDF bytes under the given filename. On failure no
// file is left behind.
func (m *Manager) SavePDF(filename string, data []byte) error {
	return m.writeFile(filepath.Base(filename), data)
}

// DeletePDF removes a generated PDF, with the same best-effort semantics as
// DeleteImage.
func (m *Manager) DeletePDF(filename string) {
	m.DeleteImage(filename)
}

// writeFile writes via a temp file and rename so a failed write never
// leaves a partial attachment.
func (m *Manager) writeFile(filename string, data []byte) error {
	if err := m.ensureDir(); err != nil {
		return fmt.Errorf("attachments: mkdir: %v: %w", err, apperr.ErrWriteFailure)
	}
	tmp, err := os.CreateTemp(m.dir, ".ansuz-att-*")
	if err != nil {
		return fmt.Errorf("attachments: create temp: %v: %w", err, apperr.ErrWriteFailure)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("attachments: write %s: %v: %w", filename, err, apperr.ErrWriteFailure)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("attachments: close %s: %v: %w", filename, err, apperr.ErrWriteFailure)
	}
	if err := os.Rename(tmpName, filepath.Join(m.dir, filename)); err != nil {
		return fmt.Errorf("attachments: rename %s: %v: %w", filename, err, apperr.ErrWriteFailure)
	}
	success = true
	return nil
}
