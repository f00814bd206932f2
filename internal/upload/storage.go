// Package upload validates and stores widget file uploads on local disk.
// It sits in front of the message lifecycle: the core only ever sees
// attachment tuples that already passed the size and type policy here.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrFileTooLarge is returned when an upload exceeds the size cap.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrFileType is returned when an upload's MIME type is not allowed.
	ErrFileType = errors.New("file type not allowed")
)

// DefaultAllowedTypes mirrors the widget's upload policy: images, PDFs, and
// plain text.
var DefaultAllowedTypes = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"application/pdf",
	"text/plain",
}

// SavedFile describes one validated, stored upload.
type SavedFile struct {
	StoredName   string
	OriginalName string
	MimeType     string
	SizeBytes    int64
	Path         string
}

// Store validates uploads against a size/type policy and writes them under
// Dir with collision-free names. Zero-value fields fall back to defaults
// (10 MiB, DefaultAllowedTypes).
type Store struct {
	Dir          string
	MaxBytes     int64
	AllowedTypes []string
}

const defaultMaxBytes = 10 << 20

// Save validates fh and writes it to disk, returning the stored tuple.
// Rejections (ErrFileTooLarge, ErrFileType) happen before anything is
// written.
func (s *Store) Save(fh *multipart.FileHeader) (*SavedFile, error) {
	maxBytes := s.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if fh.Size > maxBytes {
		return nil, ErrFileTooLarge
	}

	mimeType := fh.Header.Get("Content-Type")
	if !s.allowed(mimeType) {
		return nil, ErrFileType
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	storedName := uuid.NewString() + safeExt(fh.Filename)
	path := filepath.Join(s.Dir, storedName)

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create stored file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, io.LimitReader(src, maxBytes+1))
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write stored file: %w", err)
	}
	// The header size is client-supplied; re-check what actually arrived.
	if n > maxBytes {
		os.Remove(path)
		return nil, ErrFileTooLarge
	}

	return &SavedFile{
		StoredName:   storedName,
		OriginalName: filepath.Base(fh.Filename),
		MimeType:     mimeType,
		SizeBytes:    n,
		Path:         path,
	}, nil
}

// allowed reports whether mimeType passes the policy.
func (s *Store) allowed(mimeType string) bool {
	types := s.AllowedTypes
	if len(types) == 0 {
		types = DefaultAllowedTypes
	}
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	for _, t := range types {
		if mt == t {
			return true
		}
	}
	return false
}

// safeExt returns a lowercase extension stripped of anything but
// alphanumerics, or "" when the original name has none.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
